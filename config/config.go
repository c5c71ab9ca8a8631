// Package config loads the YAML settings an RSSI endpoint binary needs
// at startup: Controller negotiation defaults, Pool sizing, and which
// Transport to bring up.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig is the process-wide configuration, set once by ReadConfig in
// main before anything else touches it, the same way the teacher's
// command binaries set config.AppConfig before constructing their core.
var AppConfig *Config

// Config mirrors a config.yaml file. Zero-valued fields are filled in by
// ApplyDefaults from this package's defaultXxx constants, which carry the
// same values as the rssi package's request constants.
type Config struct {
	// Transport selects which rssi.Transport implementation a cmd/
	// binary should construct: "udp" or "rawip".
	Transport string `yaml:"transport"`

	ServiceIP   string `yaml:"serviceIP"`
	ServicePort int    `yaml:"servicePort"`
	ProtocolID  int    `yaml:"protocolID"`

	SegmentSize   int `yaml:"segmentSize"`
	LocMaxBuffers int `yaml:"locMaxBuffers"`
	TimeoutUnit   int `yaml:"timeoutUnit"`

	RetranTout int `yaml:"retranTout"`
	CumAckTout int `yaml:"cumAckTout"`
	NullTout   int `yaml:"nullTout"`
	MaxRetran  int `yaml:"maxRetran"`
	MaxCumAck  int `yaml:"maxCumAck"`

	PayloadPoolSize int `yaml:"payloadPoolSize"`

	Debug bool `yaml:"debug"`
}

// ReadConfig loads and validates a YAML config file, applying defaults
// for anything left unset, mirroring the teacher's
// config.ReadConfig/LoadConfig call sites in its test/ binaries.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.SegmentSize == 0 {
		c.SegmentSize = defaultSegmentSize
	}
	if c.LocMaxBuffers == 0 {
		c.LocMaxBuffers = defaultLocMaxBuffers
	}
	if c.TimeoutUnit == 0 {
		c.TimeoutUnit = defaultTimeoutUnit
	}
	if c.RetranTout == 0 {
		c.RetranTout = defaultRetranTout
	}
	if c.CumAckTout == 0 {
		c.CumAckTout = defaultCumAckTout
	}
	if c.NullTout == 0 {
		c.NullTout = defaultNullTout
	}
	if c.MaxRetran == 0 {
		c.MaxRetran = defaultMaxRetran
	}
	if c.MaxCumAck == 0 {
		c.MaxCumAck = defaultMaxCumAck
	}
	if c.PayloadPoolSize == 0 {
		c.PayloadPoolSize = defaultPayloadPoolSize
	}
}

// These duplicate rssi's request defaults rather than importing the rssi
// package, so config has no dependency on rssi.
const (
	defaultSegmentSize     = 1024
	defaultLocMaxBuffers   = 32
	defaultTimeoutUnit     = 3
	defaultRetranTout      = 50
	defaultCumAckTout      = 5
	defaultNullTout        = 3000
	defaultMaxRetran       = 15
	defaultMaxCumAck       = 2
	defaultPayloadPoolSize = 128
)
