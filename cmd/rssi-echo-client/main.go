// Command rssi-echo-client dials an rssi-echo-server over transport/udp,
// sends timestamped packets at a fixed interval, and logs the echoed
// reply, the rssi-go analogue of the teacher's test/echoclient.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/rssi-go/application"
	"github.com/Clouded-Sabre/rssi-go/config"
	"github.com/Clouded-Sabre/rssi-go/rssi"
	"github.com/Clouded-Sabre/rssi-go/transport/udp"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8901", "echo server address")
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	interval := flag.Duration("interval", 500*time.Millisecond, "interval between packets")
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		log.Printf("config: %v, falling back to defaults", err)
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	config.AppConfig = cfg

	tran, err := udp.Dial(*serverAddr, cfg.SegmentSize+64, cfg.PayloadPoolSize)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer tran.Close()

	connID := rand.Uint32()
	c := rssi.NewController(uint32(cfg.SegmentSize), connID, tran)
	tran.Attach(c)
	defer c.Close()

	endpoint := application.NewEndpoint(c)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down")
		c.Close()
		os.Exit(0)
	}()

	log.Printf("rssi echo client connected to %s, sending every %v\n", *serverAddr, *interval)

	buf := make([]byte, cfg.SegmentSize)
	for range time.Tick(*interval) {
		msg := fmt.Sprintf("ping %d", time.Now().UnixNano())
		if _, err := endpoint.Write([]byte(msg)); err != nil {
			log.Printf("write: %v", err)
			continue
		}

		n, err := endpoint.Read(buf)
		if err != nil {
			log.Printf("read: %v", err)
			continue
		}
		log.Printf("echo: %s", string(buf[:n]))
	}
}
