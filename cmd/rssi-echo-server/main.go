// Command rssi-echo-server is a minimal RSSI echo server, the rssi-go
// analogue of the teacher's test/echoserver: it accepts one inbound
// connection's worth of segments over transport/udp and writes every
// received segment straight back to the sender.
package main

import (
	"flag"
	"io"
	"log"
	"math/rand"

	"github.com/Clouded-Sabre/rssi-go/application"
	"github.com/Clouded-Sabre/rssi-go/config"
	"github.com/Clouded-Sabre/rssi-go/rssi"
	"github.com/Clouded-Sabre/rssi-go/transport/udp"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8901", "address to listen on")
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		log.Printf("config: %v, falling back to defaults", err)
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	config.AppConfig = cfg

	tran, err := udp.Listen(*listenAddr, cfg.SegmentSize+64, cfg.PayloadPoolSize)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer tran.Close()

	connID := rand.Uint32()
	c := rssi.NewController(uint32(cfg.SegmentSize), connID, tran)
	tran.Attach(c)
	defer c.Close()

	endpoint := application.NewEndpoint(c)

	log.Printf("rssi echo server listening on %s\n", *listenAddr)

	buf := make([]byte, cfg.SegmentSize)
	for {
		n, err := endpoint.Read(buf)
		if err != nil {
			if err == io.EOF {
				log.Println("connection closed by peer")
				return
			}
			log.Printf("read: %v", err)
			return
		}
		log.Printf("echo server got %d bytes", n)
		if _, err := endpoint.Write(buf[:n]); err != nil {
			log.Printf("write: %v", err)
			return
		}
	}
}
