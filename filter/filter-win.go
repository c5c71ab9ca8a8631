//go:build windows
// +build windows

package filter

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	divert "github.com/imgk/divert-go"
)

type filterImpl struct {
	handle    *divert.Handle
	stopChan  chan struct{}
	isRunning bool
	ruleSet   map[string]bool
	mutex     sync.Mutex
}

func NewFilter(identifier string) (Filter, error) {
	return &filterImpl{ruleSet: make(map[string]bool)}, nil
}

// AddServerFiltering opens a WinDivert network-layer handle matching
// ICMP protocol-unreachable traffic and starts dropping replies that
// originate from localIP, so the Windows stack's reaction to an
// unrecognized protocolID segment never reaches the peer.
func (f *filterImpl) AddServerFiltering(localIP string, protocolID int) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	ruleKey := fmt.Sprintf("%s/%d", localIP, protocolID)
	if f.ruleSet[ruleKey] {
		return fmt.Errorf("rule already exists: %s", ruleKey)
	}

	if !f.isRunning {
		h, err := divert.Open("icmp && icmp.Type == 3 && icmp.Code == 2", divert.LayerNetwork, 0, 0)
		if err != nil {
			return err
		}
		f.handle = h
		f.stopChan = make(chan struct{})
		f.isRunning = true
		go f.runFilteringLoop()
	}

	f.ruleSet[ruleKey] = true
	return nil
}

func (f *filterImpl) RemoveServerFiltering(localIP string, protocolID int) error {
	f.mutex.Lock()

	ruleKey := fmt.Sprintf("%s/%d", localIP, protocolID)
	if !f.ruleSet[ruleKey] {
		f.mutex.Unlock()
		return fmt.Errorf("rule not found: %s", ruleKey)
	}
	delete(f.ruleSet, ruleKey)

	if len(f.ruleSet) == 0 {
		f.mutex.Unlock()
		return f.FinishFiltering()
	}
	f.mutex.Unlock()
	return nil
}

func (f *filterImpl) FinishFiltering() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if !f.isRunning {
		return errors.New("no active filtering rules")
	}
	close(f.stopChan)
	f.isRunning = false
	f.ruleSet = make(map[string]bool)
	return nil
}

func (f *filterImpl) runFilteringLoop() {
	defer func() {
		f.mutex.Lock()
		f.handle.Close()
		f.isRunning = false
		f.mutex.Unlock()
	}()

	buf := make([]byte, 1500)
	addr := divert.Address{}

	for {
		select {
		case <-f.stopChan:
			log.Println("rawip filter: stopping")
			return
		default:
			n, err := f.handle.Recv(buf, &addr)
			if err != nil {
				log.Println("rawip filter: recv:", err)
				continue
			}

			packet := gopacket.NewPacket(buf[:n], layers.LayerTypeIPv4, gopacket.Default)
			ipv4Layer := packet.Layer(layers.LayerTypeIPv4)
			if ipv4Layer == nil {
				continue
			}
			ipv4, _ := ipv4Layer.(*layers.IPv4)

			f.mutex.Lock()
			drop := false
			for key := range f.ruleSet {
				if ruleIP(key) == ipv4.SrcIP.String() {
					drop = true
					break
				}
			}
			f.mutex.Unlock()

			if drop {
				log.Printf("rawip filter: dropping icmp protocol-unreachable from %s", ipv4.SrcIP)
				continue
			}
			if _, err := f.handle.Send(buf[:n], &addr); err != nil {
				log.Println("rawip filter: reinject:", err)
			}
		}
	}
}

// ruleIP extracts the "ip" half of a "ip/protocolID" rule key.
func ruleIP(ruleKey string) string {
	for i := len(ruleKey) - 1; i >= 0; i-- {
		if ruleKey[i] == '/' {
			return ruleKey[:i]
		}
	}
	return ruleKey
}
