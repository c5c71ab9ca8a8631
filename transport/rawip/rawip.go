// Package rawip is a rssi.Transport that rides directly over an IP
// protocol number instead of a UDP/TCP port, the way the teacher's
// PcpProtocolConnection does in lib/pconn.go: a server listens with
// net.ListenPacket("ip:<id>", ...), a client dials with net.DialIP, and
// both sides exchange raw segments with no port multiplexing at all —
// RSSI's own ConnectionID in the SYN header is what tells two
// endpoints apart, not a transport-layer port number.
package rawip

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/Clouded-Sabre/rssi-go/filter"
	"github.com/Clouded-Sabre/rssi-go/rssi"
	"github.com/Clouded-Sabre/rssi-go/stream"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
	"github.com/google/gopacket"
)

// Transport moves RSSI segments over a single IP protocol number.
// Like transport/udp, it is point-to-point: Dial fixes the peer up
// front, Listen learns it from the first datagram received.
//
// Actual packet I/O goes through net.IPConn/net.PacketConn, same as
// lib/pconn.go's PcpProtocolConnection on Linux/macOS. rscore is still
// constructed and threaded through even though this path never reads
// or writes through it directly, mirroring lib/pcpcore.go's own
// NewPcpCore(pcpcoreConfig, rscore, filterName) signature: the teacher
// accepts an *rs.RSCore unconditionally regardless of platform and
// only ever calls Close on it, leaving the OS-level raw capture to
// rawsocket's own internals on the platforms that need it.
type Transport struct {
	protocolID int
	rawSize    int
	pool       *stream.RingBufferPool
	log        *log.Logger
	filter     filter.Filter
	rscore     *rs.RSCore

	// Debug, when set, runs every received datagram through a real
	// gopacket decode of rssi.LayerTypeRSSI and logs the resulting
	// GLayer dissection, the way a teacher debug build logs a packet's
	// struct.Packet fields before handing it to PcpCore.
	Debug bool

	clientConn *net.IPConn    // set when dialed
	serverConn net.PacketConn // set when listening

	remoteMtx sync.RWMutex
	remote    *net.IPAddr

	controller  *rssi.Controller
	closeSignal chan struct{}
	wg          sync.WaitGroup
}

// Dial opens a client-side Transport that sends to and receives from
// remote over the given IP protocol number. A server-side iptables
// rule suppressing ICMP protocol-unreachable replies should already be
// in place on the remote before dialing; the local side doesn't need
// one since nothing unsolicited arrives before the server replies.
func Dial(protocolID int, remote string, rawSize, poolSize int) (*Transport, error) {
	remoteAddr, err := net.ResolveIPAddr("ip", remote)
	if err != nil {
		return nil, fmt.Errorf("rawip: resolve %s: %w", remote, err)
	}
	conn, err := net.DialIP("ip:"+strconv.Itoa(protocolID), nil, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("rawip: dial %s: %w", remote, err)
	}

	t := newTransport(protocolID, rawSize, poolSize)
	t.clientConn = conn
	t.remote = remoteAddr
	return t, nil
}

// Listen opens a server-side Transport bound to local, suppressing the
// ICMP protocol-unreachable replies the kernel would otherwise send for
// a protocol number nothing in the stack recognizes, through
// filter.Filter.AddServerFiltering.
func Listen(protocolID int, local string, rawSize, poolSize int) (*Transport, error) {
	localAddr, err := net.ResolveIPAddr("ip", local)
	if err != nil {
		return nil, fmt.Errorf("rawip: resolve %s: %w", local, err)
	}
	conn, err := net.ListenPacket("ip:"+strconv.Itoa(protocolID), localAddr.String())
	if err != nil {
		return nil, fmt.Errorf("rawip: listen %s: %w", local, err)
	}

	t := newTransport(protocolID, rawSize, poolSize)
	t.serverConn = conn

	f, err := filter.NewFilter("rssi")
	if err != nil {
		t.log.Printf("Listen: filter unavailable, ICMP suppression disabled: %v", err)
	} else {
		t.filter = f
		if err := t.filter.AddServerFiltering(localAddr.IP.String(), protocolID); err != nil {
			t.log.Printf("Listen: AddServerFiltering: %v", err)
		}
	}
	return t, nil
}

func newTransport(protocolID, rawSize, poolSize int) *Transport {
	t := &Transport{
		protocolID:  protocolID,
		rawSize:     rawSize,
		pool:        stream.NewRingBufferPool("rawip: ", poolSize, rawSize, false),
		log:         log.New(log.Writer(), "[rawip] ", log.LstdFlags),
		closeSignal: make(chan struct{}),
	}
	if rscore, err := rs.NewRSCore(rs.NewDefaultRsConfig()); err != nil {
		t.log.Printf("newTransport: rawsocket core unavailable, falling back to net.IPConn only: %v", err)
	} else {
		t.rscore = &rscore
	}
	return t
}

// Attach wires the Controller this Transport feeds and starts the
// receive loop, mirroring transport/udp.Attach: Controller and
// Transport are mutually dependent, so the back-reference is wired in
// a second step once both objects exist (lib/pcpcore.go).
func (t *Transport) Attach(c *rssi.Controller) {
	t.controller = c
	t.wg.Add(1)
	go t.recvLoop()
}

func (t *Transport) setRemote(addr *net.IPAddr) {
	t.remoteMtx.Lock()
	t.remote = addr
	t.remoteMtx.Unlock()
}

func (t *Transport) getRemote() *net.IPAddr {
	t.remoteMtx.RLock()
	defer t.remoteMtx.RUnlock()
	return t.remote
}

func (t *Transport) recvLoop() {
	defer t.wg.Done()

	raw := make([]byte, t.rawSize)
	for {
		var (
			n    int
			addr *net.IPAddr
			err  error
		)
		if t.clientConn != nil {
			n, err = t.clientConn.Read(raw)
		} else {
			var from net.Addr
			n, from, err = t.serverConn.ReadFrom(raw)
			if a, ok := from.(*net.IPAddr); ok {
				addr = a
			}
		}
		if err != nil {
			select {
			case <-t.closeSignal:
				return
			default:
				t.log.Printf("recvLoop: read: %v", err)
				continue
			}
		}
		if addr != nil && t.getRemote() == nil {
			t.setRemote(addr)
		}

		if t.Debug {
			t.logDecoded(raw[:n])
		}

		buf, err := t.pool.ReqBuffer(t.rawSize)
		if err != nil {
			t.log.Printf("recvLoop: ReqBuffer: %v", err)
			continue
		}
		copy(buf.Bytes(), raw[:n])
		if err := buf.SetPayload(n, true); err != nil {
			t.log.Printf("recvLoop: SetPayload: %v", err)
			continue
		}

		frame := stream.NewFrame()
		frame.AppendBuffer(buf)
		t.controller.TransportRx(frame)
	}
}

// logDecoded runs data through a gopacket decode of rssi.LayerTypeRSSI
// and logs the resulting dissection, exercising GLayer's DecodingLayer
// implementation the same way a capture-driven dump tool would rather
// than only through Header.Dump's hand-assembled GLayer.
func (t *Transport) logDecoded(data []byte) {
	pkt := gopacket.NewPacket(data, rssi.LayerTypeRSSI, gopacket.Lazy)
	g, ok := pkt.Layer(rssi.LayerTypeRSSI).(*rssi.GLayer)
	if !ok {
		t.log.Printf("recvLoop: decode: %v", pkt.ErrorLayer())
		return
	}
	t.log.Printf("recvLoop: decoded %s", g.String())
}

// ReqFrame satisfies rssi.Transport.
func (t *Transport) ReqFrame(size int, zeroCopy bool, maxBuffSize int) (*stream.Frame, error) {
	buf, err := t.pool.ReqBuffer(t.rawSize)
	if err != nil {
		return nil, err
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return frame, nil
}

// SendFrame satisfies rssi.Transport.
func (t *Transport) SendFrame(frame *stream.Frame) error {
	buf := frame.GetBuffer(0)
	payload := buf.Bytes()[buf.Begin():buf.EndPayload()]

	if t.clientConn != nil {
		_, err := t.clientConn.Write(payload)
		return err
	}
	remote := t.getRemote()
	if remote == nil {
		return fmt.Errorf("rawip: no peer learned yet")
	}
	_, err := t.serverConn.WriteTo(payload, remote)
	return err
}

// Close stops the receive loop, removes any filtering rule installed
// by Listen, and closes the underlying socket.
func (t *Transport) Close() error {
	close(t.closeSignal)

	var err error
	if t.clientConn != nil {
		err = t.clientConn.Close()
	} else {
		if cl, ok := t.serverConn.(interface{ Close() error }); ok {
			err = cl.Close()
		}
		if t.filter != nil {
			if remote := t.getRemote(); remote != nil {
				t.filter.RemoveServerFiltering(remote.IP.String(), t.protocolID)
			}
			t.filter.FinishFiltering()
		}
	}
	if t.rscore != nil {
		if cerr := (*t.rscore).Close(); cerr != nil {
			t.log.Printf("Close: rawsocket core: %v", cerr)
		}
	}
	t.wg.Wait()
	return err
}
