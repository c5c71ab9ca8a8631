// Package udp is a rssi.Transport backed by a plain net.UDPConn, used by
// the echo client/server binaries (the rssi package's own tests use an
// in-memory Transport instead) — the same role net.DialIP/net.ListenPacket play for the teacher's
// PcpProtocolConnection in lib/pconn.go, just over UDP instead of a raw
// IP protocol number.
package udp

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/Clouded-Sabre/rssi-go/rssi"
	"github.com/Clouded-Sabre/rssi-go/stream"
)

// Transport moves RSSI segments over a single UDP socket. RSSI is
// point-to-point, so one Transport only ever talks to one remote
// address: Dial fixes it up front, Listen learns it from the first
// datagram that arrives.
type Transport struct {
	conn      *net.UDPConn
	connected bool
	rawSize   int
	pool      *stream.RingBufferPool
	log       *log.Logger

	remoteMtx sync.RWMutex
	remote    *net.UDPAddr

	controller  *rssi.Controller
	closeSignal chan struct{}
	wg          sync.WaitGroup
}

// Dial opens a client-side Transport connected to remote.
func Dial(remote string, rawSize, poolSize int) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", remote, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", remote, err)
	}
	return newTransport(conn, addr, true, rawSize, poolSize), nil
}

// Listen opens a server-side Transport bound to local.
func Listen(local string, rawSize, poolSize int) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", local, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", local, err)
	}
	return newTransport(conn, nil, false, rawSize, poolSize), nil
}

func newTransport(conn *net.UDPConn, remote *net.UDPAddr, connected bool, rawSize, poolSize int) *Transport {
	return &Transport{
		conn:        conn,
		connected:   connected,
		remote:      remote,
		rawSize:     rawSize,
		pool:        stream.NewRingBufferPool("udp: ", poolSize, rawSize, false),
		log:         log.New(log.Writer(), "[udp] ", log.LstdFlags),
		closeSignal: make(chan struct{}),
	}
}

// Attach wires the Controller this Transport feeds and starts the
// receive loop. Controller and Transport are mutually dependent —
// rssi.NewController needs a Transport up front, and the receive loop
// needs the Controller it produces — so wiring happens in two steps,
// the way a teacher Connection's read loop only starts once the
// Connection itself is fully constructed (lib/pcpcore.go).
func (t *Transport) Attach(c *rssi.Controller) {
	t.controller = c
	t.wg.Add(1)
	go t.recvLoop()
}

func (t *Transport) setRemote(addr *net.UDPAddr) {
	t.remoteMtx.Lock()
	t.remote = addr
	t.remoteMtx.Unlock()
}

func (t *Transport) getRemote() *net.UDPAddr {
	t.remoteMtx.RLock()
	defer t.remoteMtx.RUnlock()
	return t.remote
}

func (t *Transport) recvLoop() {
	defer t.wg.Done()

	raw := make([]byte, t.rawSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(raw)
		if err != nil {
			select {
			case <-t.closeSignal:
				return
			default:
				t.log.Printf("recvLoop: read: %v", err)
				continue
			}
		}
		if t.getRemote() == nil {
			t.setRemote(addr)
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

// ReqFrame satisfies rssi.Transport: a fresh, single-Buffer Frame backed
// by this Transport's Pool. zeroCopy and maxBuffSize are accepted for
// interface conformance but unused — UDP datagrams are small enough
// that scatter buffers never pay for themselves here.
func (t *Transport) ReqFrame(size int, zeroCopy bool, maxBuffSize int) (*stream.Frame, error) {
	buf, err := t.pool.ReqBuffer(t.rawSize)
	if err != nil {
		return nil, err
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return frame, nil
}

// SendFrame satisfies rssi.Transport. A dialed conn is already connected
// to its one peer, so it must use Write rather than WriteToUDP — calling
// WriteToUDP on a connected UDPConn returns ErrWriteToConnected. Only a
// listening conn, which can still be talking to more than one address,
// addresses each send explicitly via WriteToUDP.
func (t *Transport) SendFrame(frame *stream.Frame) error {
	buf := frame.GetBuffer(0)
	payload := buf.Bytes()[buf.Begin():buf.EndPayload()]

	if t.connected {
		_, err := t.conn.Write(payload)
		return err
	}

	remote := t.getRemote()
	if remote == nil {
		return fmt.Errorf("udp: no peer learned yet")
	}
	_, err := t.conn.WriteToUDP(payload, remote)
	return err
}

// Close stops the receive loop and closes the underlying socket.
func (t *Transport) Close() error {
	close(t.closeSignal)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
