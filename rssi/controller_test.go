package rssi

import (
	"sync"
	"testing"
	"time"

	"github.com/Clouded-Sabre/rssi-go/stream"
)

// memTransport is an in-memory Transport that hands whatever bytes
// SendFrame is given to a peer Controller's TransportRx, the way a real
// socket-backed Transport would after a read. It copies bytes into a
// freshly allocated Buffer rather than handing over the sender's own
// Buffer, since a real wire never shares memory between two endpoints.
type memTransport struct {
	pool    *stream.RingBufferPool
	rawSize int
	peer    *Controller

	mu       sync.Mutex
	dropNext int
}

func newMemTransport(rawSize int) *memTransport {
	return &memTransport{
		pool:    stream.NewRingBufferPool("mem: ", 256, rawSize, false),
		rawSize: rawSize,
	}
}

func (m *memTransport) ReqFrame(size int, zeroCopy bool, maxBuffSize int) (*stream.Frame, error) {
	buf, err := m.pool.ReqBuffer(m.rawSize)
	if err != nil {
		return nil, err
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return frame, nil
}

// dropNextSend arms the transport to silently swallow the next n sends,
// simulating lost segments for retransmission tests.
func (m *memTransport) dropNextSend(n int) {
	m.mu.Lock()
	m.dropNext = n
	m.mu.Unlock()
}

func (m *memTransport) SendFrame(frame *stream.Frame) error {
	m.mu.Lock()
	drop := m.dropNext > 0
	if drop {
		m.dropNext--
	}
	m.mu.Unlock()
	if drop || m.peer == nil {
		return nil
	}

	src := frame.GetBuffer(0)
	n := src.EndPayload() - src.Begin()
	wire := make([]byte, n)
	copy(wire, src.Bytes()[src.Begin():src.EndPayload()])

	dst, err := m.pool.ReqBuffer(m.rawSize)
	if err != nil {
		return err
	}
	copy(dst.Bytes(), wire)
	if err := dst.SetPayload(n, true); err != nil {
		return err
	}
	out := stream.NewFrame()
	out.AppendBuffer(dst)

	peer := m.peer
	go peer.TransportRx(out)
	return nil
}

// linkedControllers builds two Controllers wired to each other through
// in-memory Transports, the way two real endpoints exchanging UDP
// datagrams would be wired.
func linkedControllers(t *testing.T) (a, b *Controller, ta, tb *memTransport) {
	t.Helper()
	ta = newMemTransport(2048)
	tb = newMemTransport(2048)

	a = NewController(1024, 0xaaaaaaaa, ta)
	b = NewController(1024, 0xbbbbbbbb, tb)

	ta.peer = b
	tb.peer = a

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, ta, tb
}

func waitForState(t *testing.T, c *Controller, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.GetState() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last seen %v", want, c.GetState())
}

func TestControllerHandshake(t *testing.T) {
	a, b, _, _ := linkedControllers(t)

	waitForState(t, a, StateOpen, 2*time.Second)
	waitForState(t, b, StateOpen, 2*time.Second)

	if !a.GetOpen() || !b.GetOpen() {
		t.Fatalf("both endpoints should report open after handshake")
	}
}

func TestControllerSingleDataSegment(t *testing.T) {
	a, b, _, _ := linkedControllers(t)
	waitForState(t, a, StateOpen, 2*time.Second)
	waitForState(t, b, StateOpen, 2*time.Second)

	payload := []byte("hello from a")
	frame, err := a.ReqFrame(len(payload))
	if err != nil {
		t.Fatalf("ReqFrame: %v", err)
	}
	buf := frame.GetBuffer(0)
	copy(buf.Bytes()[buf.Begin():], payload)
	if err := buf.SetPayload(len(payload), true); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}

	if err := a.ApplicationRx(frame); err != nil {
		t.Fatalf("ApplicationRx: %v", err)
	}

	got, err := b.ApplicationTx()
	if err != nil {
		t.Fatalf("ApplicationTx: %v", err)
	}
	gotBuf := got.GetBuffer(0)
	gotPayload := gotBuf.Bytes()[gotBuf.Begin():gotBuf.EndPayload()]
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
	got.Release()
}

func TestControllerRetransmitsLostSegment(t *testing.T) {
	a, b, ta, _ := linkedControllers(t)
	waitForState(t, a, StateOpen, 2*time.Second)
	waitForState(t, b, StateOpen, 2*time.Second)

	ta.dropNextSend(1)

	payload := []byte("retransmit me")
	frame, err := a.ReqFrame(len(payload))
	if err != nil {
		t.Fatalf("ReqFrame: %v", err)
	}
	buf := frame.GetBuffer(0)
	copy(buf.Bytes()[buf.Begin():], payload)
	if err := buf.SetPayload(len(payload), true); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if err := a.ApplicationRx(frame); err != nil {
		t.Fatalf("ApplicationRx: %v", err)
	}

	got, err := b.ApplicationTx()
	if err != nil {
		t.Fatalf("ApplicationTx after retransmit: %v", err)
	}
	gotBuf := got.GetBuffer(0)
	gotPayload := gotBuf.Bytes()[gotBuf.Begin():gotBuf.EndPayload()]
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload after retransmit = %q, want %q", gotPayload, payload)
	}
	got.Release()

	if a.GetRetranCount() == 0 {
		t.Fatalf("expected at least one retransmission to be counted")
	}
}

func TestControllerRetransmitExhaustionResets(t *testing.T) {
	a, b, ta, _ := linkedControllers(t)
	waitForState(t, a, StateOpen, 2*time.Second)
	waitForState(t, b, StateOpen, 2*time.Second)

	// Drop every future send from a so every retransmission attempt is
	// lost too, forcing a's retransmission table entry past maxRetran.
	ta.dropNextSend(1 << 20)

	frame, err := a.ReqFrame(4)
	if err != nil {
		t.Fatalf("ReqFrame: %v", err)
	}
	buf := frame.GetBuffer(0)
	copy(buf.Bytes()[buf.Begin():], []byte("ping"))
	if err := buf.SetPayload(4, true); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if err := a.ApplicationRx(frame); err != nil {
		t.Fatalf("ApplicationRx: %v", err)
	}

	before := a.GetDownCount()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.GetDownCount() > before {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected downCount to increase once retransmissions were exhausted")
}

func TestControllerOutOfOrderSegmentDropped(t *testing.T) {
	a, b, _, _ := linkedControllers(t)
	waitForState(t, a, StateOpen, 2*time.Second)
	waitForState(t, b, StateOpen, 2*time.Second)

	// Craft a segment addressed several sequence numbers ahead of what b
	// expects next and inject it directly, bypassing a's own sequencing.
	frame, err := a.tran.ReqFrame(HeaderSize, false, HeaderSize)
	if err != nil {
		t.Fatalf("ReqFrame: %v", err)
	}
	buf := frame.GetBuffer(0)
	if err := buf.AdjustHeader(0); err != nil {
		t.Fatalf("AdjustHeader: %v", err)
	}
	if err := buf.SetPayload(HeaderSize+4, true); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	copy(buf.Bytes()[HeaderSize:], []byte("oops"))

	head := NewHeader(frame)
	head.TxInit(false, true)
	head.SetAck(true)
	head.SetSequence(b.nextSeqRx + 5)
	head.SetAcknowledge(b.lastSeqRx)
	if err := head.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// TransportRx takes sole ownership of frame from here on, the same
	// way it would for bytes freshly read off a socket; head must not
	// touch it again.
	injected := head.Frame()
	b.TransportRx(injected)

	// appQueue also holds the handshake SYNs nobody has popped yet, so
	// look for the injected segment itself rather than at the queue length.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		b.appQueue.mu.Lock()
		queued := false
		for _, h := range b.appQueue.items {
			if h.Frame() == injected {
				queued = true
			}
		}
		b.appQueue.mu.Unlock()
		if queued {
			t.Fatalf("out-of-order segment should not have been queued for delivery")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestControllerBusyBackpressure(t *testing.T) {
	a, _, _, _ := linkedControllers(t)
	waitForState(t, a, StateOpen, 2*time.Second)

	if a.GetBusy() {
		t.Fatalf("freshly opened controller should not report busy")
	}

	pool := stream.NewRingBufferPool("busy: ", BusyThold+2, 64, false)
	for i := 0; i <= BusyThold; i++ {
		buf, err := pool.ReqBuffer(64)
		if err != nil {
			t.Fatalf("ReqBuffer: %v", err)
		}
		frame := stream.NewFrame()
		frame.AppendBuffer(buf)
		h := NewHeader(frame)
		h.SetSequence(uint8(i + 1))
		if err := a.appQueue.push(h); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	if !a.GetBusy() {
		t.Fatalf("controller with a deep appQueue should report busy")
	}
}
