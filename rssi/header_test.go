package rssi

import (
	"testing"

	"github.com/Clouded-Sabre/rssi-go/stream"
)

func newTestFrame(t *testing.T, rawSize int) *stream.Frame {
	t.Helper()
	pool := stream.NewRingBufferPool("header_test: ", 4, rawSize, false)
	buf, err := pool.ReqBuffer(rawSize)
	if err != nil {
		t.Fatalf("ReqBuffer: %v", err)
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return frame
}

// markReceived simulates what a Transport does after reading n bytes off
// the wire: it marks them as payload so EndPayload reflects what Verify
// is allowed to read.
func markReceived(t *testing.T, frame *stream.Frame, n int) {
	t.Helper()
	if err := frame.GetBuffer(0).SetPayload(n, true); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
}

func TestHeaderRoundTripNonSyn(t *testing.T) {
	frame := newTestFrame(t, 64)

	h := NewHeader(frame)
	h.TxInit(false, true)
	h.SetAck(true)
	h.SetSequence(42)
	h.SetAcknowledge(41)
	h.SetBusy(true)
	if err := h.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	markReceived(t, frame, HeaderSize)

	got := NewHeader(frame)
	if !got.Verify() {
		t.Fatalf("Verify() = false, want true")
	}
	if got.GetAck() != true || got.GetSyn() != false {
		t.Fatalf("flags not round-tripped: ack=%v syn=%v", got.GetAck(), got.GetSyn())
	}
	if got.GetSequence() != 42 || got.GetAcknowledge() != 41 {
		t.Fatalf("sequence/ack = %d/%d, want 42/41", got.GetSequence(), got.GetAcknowledge())
	}
	if !got.GetBusy() {
		t.Fatalf("busy flag not round-tripped")
	}
}

func TestHeaderRoundTripSyn(t *testing.T) {
	frame := newTestFrame(t, 64)

	h := NewHeader(frame)
	h.TxInit(true, false)
	h.SetVersion(Version)
	h.SetMaxOutstandingSegments(LocMaxBuffers)
	h.SetMaxSegmentSize(1500)
	h.SetRetransmissionTimeout(ReqRetranTout)
	h.SetCumulativeAckTimeout(ReqCumAckTout)
	h.SetNullTimeout(ReqNullTout)
	h.SetMaxRetransmissions(ReqMaxRetran)
	h.SetMaxCumulativeAck(ReqMaxCumAck)
	h.SetTimeoutUnit(TimeoutUnit)
	h.SetConnectionID(0xdeadbeef)
	h.SetSequence(100)
	if err := h.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	markReceived(t, frame, SynHeaderSize)

	got := NewHeader(frame)
	if !got.Verify() {
		t.Fatalf("Verify() = false, want true")
	}
	if !got.GetSyn() {
		t.Fatalf("syn flag not round-tripped")
	}
	if got.GetVersion() != Version {
		t.Fatalf("version = %d, want %d", got.GetVersion(), Version)
	}
	if got.GetMaxOutstandingSegments() != LocMaxBuffers {
		t.Fatalf("maxOutstandingSegments = %d, want %d", got.GetMaxOutstandingSegments(), LocMaxBuffers)
	}
	if got.GetMaxSegmentSize() != 1500 {
		t.Fatalf("maxSegmentSize = %d, want 1500", got.GetMaxSegmentSize())
	}
	if got.GetConnectionID() != 0xdeadbeef {
		t.Fatalf("connectionID = %#x, want 0xdeadbeef", got.GetConnectionID())
	}
	if got.GetSequence() != 100 {
		t.Fatalf("sequence = %d, want 100", got.GetSequence())
	}
}

func TestHeaderVerifyRejectsCorruptedChecksum(t *testing.T) {
	frame := newTestFrame(t, 64)

	h := NewHeader(frame)
	h.TxInit(false, true)
	h.SetSequence(7)
	if err := h.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	markReceived(t, frame, HeaderSize)

	frame.GetBuffer(0).Bytes()[2] ^= 0xff // flip the sequence byte in place

	got := NewHeader(frame)
	if got.Verify() {
		t.Fatalf("Verify() = true after corruption, want false")
	}
}

func TestHeaderVerifyRejectsShortFrame(t *testing.T) {
	frame := newTestFrame(t, 64)
	markReceived(t, frame, HeaderSize-1)

	h := NewHeader(frame)
	if h.Verify() {
		t.Fatalf("Verify() = true for a too-short frame, want false")
	}
}

func TestHeaderVerifyRejectsWrongDeclaredLength(t *testing.T) {
	frame := newTestFrame(t, 64)

	h := NewHeader(frame)
	h.TxInit(false, true)
	if err := h.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	frame.GetBuffer(0).Bytes()[1] = HeaderSize + 1
	markReceived(t, frame, HeaderSize)

	got := NewHeader(frame)
	if got.Verify() {
		t.Fatalf("Verify() = true with a tampered declared length, want false")
	}
}

func TestHeaderUpdateFailsWithoutRoom(t *testing.T) {
	frame := newTestFrame(t, 4)

	h := NewHeader(frame)
	h.TxInit(false, true)
	if err := h.Update(); err != ErrHeaderSpace {
		t.Fatalf("Update() err = %v, want ErrHeaderSpace", err)
	}
}

func TestHeaderRetainRelease(t *testing.T) {
	frame := newTestFrame(t, 64)
	h := NewHeader(frame)
	h.Retain()
	h.Release()
	h.Release() // should release the frame's buffer without panicking
}
