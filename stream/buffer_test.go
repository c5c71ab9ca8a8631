package stream

import "testing"

func newTestBuffer(t *testing.T, rawSize int) *Buffer {
	t.Helper()
	pool := NewRingBufferPool("test: ", 4, rawSize, false)
	b, err := pool.ReqBuffer(rawSize)
	if err != nil {
		t.Fatalf("ReqBuffer: %v", err)
	}
	return b
}

func TestBufferInvariants(t *testing.T) {
	b := newTestBuffer(t, 128)

	if b.HeadRoom() != 0 || b.TailRoom() != 0 || b.GetPayload() != 0 {
		t.Fatalf("fresh buffer should have zero room and zero payload")
	}

	if err := b.AdjustHeader(8); err != nil {
		t.Fatalf("AdjustHeader(8): %v", err)
	}
	if b.HeadRoom() != 8 {
		t.Fatalf("HeadRoom = %d, want 8", b.HeadRoom())
	}

	if err := b.SetPayload(32, false); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if b.GetPayload() != 32 {
		t.Fatalf("GetPayload = %d, want 32", b.GetPayload())
	}

	if err := b.AdjustTail(16); err != nil {
		t.Fatalf("AdjustTail(16): %v", err)
	}
	if got, want := b.GetSize(), 128-8-16; got != want {
		t.Fatalf("GetSize = %d, want %d", got, want)
	}

	if got, want := b.GetAvailable(), 128-(8+32)-16; got != want {
		t.Fatalf("GetAvailable = %d, want %d", got, want)
	}
}

func TestBufferAdjustHeaderBoundary(t *testing.T) {
	b := newTestBuffer(t, 16)

	if err := b.AdjustHeader(20); err == nil {
		t.Fatalf("expected boundary error growing head room past rawSize")
	}
	if err := b.AdjustHeader(-1); err == nil {
		t.Fatalf("expected boundary error shrinking head room below zero")
	}
}

func TestBufferSetPayloadNoShrink(t *testing.T) {
	b := newTestBuffer(t, 64)
	if err := b.SetPayload(40, false); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if err := b.SetPayload(10, false); err != nil {
		t.Fatalf("SetPayload no-op: %v", err)
	}
	if b.GetPayload() != 40 {
		t.Fatalf("SetPayload(shrink=false) should be a no-op, got payload %d", b.GetPayload())
	}
	if err := b.SetPayload(10, true); err != nil {
		t.Fatalf("SetPayload shrink: %v", err)
	}
	if b.GetPayload() != 10 {
		t.Fatalf("SetPayload(shrink=true) should truncate, got payload %d", b.GetPayload())
	}
}

func TestBufferHeadRoomPushesPayload(t *testing.T) {
	b := newTestBuffer(t, 32)
	if err := b.SetPayload(4, false); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if err := b.AdjustHeader(10); err != nil {
		t.Fatalf("AdjustHeader: %v", err)
	}
	if b.EndPayload() != b.Begin() {
		t.Fatalf("growing head room past payload should pull payload forward to headRoom")
	}
}
