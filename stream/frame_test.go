package stream

import "testing"

func newTestFrame(t *testing.T, pool *RingBufferPool, bufCount, rawSize int) *Frame {
	t.Helper()
	f := NewFrame()
	for i := 0; i < bufCount; i++ {
		b, err := pool.ReqBuffer(rawSize)
		if err != nil {
			t.Fatalf("ReqBuffer: %v", err)
		}
		f.AppendBuffer(b)
	}
	return f
}

func TestFrameAggregatesAcrossBuffers(t *testing.T) {
	pool := NewRingBufferPool("test: ", 4, 16, false)
	f := newTestFrame(t, pool, 2, 16)

	f.GetBuffer(0).SetPayload(10, true)
	f.GetBuffer(1).SetPayload(4, true)

	if got, want := f.GetPayload(), 14; got != want {
		t.Fatalf("GetPayload = %d, want %d", got, want)
	}
	if got, want := f.GetSize(), 32; got != want {
		t.Fatalf("GetSize = %d, want %d", got, want)
	}
	if got, want := f.GetAvailable(), 18; got != want {
		t.Fatalf("GetAvailable = %d, want %d", got, want)
	}
}

func TestCopyRoundTrip(t *testing.T) {
	pool := NewRingBufferPool("test: ", 4, 8, false)
	f := newTestFrame(t, pool, 3, 8) // 24 usable bytes total, spread over 3 buffers of 8

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}
	wit := f.Begin(true)
	CopyToFrame(wit, len(src), src)
	for i, b := range f.buffers {
		b.SetPayload(b.GetSize(), true)
		_ = i
	}

	dst := make([]byte, len(src))
	rit := f.Begin(false)
	CopyFromFrame(rit, len(dst), dst)

	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("round-trip mismatch at byte %d: got %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestEndBufferAtBoundary(t *testing.T) {
	pool := NewRingBufferPool("test: ", 4, 4, false)
	f := newTestFrame(t, pool, 2, 4)
	it := f.Begin(true)
	end := it.EndBuffer()
	if end.FramePos() != 4 {
		t.Fatalf("EndBuffer() framePos = %d, want 4", end.FramePos())
	}
	it.Advance(4)
	if it.bufIdx != 1 || it.bufPos != 0 {
		t.Fatalf("expected iterator normalized onto buffer 1 at offset 0, got bufIdx=%d bufPos=%d", it.bufIdx, it.bufPos)
	}
}
