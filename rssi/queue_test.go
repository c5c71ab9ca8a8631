package rssi

import (
	"testing"
	"time"

	"github.com/Clouded-Sabre/rssi-go/stream"
)

func newTestHeader(t *testing.T) *Header {
	t.Helper()
	pool := stream.NewRingBufferPool("queue_test: ", 4, 64, false)
	buf, err := pool.ReqBuffer(64)
	if err != nil {
		t.Fatalf("ReqBuffer: %v", err)
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return NewHeader(frame)
}

func TestHeaderQueuePushPop(t *testing.T) {
	q := newHeaderQueue()
	h := newTestHeader(t)

	if err := q.push(h); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := q.size(); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}

	got, ok := q.pop(time.Second)
	if !ok {
		t.Fatalf("pop: expected a header, got none")
	}
	if got != h {
		t.Fatalf("pop returned a different header than was pushed")
	}
	got.Release()

	if q.size() != 0 {
		t.Fatalf("size after pop = %d, want 0", q.size())
	}
}

func TestHeaderQueuePopTimeout(t *testing.T) {
	q := newHeaderQueue()

	start := time.Now()
	_, ok := q.pop(20 * time.Millisecond)
	if ok {
		t.Fatalf("pop on empty queue returned a header")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("pop returned too early: %v", elapsed)
	}
}

func TestHeaderQueueTryPop(t *testing.T) {
	q := newHeaderQueue()
	if _, ok := q.tryPop(); ok {
		t.Fatalf("tryPop on empty queue returned a header")
	}

	h := newTestHeader(t)
	if err := q.push(h); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, ok := q.tryPop()
	if !ok || got != h {
		t.Fatalf("tryPop did not return the pushed header")
	}
	got.Release()
}

func TestHeaderQueueReset(t *testing.T) {
	q := newHeaderQueue()
	h1, h2 := newTestHeader(t), newTestHeader(t)
	if err := q.push(h1); err != nil {
		t.Fatalf("push h1: %v", err)
	}
	if err := q.push(h2); err != nil {
		t.Fatalf("push h2: %v", err)
	}

	q.reset()
	if q.size() != 0 {
		t.Fatalf("size after reset = %d, want 0", q.size())
	}
	if _, ok := q.tryPop(); ok {
		t.Fatalf("tryPop after reset returned a header")
	}
}

func TestHeaderQueueClose(t *testing.T) {
	q := newHeaderQueue()

	h := newTestHeader(t)
	if err := q.push(h); err == nil {
		h.Release()
	} else {
		t.Fatalf("push before close: %v", err)
	}

	q.close()

	blocked := newTestHeader(t)
	if err := q.push(blocked); err != ErrQueueClosed {
		t.Fatalf("push after close: err = %v, want ErrQueueClosed", err)
	}
	blocked.Release()

	if _, ok := q.pop(time.Second); ok {
		t.Fatalf("pop after close returned a header")
	}
}

func TestHeaderQueuePopWakesOnPush(t *testing.T) {
	q := newHeaderQueue()
	h := newTestHeader(t)

	done := make(chan *Header, 1)
	go func() {
		got, ok := q.pop(time.Second)
		if !ok {
			done <- nil
			return
		}
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.push(h); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case got := <-done:
		if got != h {
			t.Fatalf("pop returned a different header than was pushed")
		}
		got.Release()
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake up after push")
	}
}
