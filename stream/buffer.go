package stream

import (
	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// elemBackend is the reclamation callback a Pool captures into a Buffer at
// creation time. Keeping it as a narrow interface (instead of a direct
// pointer cycle back to the owning Pool) is what lets a Buffer outlive
// knowledge of its Pool's full type, per the cyclic-ownership note in the
// design notes: the Pool outlives every Buffer it issues, and a Buffer
// only ever reaches back into it through this one method.
type elemBackend interface {
	retElement(*rp.Element)
}

// Buffer is a contiguous byte region carved out of a Pool chunk, with
// head-room and tail-room reservations bracketing a payload window.
// Invariants (enforced by every mutator below):
//
//	0 <= headRoom, 0 <= tailRoom
//	headRoom <= payload <= rawSize - tailRoom
type Buffer struct {
	backend elemBackend
	elem    *rp.Element

	raw     []byte
	rawSize int

	headRoom int
	tailRoom int
	payload  int

	meta uint32
}

// Meta returns the Pool-private tag stashed on this Buffer, e.g. a
// hardware DMA descriptor handle.
func (b *Buffer) Meta() uint32 { return b.meta }

// SetMeta sets the Pool-private tag. Used by Pool implementations only.
func (b *Buffer) SetMeta(meta uint32) { b.meta = meta }

// RawSize returns the full backing allocation size.
func (b *Buffer) RawSize() int { return b.rawSize }

// HeadRoom returns the current head reservation.
func (b *Buffer) HeadRoom() int { return b.headRoom }

// TailRoom returns the current tail reservation.
func (b *Buffer) TailRoom() int { return b.tailRoom }

// AdjustHeader grows (value > 0) or shrinks (value < 0) the head
// reservation. Shrinking below zero, or growing past the room left after
// the tail reservation, fails with a BoundaryError.
func (b *Buffer) AdjustHeader(value int) error {
	if value < 0 && -value > b.headRoom {
		return boundary("stream.Buffer.AdjustHeader", -value, b.headRoom)
	}
	room := b.rawSize - (b.headRoom + b.tailRoom)
	if value > 0 && value > room {
		return boundary("stream.Buffer.AdjustHeader", value, room)
	}

	b.headRoom += value

	// Payload can never sit before head room.
	if b.payload < b.headRoom {
		b.payload = b.headRoom
	}
	return nil
}

// ZeroHeader clears the head reservation entirely.
func (b *Buffer) ZeroHeader() { b.headRoom = 0 }

// AdjustTail grows (value > 0) or shrinks (value < 0) the tail
// reservation. Shrinking below zero, or growing past the free space
// after the payload (GetAvailable), fails with a BoundaryError.
func (b *Buffer) AdjustTail(value int) error {
	if value < 0 && -value > b.tailRoom {
		return boundary("stream.Buffer.AdjustTail", -value, b.tailRoom)
	}
	room := b.GetAvailable()
	if value > 0 && value > room {
		return boundary("stream.Buffer.AdjustTail", value, room)
	}

	b.tailRoom += value
	return nil
}

// ZeroTail clears the tail reservation entirely.
func (b *Buffer) ZeroTail() { b.tailRoom = 0 }

// GetSize returns the usable window size: rawSize minus both reservations.
func (b *Buffer) GetSize() int {
	return b.rawSize - (b.headRoom + b.tailRoom)
}

// GetPayload returns the real payload length, excluding the header room.
func (b *Buffer) GetPayload() int {
	return b.payload - b.headRoom
}

// GetAvailable returns the usable trailing space still free for payload,
// saturating at zero.
func (b *Buffer) GetAvailable() int {
	ret := b.rawSize - b.payload
	if ret < b.tailRoom {
		return 0
	}
	return ret - b.tailRoom
}

// SetPayload sets the payload length to headRoom+size. If shrink is false
// and size is smaller than the current payload, the call is a no-op
// instead of truncating data already written.
func (b *Buffer) SetPayload(size int, shrink bool) error {
	if !shrink && size < b.GetPayload() {
		return nil
	}
	if size > b.GetSize() {
		return boundary("stream.Buffer.SetPayload", size, b.GetSize())
	}
	b.payload = size + b.headRoom
	return nil
}

// AdjustPayload grows or shrinks the payload length by value bytes.
func (b *Buffer) AdjustPayload(value int) error {
	if value < 0 && -value > b.GetPayload() {
		return boundary("stream.Buffer.AdjustPayload", -value, b.GetPayload())
	}
	return b.SetPayload(b.GetPayload()+value, true)
}

// SetPayloadFull marks the whole usable window (minus tail room) as
// payload, e.g. after a transport read fills the buffer.
func (b *Buffer) SetPayloadFull() { b.payload = b.rawSize - b.tailRoom }

// SetPayloadEmpty marks the buffer as holding no payload.
func (b *Buffer) SetPayloadEmpty() { b.payload = b.headRoom }

// Begin returns the offset of the first usable byte (past head room).
func (b *Buffer) Begin() int { return b.headRoom }

// EndPayload returns the offset one past the last payload byte.
func (b *Buffer) EndPayload() int { return b.payload }

// End returns the offset one past the usable window (rawSize - tailRoom).
func (b *Buffer) End() int { return b.rawSize - b.tailRoom }

// Bytes exposes the full backing slice. Callers should index it with
// Begin/EndPayload/End rather than assume any particular window.
func (b *Buffer) Bytes() []byte { return b.raw }

// Release returns the backing bytes to their originating Pool. This is
// the only reclamation path: a Buffer must never be reused after Release.
func (b *Buffer) Release() {
	if b.backend != nil && b.elem != nil {
		b.backend.retElement(b.elem)
		b.elem = nil
		b.backend = nil
	}
}
