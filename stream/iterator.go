package stream

// FrameIterator is a random-access cursor over a Frame's logical byte
// sequence. A write iterator walks each Buffer's whole usable window; a
// read iterator is bounded by each Buffer's payload instead. Iterators
// are invalidated by any resize of the underlying Frame — nothing caches
// lengths beyond construction/seek time.
type FrameIterator struct {
	frame *Frame
	write bool

	framePos int
	bufIdx   int
	bufPos   int
}

func (it *FrameIterator) bufLen(idx int) int {
	return it.frame.boundLen(idx, it.write)
}

// seek repositions the iterator to the given logical frame offset,
// normalizing onto the first buffer boundary it lands on so that a
// position exactly at the end of buffer i is represented as the start of
// buffer i+1 whenever a next buffer exists. This is what makes EndBuffer
// useful as a loop sentinel.
func (it *FrameIterator) seek(pos int) {
	it.framePos = pos

	n := it.frame.GetCount()
	if n == 0 {
		it.bufIdx, it.bufPos = 0, pos
		return
	}

	rem := pos
	for idx := 0; idx < n; idx++ {
		length := it.bufLen(idx)
		if rem < length || idx == n-1 {
			it.bufIdx, it.bufPos = idx, rem
			return
		}
		rem -= length
	}
}

func (it *FrameIterator) buffer() *Buffer {
	return it.frame.GetBuffer(it.bufIdx)
}

func (it *FrameIterator) baseOffset() int {
	return it.buffer().Begin() + it.bufPos
}

// Get dereferences the byte at the current position.
func (it *FrameIterator) Get() byte {
	return it.buffer().Bytes()[it.baseOffset()]
}

// Set writes the byte at the current position (write iterators only).
func (it *FrameIterator) Set(v byte) {
	it.buffer().Bytes()[it.baseOffset()] = v
}

// At dereferences the byte at the given offset relative to the iterator.
func (it *FrameIterator) At(offset int) byte {
	return it.Add(offset).Get()
}

// FramePos returns the iterator's logical position within the Frame.
func (it *FrameIterator) FramePos() int { return it.framePos }

// EndBuffer returns an iterator marking the first byte not in the
// iterator's current Buffer — the start of the next Buffer if there is
// one with valid data/room, or the Frame's own end otherwise.
func (it *FrameIterator) EndBuffer() *FrameIterator {
	end := it.framePos + it.RemBuffer()
	next := &FrameIterator{frame: it.frame, write: it.write}
	next.seek(end)
	return next
}

// RemBuffer returns the number of bytes remaining in the iterator's
// current Buffer, from the iterator's position to that Buffer's end.
func (it *FrameIterator) RemBuffer() int {
	return it.bufLen(it.bufIdx) - it.bufPos
}

// Slice returns the contiguous bytes in the current Buffer from the
// iterator's position to that Buffer's end — the fast-path chunk
// toFrame/fromFrame copy in one shot before crossing to the next Buffer.
func (it *FrameIterator) Slice() []byte {
	b := it.buffer()
	base := it.baseOffset()
	return b.Bytes()[base : base+it.RemBuffer()]
}

// Advance moves the iterator forward (or backward, for negative n) by n
// bytes in place.
func (it *FrameIterator) Advance(n int) {
	it.seek(it.framePos + n)
}

// Add returns a new iterator n bytes ahead of this one.
func (it *FrameIterator) Add(n int) *FrameIterator {
	next := &FrameIterator{frame: it.frame, write: it.write}
	next.seek(it.framePos + n)
	return next
}

// Sub returns a new iterator n bytes behind this one.
func (it *FrameIterator) Sub(n int) *FrameIterator {
	return it.Add(-n)
}

// Diff returns the difference in logical position between it and other.
func (it *FrameIterator) Diff(other *FrameIterator) int {
	return it.framePos - other.framePos
}

func (it *FrameIterator) Equal(other *FrameIterator) bool { return it.framePos == other.framePos }
func (it *FrameIterator) Less(other *FrameIterator) bool { return it.framePos < other.framePos }
func (it *FrameIterator) Greater(other *FrameIterator) bool { return it.framePos > other.framePos }
func (it *FrameIterator) LessEqual(other *FrameIterator) bool { return it.framePos <= other.framePos }
func (it *FrameIterator) GreaterEqual(o *FrameIterator) bool { return it.framePos >= o.framePos }

// CopyToFrame copies n bytes from src into the Frame at it, advancing it
// by n. Behavior when fewer than n bytes remain in the frame is undefined
// by contract — callers must check available space first.
func CopyToFrame(it *FrameIterator, n int, src []byte) {
	done := 0
	for done < n {
		chunk := it.RemBuffer()
		if chunk > n-done {
			chunk = n - done
		}
		copy(it.Slice()[:chunk], src[done:done+chunk])
		done += chunk
		it.Advance(chunk)
	}
}

// CopyFromFrame copies n bytes out of the Frame starting at it into dst,
// advancing it by n. Same undefined-behavior contract as CopyToFrame.
func CopyFromFrame(it *FrameIterator, n int, dst []byte) {
	done := 0
	for done < n {
		chunk := it.RemBuffer()
		if chunk > n-done {
			chunk = n - done
		}
		copy(dst[done:done+chunk], it.Slice()[:chunk])
		done += chunk
		it.Advance(chunk)
	}
}
