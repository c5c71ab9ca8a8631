package stream

// Frame is an ordered sequence of Buffers forming one logical message. A
// Frame never exposes Buffer boundaries to its callers beyond
// GetBuffer/GetCount — everything else is addressed through a
// FrameIterator's flat byte view.
type Frame struct {
	buffers []*Buffer
}

// NewFrame returns an empty Frame.
func NewFrame() *Frame {
	return &Frame{}
}

// AppendBuffer adds a Buffer to the end of the Frame.
func (f *Frame) AppendBuffer(b *Buffer) {
	f.buffers = append(f.buffers, b)
}

// GetBuffer returns the i'th Buffer.
func (f *Frame) GetBuffer(i int) *Buffer {
	return f.buffers[i]
}

// GetCount returns the number of Buffers in the Frame.
func (f *Frame) GetCount() int {
	return len(f.buffers)
}

// GetSize returns the sum of each Buffer's usable window.
func (f *Frame) GetSize() int {
	total := 0
	for _, b := range f.buffers {
		total += b.GetSize()
	}
	return total
}

// GetPayload returns the sum of each Buffer's payload length.
func (f *Frame) GetPayload() int {
	total := 0
	for _, b := range f.buffers {
		total += b.GetPayload()
	}
	return total
}

// GetAvailable returns size minus payload.
func (f *Frame) GetAvailable() int {
	return f.GetSize() - f.GetPayload()
}

// Release returns every Buffer in the Frame to its Pool. A Frame must not
// be used after Release.
func (f *Frame) Release() {
	for _, b := range f.buffers {
		b.Release()
	}
	f.buffers = nil
}

// Begin returns a FrameIterator at the start of the Frame's writable or
// readable region, depending on write. Write iterators start at each
// Buffer's head room; read iterators start at the same offset but are
// bounded by payload, not by the raw usable window.
func (f *Frame) Begin(write bool) *FrameIterator {
	it := &FrameIterator{frame: f, write: write}
	it.seek(0)
	return it
}

// End returns a FrameIterator one past the last addressable byte: the sum
// of payloads for a read iterator, or the sum of usable windows for a
// write iterator.
func (f *Frame) End(write bool) *FrameIterator {
	it := &FrameIterator{frame: f, write: write}
	if write {
		it.seek(f.GetSize())
	} else {
		it.seek(f.GetPayload())
	}
	return it
}

func (f *Frame) boundLen(bufIdx int, write bool) int {
	b := f.buffers[bufIdx]
	if write {
		return b.GetSize()
	}
	return b.GetPayload()
}
