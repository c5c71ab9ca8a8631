package stream

import (
	"log"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Pool mints raw-memory Buffers and reclaims them when they are released.
// meta is an opaque, Pool-private tag a Buffer carries back on release so
// that a Pool implementation (e.g. a hardware DMA pool) can identify the
// backing descriptor it handed out.
type Pool interface {
	ReqBuffer(size int) (*Buffer, error)
	RetBuffer(raw []byte, meta uint32, allocSize int)
	RawSize() int
}

// rawChunk is the ringpool DataInterface implementation backing every
// Buffer minted by RingBufferPool. It carries nothing but the fixed-size
// byte slice; all head/tail/payload bookkeeping lives in Buffer itself.
type rawChunk struct {
	bytes []byte
}

func newRawChunk(params ...interface{}) rp.DataInterface {
	size, ok := params[0].(int)
	if !ok {
		log.Println("stream.newRawChunk: invalid raw size parameter")
		return nil
	}
	return &rawChunk{bytes: make([]byte, size)}
}

func (r *rawChunk) SetContent(s string) {
	r.bytes = []byte(s)
}

func (r *rawChunk) Reset() {
	for i := range r.bytes {
		r.bytes[i] = 0
	}
}

func (r *rawChunk) PrintContent() {
	log.Println("Content:", r.bytes)
}

func (r *rawChunk) Copy(src []byte) error {
	n := copy(r.bytes, src)
	if n < len(src) {
		r.bytes = append(r.bytes[:n], src[n:]...)
	}
	return nil
}

func (r *rawChunk) GetSlice() []byte {
	return r.bytes
}

// RingBufferPool is the Pool used by the Controller and its transport
// adapters. It is a thin adaptation of the chunk pool pattern the teacher
// wires through lib/pool.go and lib/pcpcore.go, generalized so that any
// component (not just one protocol's payload) can request fixed-size
// Buffers from a shared ring of pre-allocated chunks.
type RingBufferPool struct {
	ring    *rp.RingPool
	rawSize int
	log     *log.Logger
}

// NewRingBufferPool creates a Pool of poolSize chunks, each rawSize bytes,
// following the same construction the teacher uses for its payload pool.
func NewRingBufferPool(name string, poolSize, rawSize int, debug bool) *RingBufferPool {
	rp.Debug = debug
	ring := rp.NewRingPool(name, poolSize, newRawChunk, rawSize)
	ring.Debug = debug
	ring.ProcessTimeThreshold = 10 * time.Millisecond

	return &RingBufferPool{
		ring:    ring,
		rawSize: rawSize,
		log:     log.New(log.Writer(), "[pool] ", log.LstdFlags),
	}
}

func (p *RingBufferPool) RawSize() int { return p.rawSize }

// ReqBuffer returns a fresh zero-length Buffer backed by a chunk from the
// ring. size is advisory; the ring always hands back a rawSize chunk, so a
// caller asking for more than rawSize gets a boundary error here rather
// than discovering it later through a head/tail adjustment failure.
func (p *RingBufferPool) ReqBuffer(size int) (*Buffer, error) {
	if size > p.rawSize {
		return nil, boundary("stream.RingBufferPool.ReqBuffer", size, p.rawSize)
	}

	elem := p.ring.GetElement()
	chunk, ok := elem.Data.(*rawChunk)
	if !ok {
		p.ring.ReturnElement(elem)
		return nil, boundary("stream.RingBufferPool.ReqBuffer", size, 0)
	}

	return &Buffer{
		backend: p,
		elem:    elem,
		raw:     chunk.bytes,
		rawSize: len(chunk.bytes),
	}, nil
}

// RetBuffer satisfies the Pool contract of §4.1/§6 for Buffers that did not
// come from this ring (e.g. constructed by a test or a non-ring Pool
// adapter being migrated). Buffers minted by ReqBuffer reclaim through the
// faster elem-reference path in retElement instead.
func (p *RingBufferPool) RetBuffer(raw []byte, meta uint32, allocSize int) {
	p.log.Println("RetBuffer called on a buffer with no backing ring element; dropped")
}

// retElement is the reclamation path Buffer.Release uses for buffers it
// minted itself, avoiding the need to search the ring by byte slice.
func (p *RingBufferPool) retElement(elem *rp.Element) {
	p.ring.ReturnElement(elem)
}
