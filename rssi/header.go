package rssi

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/Clouded-Sabre/rssi-go/stream"
)

// Header is an encode/decode view onto the first Buffer of a Frame. It
// does not allocate the bytes it reads or writes, but it shares
// ownership of its Frame through Retain/Release: the last Release
// returns the Frame's Buffers to their Pool. Callers are responsible for
// making room for the header bytes at the first Buffer's Begin() (for
// Update) or supplying a Frame whose payload starts with a wire-format
// segment (for Verify) before touching a Header.
type Header struct {
	frame *stream.Frame

	syn, ack, eak, rst, nul, busy bool
	sequence                      uint8
	acknowledge                   uint8

	// SYN extension fields, meaningful only when syn is true.
	version                uint8
	maxOutstandingSegments uint8
	maxSegmentSize         uint16
	retransmissionTimeout  uint16
	cumulativeAckTimeout   uint16
	nullTimeout            uint16
	maxRetransmissions     uint8
	maxCumulativeAck       uint8
	timeoutUnitExponent    uint8
	connectionID           uint32

	sendCount int
	txTime    time.Time

	// refs tracks how many of {the local variable that created this
	// Header, the stQueue, the appQueue, the retransmission table} still
	// need it. It starts at 1 for the creator; Retain/Release are the
	// Go stand-in for the reference counting a Frame's Buffers get for
	// free from boost::shared_ptr in the original — nothing else returns
	// a Buffer to its Pool, so whoever drops the last reference must.
	refs atomic.Int32
}

// NewHeader returns a Header bound to frame, owned by its creator until
// Retain/Release say otherwise.
func NewHeader(frame *stream.Frame) *Header {
	h := &Header{frame: frame}
	h.refs.Store(1)
	return h
}

// Retain adds one more owner of this Header's Frame.
func (h *Header) Retain() { h.refs.Add(1) }

// Release drops one owner of this Header's Frame, releasing the Frame's
// Buffers back to their Pool once the last owner has released it.
func (h *Header) Release() {
	if h.refs.Add(-1) == 0 {
		h.frame.Release()
	}
}

func (h *Header) Frame() *stream.Frame { return h.frame }

func (h *Header) GetSyn() bool { return h.syn }
func (h *Header) SetSyn(v bool) { h.syn = v }
func (h *Header) GetAck() bool { return h.ack }
func (h *Header) SetAck(v bool) { h.ack = v }
func (h *Header) GetEak() bool { return h.eak }
func (h *Header) SetEak(v bool) { h.eak = v }
func (h *Header) GetRst() bool { return h.rst }
func (h *Header) SetRst(v bool) { h.rst = v }
func (h *Header) GetNul() bool { return h.nul }
func (h *Header) SetNul(v bool) { h.nul = v }
func (h *Header) GetBusy() bool { return h.busy }
func (h *Header) SetBusy(v bool) { h.busy = v }

func (h *Header) GetSequence() uint8 { return h.sequence }
func (h *Header) SetSequence(v uint8) { h.sequence = v }
func (h *Header) GetAcknowledge() uint8 { return h.acknowledge }
func (h *Header) SetAcknowledge(v uint8) { h.acknowledge = v }

func (h *Header) GetVersion() uint8 { return h.version }
func (h *Header) SetVersion(v uint8) { h.version = v }

func (h *Header) GetMaxOutstandingSegments() uint8 { return h.maxOutstandingSegments }
func (h *Header) SetMaxOutstandingSegments(v uint8) { h.maxOutstandingSegments = v }

func (h *Header) GetMaxSegmentSize() uint16 { return h.maxSegmentSize }
func (h *Header) SetMaxSegmentSize(v uint16) { h.maxSegmentSize = v }

func (h *Header) GetRetransmissionTimeout() uint16 { return h.retransmissionTimeout }
func (h *Header) SetRetransmissionTimeout(v uint16) { h.retransmissionTimeout = v }

func (h *Header) GetCumulativeAckTimeout() uint16 { return h.cumulativeAckTimeout }
func (h *Header) SetCumulativeAckTimeout(v uint16) { h.cumulativeAckTimeout = v }

func (h *Header) GetNullTimeout() uint16 { return h.nullTimeout }
func (h *Header) SetNullTimeout(v uint16) { h.nullTimeout = v }

func (h *Header) GetMaxRetransmissions() uint8 { return h.maxRetransmissions }
func (h *Header) SetMaxRetransmissions(v uint8) { h.maxRetransmissions = v }

func (h *Header) GetMaxCumulativeAck() uint8 { return h.maxCumulativeAck }
func (h *Header) SetMaxCumulativeAck(v uint8) { h.maxCumulativeAck = v }

func (h *Header) GetTimeoutUnit() uint8 { return h.timeoutUnitExponent }
func (h *Header) SetTimeoutUnit(v uint8) { h.timeoutUnitExponent = v }

func (h *Header) GetConnectionID() uint32 { return h.connectionID }
func (h *Header) SetConnectionID(v uint32) { h.connectionID = v }

// RetranTimeout, CumAckTimeout and NullTimeout convert this Header's raw
// SYN-extension timeout fields into a time.Duration, per convTime.
func (h *Header) RetranTimeout() time.Duration { return convTime(h.retransmissionTimeout) }
func (h *Header) CumAckTimeout() time.Duration { return convTime(h.cumulativeAckTimeout) }
func (h *Header) NullTimeout() time.Duration { return convTime(h.nullTimeout) }

// TxInit (re)arms a Header for a fresh transmit attempt: it sets the syn
// and ack flags, zeroes the retransmit counter and stamps the send time.
// Callers typically follow it with explicit SetAck/SetRst/SetNul calls
// for flags TxInit doesn't cover.
func (h *Header) TxInit(syn, ack bool) {
	h.syn = syn
	h.ack = ack
	h.sendCount = 0
	h.txTime = time.Now()
}

// Count returns the number of times this Header has been sent since the
// last TxInit.
func (h *Header) Count() int { return h.sendCount }

// Time returns the timestamp of the last TxInit, Update or RstTime.
func (h *Header) Time() time.Time { return h.txTime }

// RstTime re-stamps the send time without resetting the retry counter,
// used when a retransmission is held back because the peer is busy.
func (h *Header) RstTime() { h.txTime = time.Now() }

func (h *Header) headerLen() int {
	if h.syn {
		return SynHeaderSize
	}
	return HeaderSize
}

func (h *Header) flagByte() byte {
	var f byte
	if h.busy {
		f |= FlagBusy
	}
	if h.nul {
		f |= FlagNul
	}
	if h.rst {
		f |= FlagRst
	}
	if h.eak {
		f |= FlagEak
	}
	if h.ack {
		f |= FlagAck
	}
	if h.syn {
		f |= FlagSyn
	}
	return f
}

// Update encodes the Header's fields into the wire-format bytes sitting
// at the first Buffer's Begin() offset, writing HeaderSize or
// SynHeaderSize bytes depending on whether syn is set. The usable window
// from Begin() must hold that many bytes; for a data segment the caller
// first gives back the head room ReqFrame reserved (AdjustHeader with a
// negative value) so the header lands just in front of the payload, as
// ApplicationRx does. Each call counts as one physical send: it bumps
// the retransmit counter and restamps the send time, so Update must be
// called exactly once per transmit attempt (including retransmits).
func (h *Header) Update() error {
	h.sendCount++
	h.txTime = time.Now()

	buf := h.frame.GetBuffer(0)
	n := h.headerLen()
	if buf.GetSize() < n {
		return ErrHeaderSpace
	}
	data := buf.Bytes()[buf.Begin() : buf.Begin()+n]

	data[0] = h.flagByte()
	if h.syn {
		data[1] = SynDeclaredLength
	} else {
		data[1] = HeaderSize
	}
	data[2] = h.sequence
	data[3] = h.acknowledge
	binary.BigEndian.PutUint16(data[4:6], 0) // checksum computed below
	data[6] = 0
	data[7] = 0

	if h.syn {
		data[8] = h.version<<4 // high nibble version, low nibble reserved
		data[9] = h.maxOutstandingSegments
		binary.BigEndian.PutUint16(data[10:12], h.maxSegmentSize)
		binary.BigEndian.PutUint16(data[12:14], h.retransmissionTimeout)
		binary.BigEndian.PutUint16(data[14:16], h.cumulativeAckTimeout)
		binary.BigEndian.PutUint16(data[16:18], h.nullTimeout)
		data[18] = h.maxRetransmissions
		data[19] = h.maxCumulativeAck
		data[20] = h.timeoutUnitExponent
		data[21] = 0
		binary.BigEndian.PutUint32(data[22:26], h.connectionID)
		data[26] = 0
		data[27] = 0
	}

	binary.BigEndian.PutUint16(data[4:6], checksum16(data))

	// A bare control segment (SYN/ACK/RST/NUL) carries no application
	// payload of its own, so nothing else has advanced the payload past
	// head room; make sure the header bytes themselves count as payload
	// so Transport sends them. SetPayload's no-shrink rule makes this a
	// no-op when a data segment's payload already extends past n.
	return buf.SetPayload(n, false)
}

// Verify decodes the wire-format bytes at the first Buffer's Begin()
// offset into the Header's fields, validating the header-length field
// and checksum first. It returns false (with no fields populated) if the
// frame doesn't look like a well-formed segment.
func (h *Header) Verify() bool {
	buf := h.frame.GetBuffer(0)
	avail := buf.EndPayload() - buf.Begin()
	if avail < HeaderSize {
		return false
	}
	base := buf.Begin()
	raw := buf.Bytes()

	flags := raw[base]
	syn := flags&FlagSyn != 0
	n := HeaderSize
	declared := HeaderSize
	if syn {
		n = SynHeaderSize
		declared = SynDeclaredLength
	}
	if avail < n {
		return false
	}
	data := raw[base : base+n]

	if int(data[1]) != declared {
		return false
	}

	received := binary.BigEndian.Uint16(data[4:6])
	binary.BigEndian.PutUint16(data[4:6], 0)
	calculated := checksum16(data)
	binary.BigEndian.PutUint16(data[4:6], received)
	if received != calculated {
		return false
	}

	h.busy = flags&FlagBusy != 0
	h.nul = flags&FlagNul != 0
	h.rst = flags&FlagRst != 0
	h.eak = flags&FlagEak != 0
	h.ack = flags&FlagAck != 0
	h.syn = syn
	h.sequence = data[2]
	h.acknowledge = data[3]

	if syn {
		h.version = data[8] >> 4
		h.maxOutstandingSegments = data[9]
		h.maxSegmentSize = binary.BigEndian.Uint16(data[10:12])
		h.retransmissionTimeout = binary.BigEndian.Uint16(data[12:14])
		h.cumulativeAckTimeout = binary.BigEndian.Uint16(data[14:16])
		h.nullTimeout = binary.BigEndian.Uint16(data[16:18])
		h.maxRetransmissions = data[18]
		h.maxCumulativeAck = data[19]
		h.timeoutUnitExponent = data[20]
		h.connectionID = binary.BigEndian.Uint32(data[22:26])
	}
	return true
}

// checksum16 computes the 1's-complement checksum over buf (treated as
// big-endian 16-bit words): sum, fold the carries back in, complement.
// It covers the header bytes alone, not a pseudo-header or payload.
func checksum16(buf []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(buf); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[i : i+2]))
	}
	if len(buf)%2 != 0 {
		sum += uint32(buf[len(buf)-1]) << 8
	}
	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16
	return ^uint16(sum)
}
