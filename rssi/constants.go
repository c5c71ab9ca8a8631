package rssi

// Header flag bits in byte 0: SYN is bit 7, ACK bit 6, EAK bit 5, RST
// bit 4, NUL bit 3 and BUSY bit 0. Header.Verify tells a SYN segment
// apart by its FlagSyn bit.
const (
	FlagBusy uint8 = 1 << 0
	// bits 1 and 2 reserved, always zero
	FlagNul uint8 = 1 << 3
	FlagRst uint8 = 1 << 4
	FlagEak uint8 = 1 << 5
	FlagAck uint8 = 1 << 6
	FlagSyn uint8 = 1 << 7
)

// Header sizes in bytes. The wire layout's header-length field reports
// SynDeclaredLength (24) for a SYN segment even though the encoded span
// is SynHeaderSize (28): the 4-byte connection id sits at bytes 22-25,
// straddling the 24-byte mark, and is followed by two zero bytes.
const (
	HeaderSize        = 8  // non-SYN header
	SynDeclaredLength = 24 // value written into the header-length field for SYN segments
	SynHeaderSize     = 28 // actual bytes encoded/verified for a SYN segment
)

// Protocol version and local connection defaults, matching the teacher's
// "implementation-chosen request values" allowance in §6.
const (
	Version       = 1
	LocMaxBuffers = 32
	TimeoutUnit   = 3 // 10^3 microseconds = 1ms per unit

	ReqRetranTout = 50   // ms: retransmission timeout we request
	ReqCumAckTout = 5    // ms: cumulative ack timeout we request
	ReqNullTout   = 3000 // ms: keep-alive timeout we request
	ReqMaxRetran  = 15
	ReqMaxCumAck  = 2

	TryPeriod = 250 // ms between unanswered SYN attempts

	// BusyThold is the application-RX queue depth at which we advertise
	// BUSY to our peer (rpr::Controller::getBusy in the original).
	BusyThold = 30

	DefaultSegmentSize = 1024
)
