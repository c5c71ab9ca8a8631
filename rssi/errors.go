package rssi

import "errors"

// Sentinel errors surfaced across the Controller/Header/queue boundary.
// ErrProtocolTimeout and ErrVerificationFailure name conditions the
// Controller handles internally (retransmission up to maxRetran before a
// reset, and a silent drop counted in dropCount); no function in this
// package returns them.
var (
	ErrEmptyFrame          = errors.New("rssi: frame has no buffers")
	ErrHeaderSpace         = errors.New("rssi: first buffer lacks reserved head room for header")
	ErrProtocolTimeout     = errors.New("rssi: segment not acknowledged within retransmission timeout")
	ErrVerificationFailure = errors.New("rssi: incoming segment failed header verification")
	ErrConnectionReset     = errors.New("rssi: connection reset")
	ErrNotOpen             = errors.New("rssi: connection is not open")
	ErrQueueClosed         = errors.New("rssi: queue closed")
)
