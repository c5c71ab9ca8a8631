package rssi

import "github.com/Clouded-Sabre/rssi-go/stream"

// Transport is the Controller's collaborator on the network side: it
// moves whole segments to and from the wire. SendFrame is synchronous
// best-effort — the Controller is responsible for retransmission, not
// Transport. ReqFrame allocates a Frame sized for size bytes of segment
// (header included), optionally as a zero-copy Frame capped at
// maxBuffSize per Buffer.
type Transport interface {
	SendFrame(frame *stream.Frame) error
	ReqFrame(size int, zeroCopy bool, maxBuffSize int) (*stream.Frame, error)
}
