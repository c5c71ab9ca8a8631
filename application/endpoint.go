// Package application is the user-facing side of an RSSI connection:
// an io.ReadWriteCloser built on top of a *rssi.Controller, mimicking
// the net lib TCP Read/Write/Close interface the way the teacher's
// lib/server/connection.go and lib/client/connection.go do for PCP.
package application

import (
	"errors"
	"fmt"
	"io"

	"github.com/Clouded-Sabre/rssi-go/rssi"
)

// ErrBufferTooShort is returned by Read when the caller's buffer
// can't hold one full reassembled segment; RSSI has no partial-read
// semantics for a segment the way a TCP stream does, so the options
// are deliver it whole or report it doesn't fit.
var ErrBufferTooShort = errors.New("application: buffer too short for received segment")

// Endpoint adapts one rssi.Controller into an io.ReadWriteCloser. It
// is safe for one reader and one writer goroutine to use
// concurrently, matching Controller's own TransportRx/ApplicationTx/
// ApplicationRx concurrency contract.
type Endpoint struct {
	c *rssi.Controller
}

// NewEndpoint wraps a Controller that has already been constructed
// and attached to a Transport (rssi.NewController, Transport.Attach).
func NewEndpoint(c *rssi.Controller) *Endpoint {
	return &Endpoint{c: c}
}

// Read blocks for the next reassembled segment of application data
// and copies it into buffer, mimicking the net lib TCP Read
// interface. It returns io.EOF once the Controller has been reset or
// closed and has no more buffered data to deliver.
func (e *Endpoint) Read(buffer []byte) (int, error) {
	frame, err := e.c.ApplicationTx()
	if err != nil {
		if errors.Is(err, rssi.ErrConnectionReset) {
			return 0, io.EOF
		}
		return 0, err
	}
	defer frame.Release()

	buf := frame.GetBuffer(0)
	payload := buf.Bytes()[buf.Begin():buf.EndPayload()]
	if len(payload) > len(buffer) {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrBufferTooShort, len(buffer), len(payload))
	}
	copy(buffer[:len(payload)], payload)
	return len(payload), nil
}

// Write sends buffer as one RSSI segment, mimicking the net lib TCP
// Write interface. The Controller fragments nothing (multi-segment
// fragmentation is out of scope, per spec.md's Non-goals), so buffer
// must fit within the negotiated segment size.
func (e *Endpoint) Write(buffer []byte) (int, error) {
	frame, err := e.c.ReqFrame(len(buffer))
	if err != nil {
		return 0, err
	}
	buf := frame.GetBuffer(0)
	copy(buf.Bytes()[buf.Begin():], buffer)
	if err := buf.AdjustPayload(len(buffer)); err != nil {
		frame.Release()
		return 0, err
	}

	if err := e.c.ApplicationRx(frame); err != nil {
		frame.Release()
		return 0, err
	}
	return len(buffer), nil
}

// Close tears down the underlying Controller, which sends a final RST
// to the peer (Controller.Close's stateError path).
func (e *Endpoint) Close() error {
	e.c.Close()
	return nil
}
