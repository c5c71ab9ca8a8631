package rssi

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Clouded-Sabre/rssi-go/stream"
)

// State is one of the Controller's five connection states.
type State int32

const (
	StateClosed State = iota
	StateWaitSyn
	StateSendSeqAck
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateWaitSyn:
		return "wait-syn"
	case StateSendSeqAck:
		return "send-seq-ack"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Controller is the single state machine driving one RSSI connection.
// Every state transition happens on its own worker goroutine;
// TransportRx/ApplicationRx/ApplicationTx are the only methods meant to
// be called concurrently from other goroutines. TransportRx hands SYN/RST
// segments to the worker through stQueue and data to the application
// through appQueue; ApplicationRx claims a sequence number and adds its
// segment to txList itself, under txMtx.
type Controller struct {
	tran Transport

	segmentSize uint32

	state State32

	dropCount   atomic.Uint32
	downCount   atomic.Uint32
	retranCount atomic.Uint32

	nextSeqRx uint8
	lastAckRx uint8
	lastSeqRx uint8
	tranBusy  bool

	stTime time.Time
	wake   chan struct{}

	txMtx       sync.Mutex
	txList      [256]*Header
	txListCount int
	prevAckRx   uint8
	lastAckTx   uint8
	locSequence uint8
	txTime      time.Time

	locConnID     uint32
	remMaxBuffers uint8
	remMaxSegment uint32
	retranTout    uint16
	cumAckTout    uint16
	nullTout      uint16
	maxRetran     uint8
	maxCumAck     uint8
	remConnID     uint32

	stQueue  *headerQueue
	appQueue *headerQueue

	doneCh chan struct{}
	wg     sync.WaitGroup
	log    *log.Logger
}

// State32 wraps sync/atomic.Int32 so that Controller.state loads and
// stores typed State values.
type State32 struct {
	v atomic.Int32
}

func (s *State32) Load() State   { return State(s.v.Load()) }
func (s *State32) Store(v State) { s.v.Store(int32(v)) }

// NewController creates a Controller for one RSSI connection and starts
// its worker goroutine. segmentSize bounds the size of Frames requested
// from tran; locConnID should be unique per process (e.g. derived from
// the local endpoint and a random nonce). The Application side of the
// connection is not a collaborator Controller calls into — it is
// whatever external code calls ApplicationRx/ApplicationTx directly
// (application.Endpoint wraps that pair into an io.ReadWriteCloser).
func NewController(segmentSize uint32, locConnID uint32, tran Transport) *Controller {
	c := &Controller{
		tran:        tran,
		segmentSize: segmentSize,
		locConnID:   locConnID,
		locSequence: 100,
		remMaxSegment: 100,
		retranTout:  ReqRetranTout,
		cumAckTout:  ReqCumAckTout,
		nullTout:    ReqNullTout,
		maxRetran:   ReqMaxRetran,
		maxCumAck:   ReqMaxCumAck,
		stTime:      time.Now(),
		txTime:      time.Now(),
		wake:        make(chan struct{}, 1),
		stQueue:     newHeaderQueue(),
		appQueue:    newHeaderQueue(),
		doneCh:      make(chan struct{}),
		log:         log.New(log.Writer(), "[rssi] ", log.LstdFlags),
	}

	c.wg.Add(1)
	go c.run()
	return c
}

// Close tears the connection down, sending a final RST, and waits for
// the worker goroutine to exit.
func (c *Controller) Close() {
	close(c.doneCh)
	c.wg.Wait()
	c.appQueue.close()
	c.stQueue.close()
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ReqFrame allocates a Frame sized for size bytes of application
// payload plus header, clamped to the remote's advertised max segment
// and our own configured segment size, with head room already reserved
// for the header. Callers write payload starting at the first Buffer's
// Begin() and pass the Frame to ApplicationRx once full.
func (c *Controller) ReqFrame(size int) (*stream.Frame, error) {
	nSize := size + HeaderSize
	if remMax := int(c.remMaxSegment); remMax > 0 && nSize > remMax {
		nSize = remMax
	}
	if nSize > int(c.segmentSize) {
		nSize = int(c.segmentSize)
	}

	frame, err := c.tran.ReqFrame(nSize, false, nSize)
	if err != nil {
		return nil, err
	}
	buffer := frame.GetBuffer(0)

	if buffer.GetAvailable() < HeaderSize {
		frame.Release()
		return nil, ErrHeaderSpace
	}
	if err := buffer.AdjustHeader(HeaderSize); err != nil {
		frame.Release()
		return nil, err
	}

	if frame.GetCount() > 1 {
		for i := 1; i < frame.GetCount(); i++ {
			frame.GetBuffer(i).Release()
		}
		trimmed := stream.NewFrame()
		trimmed.AppendBuffer(buffer)
		frame = trimmed
	}
	return frame, nil
}

// TransportRx is called by the Transport side whenever a segment
// arrives off the wire.
func (c *Controller) TransportRx(frame *stream.Frame) {
	if frame.GetCount() == 0 {
		frame.Release()
		c.dropCount.Add(1)
		return
	}

	head := NewHeader(frame)
	if !head.Verify() {
		c.dropCount.Add(1)
		head.Release()
		return
	}

	if head.GetAck() {
		c.lastAckRx = head.GetAcknowledge()
	}
	c.tranBusy = head.GetBusy()

	state := c.state.Load()

	if (state == StateOpen || state == StateWaitSyn) && (head.GetSyn() || head.GetRst()) {
		head.Retain()
		if err := c.stQueue.push(head); err != nil {
			head.Release()
		}
	}

	if head.GetSyn() || (state == StateOpen &&
		(head.GetNul() || frame.GetPayload() > HeaderSize) &&
		head.GetSequence() == c.nextSeqRx) {

		if head.GetSyn() {
			c.nextSeqRx = head.GetSequence() + 1
		} else {
			c.nextSeqRx++
		}

		head.Retain()
		if err := c.appQueue.push(head); err != nil {
			head.Release()
		}
	}

	head.Release() // drop TransportRx's own reference
	c.signal()
}

// ApplicationTx is called by the Application side to obtain the next
// fully reassembled Frame of user data. It blocks until one is
// available, the connection is reset, or the Controller is closed; the
// last two return ErrConnectionReset.
func (c *Controller) ApplicationTx() (*stream.Frame, error) {
	down := c.downCount.Load()
	for {
		head, ok := c.appQueue.pop(convTime(TryPeriod) / 4)
		if !ok {
			if c.appQueue.isClosed() || c.downCount.Load() != down {
				return nil, ErrConnectionReset
			}
			continue
		}

		c.lastSeqRx = head.GetSequence()
		c.signal()

		if head.GetNul() || head.GetSyn() {
			head.Release()
			continue
		}

		frame := head.Frame()
		buf := frame.GetBuffer(0)
		if err := buf.AdjustHeader(HeaderSize); err != nil {
			head.Release()
			return nil, err
		}
		return frame, nil
	}
}

// ApplicationRx is called by the Application side to transmit one
// Frame of user data. The Frame's first Buffer must already have
// HeaderSize bytes of head room reserved (as reqFrame/ReqFrame leaves
// it). ApplicationRx blocks while the outstanding-segment window is
// full and the connection remains open.
func (c *Controller) ApplicationRx(frame *stream.Frame) error {
	if frame.GetCount() == 0 {
		return ErrEmptyFrame
	}
	buf := frame.GetBuffer(0)
	if buf.HeadRoom() < HeaderSize {
		return ErrHeaderSpace
	}
	if err := buf.AdjustHeader(-HeaderSize); err != nil {
		return err
	}

	head := NewHeader(frame)
	head.TxInit(false, false)
	head.SetAck(true)

	for {
		c.txMtx.Lock()
		full := c.txListCount >= int(c.remMaxBuffers)
		c.txMtx.Unlock()
		if !full || c.state.Load() != StateOpen {
			break
		}
		time.Sleep(10 * time.Microsecond)
	}

	if c.state.Load() != StateOpen {
		head.Release()
		return ErrNotOpen
	}

	c.txMtx.Lock()
	c.transportTx(head, true)
	c.txMtx.Unlock()
	head.Release()

	c.signal()
	return nil
}

func (c *Controller) GetOpen() bool          { return c.state.Load() == StateOpen }
func (c *Controller) GetState() State        { return c.state.Load() }
func (c *Controller) GetDownCount() uint32   { return c.downCount.Load() }
func (c *Controller) GetDropCount() uint32   { return c.dropCount.Load() }
func (c *Controller) GetRetranCount() uint32 { return c.retranCount.Load() }
func (c *Controller) GetBusy() bool          { return c.appQueue.size() > BusyThold }

// transportTx sends head over the wire, stamping ack/busy and
// (when seqUpdate) claiming the next local sequence number and an extra
// reference held by the retransmission table. A segment not yet in the
// table is stamped with the next local sequence number; a retransmission
// of a segment already in the table keeps its own sequence number.
// Callers must hold txMtx.
func (c *Controller) transportTx(head *Header, seqUpdate bool) {
	if c.txList[head.GetSequence()] != head {
		head.SetSequence(c.locSequence)
	}

	if seqUpdate {
		head.Retain()
		c.txList[c.locSequence] = head
		c.txListCount++
		c.locSequence++
	}

	head.SetAcknowledge(c.lastSeqRx)
	head.SetBusy(c.appQueue.size() > BusyThold)
	if err := head.Update(); err != nil {
		c.log.Printf("transportTx: %v", err)
		return
	}

	c.lastAckTx = c.lastSeqRx
	c.txTime = time.Now()

	if err := c.tran.SendFrame(head.Frame()); err != nil {
		c.log.Printf("transportTx: send failed: %v", err)
	}
}

func convTime(units uint16) time.Duration {
	return time.Duration(units) * time.Millisecond
}

func timePassed(last time.Time, units uint16) bool {
	return time.Since(last) > convTime(units)
}

// run is the Controller's worker goroutine: one state handler per loop
// iteration, each one returning how long to wait before the loop should
// reconsider even if nothing else wakes it early.
func (c *Controller) run() {
	defer c.wg.Done()

	var wait time.Duration
	for {
		select {
		case <-c.doneCh:
			c.stateError()
			return
		case <-c.wake:
		case <-time.After(wait):
		}

		switch c.state.Load() {
		case StateClosed, StateWaitSyn:
			wait = c.stateClosedWait()
		case StateSendSeqAck:
			wait = c.stateSendSeqAck()
		case StateOpen:
			wait = c.stateOpen()
		case StateError:
			wait = c.stateError()
		}
	}
}

// stateClosedWait handles StateClosed and StateWaitSyn: react to a
// queued SYN-ACK or RST, or retry our own SYN once TryPeriod has
// elapsed without a reply.
func (c *Controller) stateClosedWait() time.Duration {
	if head, ok := c.stQueue.tryPop(); ok {
		switch {
		case head.GetRst():
			c.state.Store(StateClosed)
		case head.GetSyn() && head.GetAck():
			c.remMaxBuffers = head.GetMaxOutstandingSegments()
			c.remMaxSegment = uint32(head.GetMaxSegmentSize())
			c.retranTout = head.GetRetransmissionTimeout()
			c.cumAckTout = head.GetCumulativeAckTimeout()
			c.nullTout = head.GetNullTimeout()
			c.maxRetran = head.GetMaxRetransmissions()
			c.maxCumAck = head.GetMaxCumulativeAck()
			c.prevAckRx = head.GetAcknowledge()
			c.remConnID = head.GetConnectionID()
			c.state.Store(StateSendSeqAck)
			c.stTime = time.Now()
			c.log.Printf("rx %s, negotiated", head.Dump())
		}
		head.Release()
	} else if timePassed(c.stTime, TryPeriod) {
		frame, err := c.tran.ReqFrame(SynHeaderSize, false, SynHeaderSize)
		if err != nil {
			return convTime(TryPeriod) / 4
		}

		head := NewHeader(frame)
		head.TxInit(true, true)
		head.SetVersion(Version)
		head.SetMaxOutstandingSegments(LocMaxBuffers)
		head.SetMaxSegmentSize(uint16(c.segmentSize))
		head.SetRetransmissionTimeout(c.retranTout)
		head.SetCumulativeAckTimeout(c.cumAckTout)
		head.SetNullTimeout(c.nullTout)
		head.SetMaxRetransmissions(c.maxRetran)
		head.SetMaxCumulativeAck(c.maxCumAck)
		head.SetTimeoutUnit(TimeoutUnit)
		head.SetConnectionID(c.locConnID)

		c.txMtx.Lock()
		c.transportTx(head, true)
		c.txMtx.Unlock()
		head.Release()

		c.stTime = time.Now()
		c.state.Store(StateWaitSyn)
	}
	return convTime(TryPeriod) / 4
}

// stateSendSeqAck sends the ack that completes the three-way handshake
// and moves straight to StateOpen.
func (c *Controller) stateSendSeqAck() time.Duration {
	frame, err := c.tran.ReqFrame(HeaderSize, false, HeaderSize)
	if err != nil {
		return convTime(c.cumAckTout / 2)
	}

	ack := NewHeader(frame)
	ack.TxInit(false, true)
	ack.SetAck(true)
	ack.SetNul(false)

	c.txMtx.Lock()
	c.transportTx(ack, false)
	c.txMtx.Unlock()
	ack.Release()

	c.state.Store(StateOpen)
	return convTime(c.cumAckTout / 2)
}

// stateOpen is the steady-state handler: drain any queued control
// segment as a fatal error, retire acked entries from the
// retransmission table, retransmit expired ones, and send a standalone
// ack or NUL if one is due.
func (c *Controller) stateOpen() time.Duration {
	locAckRx := c.lastAckRx
	locSeqRx := c.lastSeqRx
	locSeqTx := c.locSequence - 1

	if head, ok := c.stQueue.tryPop(); ok {
		head.Release()
		c.state.Store(StateError)
		c.stTime = time.Now()
		return 0
	}

	if locAckRx != c.prevAckRx {
		c.txMtx.Lock()
		for locAckRx != c.prevAckRx {
			c.prevAckRx++
			if old := c.txList[c.prevAckRx]; old != nil {
				old.Release()
				c.txList[c.prevAckRx] = nil
			}
			c.txListCount--
		}
		c.txMtx.Unlock()
	}

	errored := false
	if locAckRx != locSeqTx {
		c.txMtx.Lock()
		for idx := locAckRx + 1; idx != locSeqTx+1; idx++ {
			head := c.txList[idx]
			if head == nil {
				continue
			}
			if c.tranBusy {
				head.RstTime()
			} else if timePassed(head.Time(), c.retranTout) {
				if head.Count() >= int(c.maxRetran) {
					errored = true
					break
				}
				c.transportTx(head, false)
				c.retranCount.Add(1)
			}
		}
		c.txMtx.Unlock()
	}
	if errored {
		c.state.Store(StateError)
		c.stTime = time.Now()
		return 0
	}

	c.txMtx.Lock()
	locTime := c.txTime
	var ackPend uint8
	for idx := c.lastAckTx; idx != locSeqRx; idx++ {
		ackPend++
	}
	c.txMtx.Unlock()

	doNull := timePassed(locTime, c.nullTout/3)

	if doNull || ackPend >= c.maxCumAck ||
		((ackPend > 0 || c.appQueue.size() > BusyThold) && timePassed(locTime, c.cumAckTout)) {

		frame, err := c.tran.ReqFrame(HeaderSize, false, HeaderSize)
		if err == nil {
			head := NewHeader(frame)
			head.TxInit(false, true)
			head.SetAck(true)
			head.SetNul(doNull)

			c.txMtx.Lock()
			c.transportTx(head, doNull)
			c.txMtx.Unlock()
			head.Release()
		}
	}

	return convTime(c.cumAckTout / 2)
}

// stateError sends a reset, drops every outstanding segment and queued
// control/application frame, and returns to StateClosed to retry the
// handshake.
func (c *Controller) stateError() time.Duration {
	frame, err := c.tran.ReqFrame(HeaderSize, false, HeaderSize)
	if err == nil {
		rst := NewHeader(frame)
		rst.TxInit(false, true)
		rst.SetRst(true)

		c.txMtx.Lock()
		c.transportTx(rst, true)
		c.txMtx.Unlock()
		rst.Release()
	}

	c.txMtx.Lock()
	for i := range c.txList {
		if c.txList[i] != nil {
			c.txList[i].Release()
			c.txList[i] = nil
		}
	}
	c.txListCount = 0
	c.txMtx.Unlock()

	c.downCount.Add(1)
	c.state.Store(StateClosed)

	c.appQueue.reset()
	c.stQueue.reset()

	c.stTime = time.Now()
	return convTime(TryPeriod)
}
