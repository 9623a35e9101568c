package spdy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/getlantern/ema"
	"github.com/getlantern/mtime"
)

// SessionState tracks a session through its life.
type SessionState int32

const (
	// SessionConnecting means the owning promise is still pending.
	SessionConnecting SessionState = iota
	// SessionActive means frames may flow.
	SessionActive
	// SessionGoingAway means a graceful-shutdown signal was sent or
	// received; no new streams are accepted but existing ones may finish.
	SessionGoingAway
	// SessionClosed means the underlying connection reported closure.
	SessionClosed
)

// SessionFrameListener receives the frames a session does not consume
// itself. Callbacks for one session are delivered in wire order, off the
// read loop. Any method may be a no-op; a nil listener is valid.
type SessionFrameListener interface {
	OnControl(s *Session, f *ControlFrame)
	OnData(s *Session, f *DataFrame)
	OnPing(s *Session, id uint32, rtt time.Duration)
	OnGoAway(s *Session)
}

// Session multiplexes logical streams over one connection. It is the
// parser's frame listener, owns the flow-control strategy, and is the unit
// returned to callers of Connect. Stream lifetimes are bounded by the
// session's.
type Session struct {
	version     uint16
	conn        *sessionConnection
	factory     *Factory
	listener    SessionFrameListener
	flowControl FlowControlStrategy
	dispatcher  *serialExecutor

	state    int32
	closedCh chan struct{}

	mx            sync.Mutex
	streams       map[uint32]*stream
	closedStreams map[uint32]bool
	nextStreamID  uint32
	nextPingID    uint32
	pings         map[uint32]mtime.Instant
	emaRTT        *ema.EMA
	goAwaySent    bool
}

// newSession wires a session to its connection. Client sessions use odd
// stream and ping identifiers, server sessions even.
func newSession(version uint16, conn *sessionConnection, factory *Factory, listener SessionFrameListener, flowControl FlowControlStrategy, executor Executor, client bool) *Session {
	s := &Session{
		version:       version,
		conn:          conn,
		factory:       factory,
		listener:      listener,
		flowControl:   flowControl,
		dispatcher:    newSerialExecutor(executor),
		state:         int32(SessionActive),
		closedCh:      make(chan struct{}),
		streams:       make(map[uint32]*stream),
		closedStreams: make(map[uint32]bool),
		pings:         make(map[uint32]mtime.Instant),
		emaRTT:        ema.NewDuration(0, 0.5),
	}
	if client {
		s.nextStreamID = 1
		s.nextPingID = 1
	} else {
		s.nextStreamID = 2
		s.nextPingID = 2
	}
	return s
}

// Version returns the session's protocol version.
func (s *Session) Version() uint16 {
	return s.version
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

// WindowSize returns the current send flow-control window. It may be
// transiently negative.
func (s *Session) WindowSize() int {
	return s.flowControl.WindowSize()
}

// SetWindowSize reinitializes the send window, preserving in-flight debits.
func (s *Session) SetWindowSize(size int) {
	s.flowControl.SetWindowSize(size)
}

// FlowControl exposes the session's flow-control strategy.
func (s *Session) FlowControl() FlowControlStrategy {
	return s.flowControl
}

// EndPoint exposes the endpoint carrying this session.
func (s *Session) EndPoint() *EndPoint {
	return s.conn.ep
}

// EMARTT reports the exponential moving average of ping round-trip times.
func (s *Session) EMARTT() time.Duration {
	return s.emaRTT.GetDuration()
}

// OnControlFrame implements FrameListener. PING, GOAWAY and WINDOW_UPDATE
// are consumed here; everything else is handed to the frame listener in
// order.
func (s *Session) OnControlFrame(f *ControlFrame) {
	switch f.Type {
	case TypePing:
		s.handlePing(f)
	case TypeGoAway:
		s.handleGoAway()
	case TypeWindowUpdate:
		s.handleWindowUpdate(f)
	default:
		if s.listener == nil {
			return
		}
		owned := cloneControlFrame(f)
		s.dispatcher.Submit(func() { s.listener.OnControl(s, owned) })
	}
}

// OnDataFrame implements FrameListener. Receipt of data credits the peer's
// window back once the frame has been handed off.
func (s *Session) OnDataFrame(f *DataFrame) {
	s.trackStream(f)
	if s.listener != nil {
		owned := cloneDataFrame(f)
		s.dispatcher.Submit(func() { s.listener.OnData(s, owned) })
	}
	if s.version >= Version3 && len(f.Data) > 0 {
		if err := s.sendWindowUpdate(0, len(f.Data)); err != nil {
			log.Debugf("Unable to send window update: %v", err)
		}
	}
}

func (s *Session) handlePing(f *ControlFrame) {
	if len(f.Payload) < 4 {
		return
	}
	id := binaryEncoding.Uint32(f.Payload)
	s.mx.Lock()
	sentAt, ours := s.pings[id]
	if ours {
		delete(s.pings, id)
	}
	s.mx.Unlock()
	if ours {
		rtt := mtime.Now().Sub(sentAt)
		s.emaRTT.UpdateDuration(rtt)
		if s.listener != nil {
			s.dispatcher.Submit(func() { s.listener.OnPing(s, id, rtt) })
		}
		return
	}
	// peer-initiated ping, echo it back unchanged
	echo := &ControlFrame{Version: s.version, Type: TypePing, Payload: append([]byte(nil), f.Payload...)}
	if err := s.conn.writeControlFrame(echo); err != nil {
		log.Debugf("Unable to echo ping: %v", err)
	}
}

func (s *Session) handleGoAway() {
	atomic.CompareAndSwapInt32(&s.state, int32(SessionActive), int32(SessionGoingAway))
	if s.listener != nil {
		s.dispatcher.Submit(func() { s.listener.OnGoAway(s) })
	}
}

func (s *Session) handleWindowUpdate(f *ControlFrame) {
	if len(f.Payload) < 8 {
		return
	}
	streamID := binaryEncoding.Uint32(f.Payload) & 0x7fffffff
	delta := int(binaryEncoding.Uint32(f.Payload[4:]))
	if streamID == 0 {
		s.flowControl.WindowUpdated(delta)
		return
	}
	s.mx.Lock()
	c := s.streams[streamID]
	s.mx.Unlock()
	if c != nil {
		c.window.add(delta)
	}
}

// Ping sends a ping and records its departure for RTT tracking.
func (s *Session) Ping() (uint32, error) {
	if s.State() == SessionClosed {
		return 0, ErrSessionClosed
	}
	s.mx.Lock()
	id := s.nextPingID
	s.nextPingID += 2
	s.pings[id] = mtime.Now()
	s.mx.Unlock()
	payload := make([]byte, 4)
	binaryEncoding.PutUint32(payload, id)
	return id, s.conn.writeControlFrame(&ControlFrame{Version: s.version, Type: TypePing, Payload: payload})
}

// SendControl sends a control frame, compressing header-bearing payloads.
func (s *Session) SendControl(f *ControlFrame) error {
	if s.State() == SessionClosed {
		return ErrSessionClosed
	}
	if f.Version == 0 {
		f.Version = s.version
	}
	return s.conn.writeControlFrame(f)
}

// SendData sends stream data, debiting the send window by len(data). When
// the strategy enforces flow control the call stalls until credit is
// available or the deadline passes (zero deadline waits indefinitely).
func (s *Session) SendData(streamID uint32, data []byte, fin bool, deadline time.Time) error {
	switch s.State() {
	case SessionClosed:
		return ErrSessionClosed
	case SessionGoingAway:
		if !s.knowsStream(streamID) {
			// no new streams once going away
			return ErrSessionClosed
		}
	}
	if err := s.flowControl.AwaitCredit(deadline); err != nil {
		return err
	}
	s.flowControl.DataSent(len(data))
	var flags byte
	if fin {
		flags |= FlagFin
	}
	err := s.conn.writeDataFrame(&DataFrame{StreamID: streamID, Flags: flags, Data: data})
	if err != nil {
		// the bytes never went out, restore their credit
		s.flowControl.WindowUpdated(len(data))
	}
	return err
}

func (s *Session) sendWindowUpdate(streamID uint32, delta int) error {
	payload := make([]byte, 8)
	binaryEncoding.PutUint32(payload, streamID)
	binaryEncoding.PutUint32(payload[4:], uint32(delta))
	return s.conn.writeControlFrame(&ControlFrame{Version: s.version, Type: TypeWindowUpdate, Payload: payload})
}

// OpenStream allocates the next locally originated stream id. Sessions that
// are going away accept no new streams.
func (s *Session) OpenStream() (uint32, error) {
	if s.State() != SessionActive {
		return 0, ErrSessionClosed
	}
	s.mx.Lock()
	id := s.nextStreamID
	s.nextStreamID += 2
	s.streams[id] = newStream(id, s)
	s.mx.Unlock()
	return id, nil
}

// StreamCount reports how many streams the session currently tracks.
func (s *Session) StreamCount() int {
	s.mx.Lock()
	n := len(s.streams)
	s.mx.Unlock()
	return n
}

// GoAway signals graceful shutdown to the peer: no new streams will be
// accepted, existing ones may finish. Repeated calls send at most one
// GOAWAY frame.
func (s *Session) GoAway() error {
	s.mx.Lock()
	alreadySent := s.goAwaySent
	s.goAwaySent = true
	var lastStreamID uint32
	if s.nextStreamID > 2 {
		// the most recently allocated local stream id; 0 when no stream was
		// ever opened
		lastStreamID = s.nextStreamID - 2
	}
	s.mx.Unlock()
	if alreadySent || s.State() == SessionClosed {
		return nil
	}
	atomic.CompareAndSwapInt32(&s.state, int32(SessionActive), int32(SessionGoingAway))
	payload := make([]byte, 8)
	binaryEncoding.PutUint32(payload, lastStreamID&0x7fffffff)
	return s.conn.writeControlFrame(&ControlFrame{Version: s.version, Type: TypeGoAway, Payload: payload})
}

// Close tears the session down immediately, closing the underlying socket.
func (s *Session) Close() error {
	return s.conn.ep.Close()
}

// onConnectionClosed runs when the underlying connection reports closure.
// The session leaves the factory's live set at most once.
func (s *Session) onConnectionClosed() {
	if SessionState(atomic.SwapInt32(&s.state, int32(SessionClosed))) == SessionClosed {
		return
	}
	s.flowControl.Close()
	s.mx.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, c := range s.streams {
		streams = append(streams, c)
	}
	s.streams = make(map[uint32]*stream)
	s.mx.Unlock()
	for _, c := range streams {
		c.close()
	}
	if s.factory != nil {
		s.factory.sessionClosed(s)
	}
	close(s.closedCh)
}

// Done exposes a channel that closes when the session does.
func (s *Session) Done() <-chan struct{} {
	return s.closedCh
}

func (s *Session) knowsStream(id uint32) bool {
	s.mx.Lock()
	_, found := s.streams[id]
	s.mx.Unlock()
	return found
}

// trackStream records remote streams as their data arrives so their
// lifetimes stay bounded by the session's.
func (s *Session) trackStream(f *DataFrame) {
	s.mx.Lock()
	c := s.streams[f.StreamID]
	if c == nil && !s.closedStreams[f.StreamID] {
		c = newStream(f.StreamID, s)
		s.streams[f.StreamID] = c
	}
	if c != nil && f.Flags&FlagFin != 0 {
		delete(s.streams, f.StreamID)
		s.closedStreams[f.StreamID] = true
	}
	s.mx.Unlock()
	if c != nil && f.Flags&FlagFin != 0 {
		c.close()
	}
}

func cloneControlFrame(f *ControlFrame) *ControlFrame {
	return &ControlFrame{
		Version: f.Version,
		Type:    f.Type,
		Flags:   f.Flags,
		Payload: append([]byte(nil), f.Payload...),
	}
}

func cloneDataFrame(f *DataFrame) *DataFrame {
	return &DataFrame{
		StreamID: f.StreamID,
		Flags:    f.Flags,
		Data:     append([]byte(nil), f.Data...),
	}
}
