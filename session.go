package rtmp

import (
	"context"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/amf/amf0"
	"github.com/torresjeff/rtmp-publisher/config"
	"github.com/torresjeff/rtmp-publisher/rand"
	"go.uber.org/zap"
)

// Responder receives the reply of a call. Either function may be nil.
type Responder struct {
	OnResult func(args []amf0.Value)
	OnError  func(args []amf0.Value)
}

type Option func(*Session)

// WithTransport replaces the TCP transport.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithEventHandler sets the function events are delivered to. It's called from the session goroutine.
func WithEventHandler(f func(Event)) Option {
	return func(s *Session) {
		s.onEvent = f
	}
}

// Represents a connection made with the RTMP server where messages are exchanged between client/server.
// Everything below actions is owned by the goroutine running Run.
type Session struct {
	logger    *zap.SugaredLogger
	cfg       config.Config
	sessionID string
	transport Transport
	onEvent   func(Event)

	actions chan func()
	done    chan struct{}
	running atomic.Bool

	uri                  *url.URL
	handshake            *Handshake
	handshakeCompleted   bool
	transportOpen        bool
	connected            bool
	currentTransactionID int
	// operations maps the transaction ID of a call to the responder waiting for its reply.
	operations map[int]Responder
	inStream   *MessageStream
	// outChunkSize is the maximum payload of the chunks sent to the server.
	outChunkSize     uint32
	serverWindowSize uint32
	lastAckSent      int64
	// peerLimit is the limit type of the last Set Peer Bandwidth that applied.
	peerLimit uint8
	streams   []*Stream

	ticker         *time.Ticker
	tick           <-chan time.Time
	connectTimer   *time.Timer
	connectTimeout <-chan time.Time

	// gen identifies the current transport connection. Callbacks of older connections are ignored.
	gen           uint64
	triedNeedAuth bool
	triedAdobe    bool
	terminalSent  bool

	totalBytesIn  atomic.Int64
	totalBytesOut atomic.Int64
	peerBandwidth atomic.Uint32

	now             func() time.Time
	clientChallenge func() (string, error)
}

// SessionStats holds the byte totals of a session.
type SessionStats struct {
	BytesIn  int64
	BytesOut int64
	// PeerBandwidth is the output bandwidth the server asked for with Set Peer Bandwidth, 0 until it does.
	PeerBandwidth uint32
}

func NewSession(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	c.SetDefaults()
	sessionID := rand.GenerateUuid()
	logger = logger.With("session", sessionID)
	s := &Session{
		logger:           logger,
		cfg:              c,
		sessionID:        sessionID,
		actions:          make(chan func(), 256),
		done:             make(chan struct{}),
		handshake:        NewHandshake(),
		operations:       make(map[int]Responder),
		inStream:         NewMessageStream(logger),
		outChunkSize:     config.DefaultChunkSize,
		serverWindowSize: config.DefaultServerWindowSize,
		peerLimit:        LimitSoft,
		now:              time.Now,
		clientChallenge:  rand.ClientChallenge,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewTCPTransport(logger, cfg.InsecureSkipVerify)
	}
	return s
}

func (s *Session) GetID() string {
	return s.sessionID
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		BytesIn:       s.totalBytesIn.Load(),
		BytesOut:      s.totalBytesOut.Load(),
		PeerBandwidth: s.peerBandwidth.Load(),
	}
}

// Run executes posted actions, transport events and timers until ctx is done. The session is disconnected before
// Run returns. Run must be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session: already running")
	}
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return ctx.Err()
		case f := <-s.actions:
			f()
		case <-s.tick:
			s.onTick()
		case <-s.connectTimeout:
			s.onConnectTimeout()
		}
	}
}

// post runs f on the session goroutine.
func (s *Session) post(f func()) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.actions <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Connect starts connecting to an rtmp:// or rtmps:// URL. Progress is reported through events.
func (s *Session) Connect(rawURL string) error {
	u, err := parseURL(rawURL)
	if err != nil {
		return err
	}
	return s.post(func() {
		s.triedNeedAuth = false
		s.triedAdobe = false
		s.startConnectTimer()
		s.connect(u)
	})
}

// Disconnect closes the connection. A terminal event is emitted if the connection attempt didn't end already.
func (s *Session) Disconnect() error {
	return s.post(s.disconnect)
}

// Call sends a command to the server. responder, when not nil, receives the reply.
func (s *Session) Call(name string, responder *Responder, args ...amf0.Value) error {
	return s.post(func() {
		if _, err := s.call(name, responder, args...); err != nil {
			s.logger.Warnf("call %v: %v", name, err)
		}
	})
}

// NewStream returns a stream bound to this session. Only the first stream receives acknowledgements and inbound
// media.
func (s *Session) NewStream() *Stream {
	st := newStream(s)
	s.post(func() {
		s.streams = append(s.streams, st)
	})
	return st
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", rawURL)
	}
	switch u.Scheme {
	case "rtmp", "rtmps":
	default:
		return nil, errors.Wrapf(ErrInvalidScheme, "%q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.Errorf("missing host in %q", rawURL)
	}
	return u, nil
}

func (s *Session) connect(u *url.URL) {
	s.closeTransport()
	s.uri = u
	s.handshake = NewHandshake()
	s.handshakeCompleted = false
	s.terminalSent = false

	port := config.DefaultPort
	if u.Scheme == "rtmps" {
		port = config.DefaultSecurePort
	}
	if p := u.Port(); p != "" {
		port = p
	}
	portNumber, err := strconv.Atoi(port)
	if err != nil {
		s.onTransportClosed(errors.Wrapf(err, "port %q", port))
		return
	}

	s.logger.Infof("connecting to %s:%d", u.Hostname(), portNumber)
	handler := &sessionTransportHandler{session: s, gen: s.gen}
	if err := s.transport.Open(u.Hostname(), portNumber, u.Scheme == "rtmps", handler); err != nil {
		s.onTransportClosed(errors.Wrap(err, "open transport"))
	}
}

// disconnect closes the streams while the transport can still carry their commands, then closes the transport.
func (s *Session) disconnect() {
	s.stopConnectTimer()
	for _, st := range s.streams {
		st.close()
	}
	s.handshake.Closing()
	wasCompleted := s.handshakeCompleted
	attempting := s.uri != nil
	s.closeTransport()
	if attempting {
		s.emitTerminal(wasCompleted, "disconnected", nil)
	}
}

// closeTransport closes the connection without reporting it.
func (s *Session) closeTransport() {
	s.gen++
	if s.transportOpen || s.uri != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Debugf("close transport: %v", err)
		}
	}
	s.transportOpen = false
	s.handshake.Close()
	s.handleClosed()
}

// handleClosed resets everything that belongs to one connection.
func (s *Session) handleClosed() {
	s.stopTicker()
	s.connected = false
	s.currentTransactionID = 0
	s.operations = make(map[int]Responder)
	s.inStream.Reset()
	s.outChunkSize = config.DefaultChunkSize
	s.serverWindowSize = config.DefaultServerWindowSize
	s.peerLimit = LimitSoft
	s.peerBandwidth.Store(0)
	s.lastAckSent = s.totalBytesIn.Load()
	for _, st := range s.streams {
		st.reset()
	}
}

func (s *Session) onTransportClosed(err error) {
	s.stopConnectTimer()
	wasCompleted := s.handshakeCompleted
	s.closeTransport()
	description := "connection closed"
	if err != nil {
		description = err.Error()
		s.logger.Warnf("transport closed: %v", err)
	}
	s.emitTerminal(wasCompleted, description, err)
}

// emitTerminal reports the end of the connection attempt: closed once the handshake completed, failed otherwise.
func (s *Session) emitTerminal(handshakeCompleted bool, description string, err error) {
	code := CodeConnectFailed
	if handshakeCompleted {
		code = CodeConnectClosed
	}
	event := newStatusEvent(code, LevelStatus, description)
	event.Err = err
	s.emit(event)
}

func (s *Session) emit(event Event) {
	if event.Terminal() {
		if s.terminalSent {
			return
		}
		s.terminalSent = true
	}
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

func (s *Session) startConnectTimer() {
	s.stopConnectTimer()
	s.connectTimer = time.NewTimer(s.cfg.ConnectTimeout)
	s.connectTimeout = s.connectTimer.C
}

func (s *Session) stopConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
	}
	s.connectTimer = nil
	s.connectTimeout = nil
}

func (s *Session) onConnectTimeout() {
	s.connectTimer = nil
	s.connectTimeout = nil
	s.logger.Warnf("connect timeout after %v", s.cfg.ConnectTimeout)
	s.emit(Event{Type: EventIOError, Description: ErrConnectTimeout.Error(), Err: ErrConnectTimeout})
	s.disconnect()
}

func (s *Session) startTicker() {
	s.stopTicker()
	s.ticker = time.NewTicker(s.cfg.TickInterval)
	s.tick = s.ticker.C
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = nil
	s.tick = nil
}

func (s *Session) onTick() {
	for _, st := range s.streams {
		st.info.onTimeout()
	}
}

func (s *Session) onOpen() {
	s.transportOpen = true
	c0c1, err := s.handshake.Start()
	if err != nil {
		s.onTransportClosed(errors.Wrap(err, "generate C1"))
		return
	}
	s.writeRaw(c0c1)
}

func (s *Session) onReceive(b []byte) {
	s.totalBytesIn.Add(int64(len(b)))
	if !s.handshakeCompleted {
		reply, consumed := s.handshake.Received(b)
		if len(reply) > 0 {
			if _, err := s.writeRaw(reply); err != nil {
				return
			}
		}
		if s.handshake.State() != HandshakeDone {
			return
		}
		s.onHandshakeDone()
		b = b[consumed:]
		if len(b) == 0 || !s.transportOpen {
			return
		}
	}
	if err := s.inStream.Feed(b, s.execute); err != nil {
		s.logger.Warnf("dropping chunk stream input: %v", err)
	}
	s.acknowledge()
}

// acknowledge sends an Acknowledgement every time a window of bytes has been received.
func (s *Session) acknowledge() {
	if !s.transportOpen || s.serverWindowSize == 0 {
		return
	}
	in := s.totalBytesIn.Load()
	if in-s.lastAckSent < int64(s.serverWindowSize) {
		return
	}
	s.lastAckSent = in
	chunk, err := generateAckMessage(uint32(in))
	if err == nil {
		s.writeChunk(chunk)
	}
}

func (s *Session) onHandshakeDone() {
	s.handshakeCompleted = true
	s.logger.Debugf("handshake done, server version %d", s.handshake.ServerVersion())
	cmd := generateConnectRequest(s.uri, s.cfg.FlashVer, s.nextTransactionID())
	if _, err := s.writeCommand(ChunkType0, cmd, 0); err != nil {
		return
	}
	s.startTicker()
}

func (s *Session) nextTransactionID() int {
	s.currentTransactionID++
	return s.currentTransactionID
}

// call sends a command on message stream 0 and registers responder for its reply.
func (s *Session) call(name string, responder *Responder, args ...amf0.Value) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}
	cmd := &Command{
		Name:          name,
		TransactionID: s.nextTransactionID(),
		Arguments:     args,
	}
	if responder != nil {
		s.operations[cmd.TransactionID] = *responder
	}
	return s.writeCommand(ChunkType0, cmd, 0)
}

func (s *Session) writeCommand(chunkType ChunkType, cmd *Command, streamID uint32) (int, error) {
	m, err := NewMessage(cmd, streamID, 0)
	if err != nil {
		s.logger.Errorf("%v", err)
		return 0, err
	}
	return s.writeChunk(newChunk(chunkType, CommandChannel, m))
}

// writeChunk splits c with the outbound chunk size and writes all of its chunks at once, so chunks of different
// messages never interleave.
func (s *Session) writeChunk(c *Chunk) (int, error) {
	return s.writeRaw(encodeSplit(c, int(s.outChunkSize)))
}

func (s *Session) writeRaw(b []byte) (int, error) {
	if !s.transportOpen {
		return 0, ErrNotConnected
	}
	n, err := s.transport.Send(b)
	if n > 0 {
		total := s.totalBytesOut.Add(int64(n))
		if st := s.stream(); st != nil {
			st.info.onWritten(total)
		}
	}
	if err != nil {
		s.onTransportClosed(errors.Wrap(err, "send"))
		return n, err
	}
	return n, nil
}

// stream returns the stream acknowledgements and inbound messages are attributed to.
func (s *Session) stream() *Stream {
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[0]
}

// onStatus handles the status carried by a command, first for the connection and then for every stream.
func (s *Session) onStatus(event Event) {
	s.logger.Infof("status %v (%v) %v", event.Code, event.Level, event.Description)
	s.emit(event)
	gen := s.gen
	switch event.Code {
	case CodeConnectSuccess:
		s.onConnectSuccess()
	case CodeConnectRejected:
		s.onConnectRejected(event.Description)
	case CodeConnectClosed:
		s.disconnect()
	}
	if gen != s.gen {
		return
	}
	for _, st := range s.streams {
		st.onStatus(event)
	}
}

func (s *Session) onConnectSuccess() {
	s.connected = true
	s.stopConnectTimer()
	chunk, err := generateSetChunkSizeMessage(s.cfg.ChunkSize)
	if err != nil {
		return
	}
	if _, err := s.writeChunk(chunk); err != nil {
		return
	}
	s.outChunkSize = s.cfg.ChunkSize
}

func (s *Session) onConnectRejected(description string) {
	u := s.uri
	s.closeTransport()
	if u == nil || u.User == nil || description == "" {
		s.finishRejected(description)
		return
	}
	user := u.User.Username()
	password, _ := u.User.Password()

	switch {
	case containsAny(description, authReasonNoSuchUser, authReasonFailed):
		s.logger.Warnf("authentication failed: %v", description)
		s.finishRejected(description)
	case containsAny(description, authReasonNeedAuth):
		if s.triedNeedAuth {
			s.finishRejected(description)
			return
		}
		s.triedNeedAuth = true
		challenge, err := s.clientChallenge()
		if err != nil {
			s.finishRejected(err.Error())
			return
		}
		s.reconnect(sanJoseAuthURL(u, description, challenge))
	case containsAny(description, authModAdobe):
		if user == "" || password == "" || s.triedAdobe {
			s.finishRejected(description)
			return
		}
		s.triedAdobe = true
		s.reconnect(adobeAuthURL(u))
	default:
		s.finishRejected(description)
	}
}

func (s *Session) finishRejected(description string) {
	s.stopConnectTimer()
	s.emitTerminal(true, description, nil)
}

func (s *Session) reconnect(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		s.finishRejected(err.Error())
		return
	}
	s.logger.Infof("reconnecting to authenticate")
	s.connect(u)
}

// sessionTransportHandler marshals the events of one transport connection onto the session goroutine.
type sessionTransportHandler struct {
	session *Session
	gen     uint64
}

func (h *sessionTransportHandler) OnOpen() {
	h.session.post(func() {
		if h.gen == h.session.gen {
			h.session.onOpen()
		}
	})
}

func (h *sessionTransportHandler) OnReceive(b []byte) {
	h.session.post(func() {
		if h.gen == h.session.gen {
			h.session.onReceive(b)
		}
	})
}

func (h *sessionTransportHandler) OnClose(err error) {
	h.session.post(func() {
		if h.gen == h.session.gen {
			h.session.onTransportClosed(err)
		}
	})
}
