package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/spot-tv/internal/backend"
	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

const (
	joinCodeLength      = 6
	minRandomCodeLength = 3
	joinCodeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// defaultTokenRefreshLead is how long before expiry the backend token is renewed.
	defaultTokenRefreshLead = 5 * time.Minute

	// registrationRetryDelay spaces out failed token refreshes.
	registrationRetryDelay = 30 * time.Second

	minRefreshDelay = time.Second
)

// Signer adds device authentication headers to the WebSocket handshake.
type Signer interface {
	SignHandshake(path string) (http.Header, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock driving join code rotation and token refresh.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithSigner signs every handshake with s.
func WithSigner(s Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithTokenRefreshLead sets how long before expiry the backend token is renewed.
func WithTokenRefreshLead(d time.Duration) Option {
	return func(c *Client) {
		c.tokenRefreshLead = d
	}
}

type listener struct {
	id uint64
	h  transport.Handler
}

// Client implements transport.Session.
type Client struct {
	logger           *slog.Logger
	clock            clock.Clock
	signer           Signer
	tokenRefreshLead time.Duration

	queue        *eventQueue[transport.Event]
	dispatchDone chan struct{}

	listenersMu  sync.RWMutex
	listeners    map[transport.EventName][]listener
	nextListener uint64

	mu         sync.Mutex
	sess       *session
	connecting bool
	backend    transport.Backend
	closed     bool
}

var _ transport.Session = (*Client)(nil)

// NewClient creates a client and starts its event dispatcher. Call Close to
// stop it.
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger:           slog.Default(),
		clock:            clock.New(),
		tokenRefreshLead: defaultTokenRefreshLead,
		queue:            newEventQueue[transport.Event](64),
		dispatchDone:     make(chan struct{}),
		listeners:        make(map[transport.EventName][]listener),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.dispatchLoop()
	return c
}

// Connect registers with the backend when one is configured, opens the
// WebSocket and joins the room.
func (c *Client) Connect(ctx context.Context, cfg transport.Config) (*model.RoomProfile, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.sess != nil || c.connecting {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.connecting = true
	c.backend = cfg.Backend
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	var room model.RoomProfile
	if cfg.Backend != nil && cfg.JoinCode != "" {
		r, err := cfg.Backend.Register(ctx, cfg.JoinCode)
		if err != nil {
			return nil, fmt.Errorf("register pairing code: %w", err)
		}
		room = r
	}

	header, err := c.handshakeHeader(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, cfg.Server, header, c.logger)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	s := newSession(cfg, conn)
	s.wg.Add(1)
	go c.readLoop(s)

	joinCode := cfg.JoinCode
	rotate := joinCode == ""
	if rotate {
		joinCode = generateJoinCode(cfg.FixedCodeSegment)
	}

	params := JoinParams{
		Role:      RoleSpotRemote,
		JoinCode:  joinCode,
		Permanent: !rotate,
	}
	if cfg.JoinAsSpot {
		params.Role = RoleSpotTV
	}
	if cfg.Backend != nil {
		params.Tenant = cfg.Backend.Tenant()
	}

	var result JoinResult
	if err := c.request(ctx, s, FrameJoin, params, &result); err != nil {
		s.close(ErrNotConnected)
		s.wg.Wait()
		return nil, err
	}

	if result.JoinCode != "" {
		joinCode = result.JoinCode
	}
	if room.ID == "" {
		room = result.Room
	}
	s.setJoinCode(joinCode)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.close(ErrClosed)
		s.wg.Wait()
		return nil, ErrClosed
	}
	if err := context.Cause(s.ctx); err != nil {
		// The connection dropped right after the join was accepted.
		c.mu.Unlock()
		s.close(err)
		s.wg.Wait()
		return nil, err
	}
	c.sess = s
	c.mu.Unlock()

	if rotate && cfg.JoinCodeRefreshRate > 0 {
		s.wg.Add(1)
		go c.rotateJoinCodes(s)
	}
	if cfg.Backend != nil {
		s.wg.Add(1)
		go c.refreshRegistration(s)
	}

	c.logger.Info("joined signaling room",
		"session_id", s.id,
		"room_id", room.ID,
		"permanent_code", !rotate,
	)
	return &room, nil
}

// Disconnect leaves the room and closes the socket. It returns nil when no
// session is open.
func (c *Client) Disconnect(ctx context.Context, reason string) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	var err error
	if sendErr := s.send(Frame{Type: FrameLeave, Payload: mustMarshal(LeaveParams{Reason: reason})}); sendErr != nil {
		err = fmt.Errorf("send leave: %w", sendErr)
	}
	s.close(ErrNotConnected)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	c.logger.Info("left signaling room", "session_id", s.id, "reason", reason)
	return err
}

// HasConnection reports whether a session is open.
func (c *Client) HasConnection() bool {
	return c.current() != nil
}

// RemoteJoinCode returns the code remotes currently use to join.
func (c *Client) RemoteJoinCode() string {
	s := c.current()
	if s == nil {
		return ""
	}
	return s.getJoinCode()
}

// AddListener subscribes h to name. The returned function removes it and is
// safe to call more than once.
func (c *Client) AddListener(name transport.EventName, h transport.Handler) func() {
	c.listenersMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[name] = append(c.listeners[name], listener{id: id, h: h})
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()

		ls := c.listeners[name]
		for i, l := range ls {
			if l.id == id {
				c.listeners[name] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// IsRecoverableRequestError reports whether err is worth retrying.
// Network failures, timeouts and abnormal closes are recoverable; explicit
// rejections by the server or the pairing backend are not.
func (c *Client) IsRecoverableRequestError(err error) bool {
	if err == nil || errors.Is(err, transport.ErrConflict) {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.IsRecoverable()
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRecoverable()
	}

	return true
}

// DisconnectAllTemporaryRemotes removes every temporary remote in parallel.
func (c *Client) DisconnectAllTemporaryRemotes(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range s.remotesOfType(model.ClientTypeSpotRemoteTemporary) {
		g.Go(func() error {
			return c.request(gctx, s, FrameRemoveClient, RemoveClientParams{ID: id}, nil)
		})
	}
	return g.Wait()
}

// PermanentRemoteCount returns how many permanent remotes are connected.
func (c *Client) PermanentRemoteCount() int {
	s := c.current()
	if s == nil {
		return 0
	}
	return len(s.remotesOfType(model.ClientTypeSpotRemotePermanent))
}

// FetchExitPassword asks the backend for the room exit password.
func (c *Client) FetchExitPassword(ctx context.Context) (string, error) {
	b := c.currentBackend()
	if b == nil {
		return "", ErrNoBackend
	}
	return b.FetchExitPassword(ctx)
}

// GenerateLongLivedPairingCode asks the backend for a new long lived code.
func (c *Client) GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error) {
	b := c.currentBackend()
	if b == nil {
		return model.LongLivedPairingCode{}, ErrNoBackend
	}
	return b.GenerateLongLivedPairingCode(ctx)
}

// Stats returns event queue statistics.
func (c *Client) Stats() QueueStats {
	return c.queue.stats()
}

// Close disconnects and stops the dispatcher. Queued events are still delivered.
func (c *Client) Close(ctx context.Context) error {
	err := c.Disconnect(ctx, "client closed")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	c.queue.close()
	select {
	case <-c.dispatchDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) currentBackend() transport.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

func (c *Client) handshakeHeader(cfg transport.Config) (http.Header, error) {
	header := http.Header{}
	if c.signer != nil {
		u, err := url.Parse(cfg.Server.URL)
		if err != nil {
			return nil, fmt.Errorf("parse server url: %w", err)
		}
		signed, err := c.signer.SignHandshake(u.Path)
		if err != nil {
			return nil, fmt.Errorf("sign handshake: %w", err)
		}
		for k, v := range signed {
			header[k] = v
		}
	}

	header.Set("Accept", "application/json")
	if cfg.Backend != nil {
		if jwt := cfg.Backend.JWT(); jwt != "" {
			header.Set("Authorization", "Bearer "+jwt)
		}
	}
	return header, nil
}

// request sends a request frame and waits for its result.
func (c *Client) request(ctx context.Context, s *session, op string, params, out any) error {
	id := s.cmdID.Add(1)
	respCh := make(chan Frame, 1)

	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.send(Frame{ID: id, Type: op, Payload: mustMarshal(params)}); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}

	timer := time.NewTimer(orDefault(s.cfg.Server.RequestTimeout, defaultRequestTimeout))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	case <-timer.C:
		return &RequestError{Op: op, Condition: ConditionTimeout, Message: "no response"}
	case resp := <-respCh:
		if resp.Type == FrameError {
			return newRequestError(op, resp.Error)
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	}
}

// readLoop routes frames for one session until it ends.
func (c *Client) readLoop(s *session) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case data, ok := <-s.conn.Messages():
			if !ok {
				err := s.conn.Err()
				if err == nil {
					err = ErrNotConnected
				}
				c.connectionLost(s, err)
				return
			}
			c.handleFrame(s, data)
		}
	}
}

func (c *Client) handleFrame(s *session, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping malformed frame", "session_id", s.id, "error", err)
		return
	}

	switch f.Type {
	case FrameResult, FrameError:
		s.routeResponse(f)
	case FrameEvent:
		c.handleEvent(s, f)
	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
	}
}

func (c *Client) handleEvent(s *session, f Frame) {
	name := transport.EventName(f.Event)

	switch name {
	case transport.EventClientJoined:
		var p ClientPresence
		if err := json.Unmarshal(f.Payload, &p); err == nil {
			s.trackRemote(p.ID, model.ParseClientType(p.Type))
		}
	case transport.EventClientLeft:
		var p ClientPresence
		if err := json.Unmarshal(f.Payload, &p); err == nil {
			s.untrackRemote(p.ID)
		}
	case transport.EventRemoteJoinCodeChange:
		var p JoinCodeChange
		if err := json.Unmarshal(f.Payload, &p); err == nil {
			s.setJoinCode(p.RemoteJoinCode)
		}
	case transport.EventUnrecoverableDisconnect:
		var body ErrorBody
		if err := json.Unmarshal(f.Payload, &body); err != nil {
			body.Condition = ConditionInternal
		}
		c.connectionLost(s, newRequestError("session", &body))
		return
	}

	c.emit(transport.Event{Name: name, Data: f.Payload})
}

// connectionLost ends s and, when it is still the active session, reports
// UNRECOVERABLE_DISCONNECT with the cause.
func (c *Client) connectionLost(s *session, err error) {
	err = closeError(err)

	// Cancel before checking ownership so Connect either sees the cause or
	// has already published s.
	s.cancel(err)

	c.mu.Lock()
	active := c.sess == s
	if active {
		c.sess = nil
	}
	c.mu.Unlock()

	s.conn.Close()
	if !active {
		return
	}

	c.logger.Warn("signaling connection lost", "session_id", s.id, "error", err)
	c.emit(transport.Event{Name: transport.EventUnrecoverableDisconnect, Err: err})
}

// rotateJoinCodes replaces the self-generated join code every refresh period.
func (c *Client) rotateJoinCodes(s *session) {
	defer s.wg.Done()

	ticker := c.clock.Ticker(s.cfg.JoinCodeRefreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			code := generateJoinCode(s.cfg.FixedCodeSegment)
			if err := c.request(s.ctx, s, FrameSetJoinCode, SetJoinCodeParams{JoinCode: code}, nil); err != nil {
				c.logger.Warn("join code rotation failed", "session_id", s.id, "error", err)
				continue
			}
			s.setJoinCode(code)
			c.emit(transport.Event{
				Name: transport.EventRemoteJoinCodeChange,
				Data: mustMarshal(JoinCodeChange{RemoteJoinCode: code}),
			})
		}
	}
}

// refreshRegistration renews the backend token ahead of its expiry.
func (c *Client) refreshRegistration(s *session) {
	defer s.wg.Done()

	b := s.cfg.Backend
	delay, ok := c.refreshDelay(b)
	for ok {
		timer := c.clock.Timer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := b.RefreshRegistration(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !c.IsRecoverableRequestError(err) {
				c.connectionLost(s, err)
				return
			}
			c.logger.Warn("backend token refresh failed", "session_id", s.id, "error", err)
			delay = registrationRetryDelay
			continue
		}

		c.emit(transport.Event{
			Name: transport.EventRegistrationUpdated,
			Data: mustMarshal(RegistrationUpdate{JWT: b.JWT(), Tenant: b.Tenant()}),
		})
		delay, ok = c.refreshDelay(b)
	}
}

func (c *Client) refreshDelay(b transport.Backend) (time.Duration, bool) {
	exp := b.TokenExpiresAt()
	if exp.IsZero() {
		return 0, false
	}
	return max(exp.Sub(c.clock.Now())-c.tokenRefreshLead, minRefreshDelay), true
}

func (c *Client) emit(ev transport.Event) {
	if !c.queue.push(ev) {
		c.logger.Debug("dropping event after close", "event", ev.Name)
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)

	for {
		ev, ok := c.queue.pop()
		if !ok {
			return
		}

		c.listenersMu.RLock()
		ls := append([]listener(nil), c.listeners[ev.Name]...)
		c.listenersMu.RUnlock()

		for _, l := range ls {
			l.h(ev)
		}
	}
}

// generateJoinCode returns fixed followed by random characters, padded to
// joinCodeLength with at least minRandomCodeLength random characters.
func generateJoinCode(fixed string) string {
	n := max(joinCodeLength-len(fixed), minRandomCodeLength)
	b := make([]byte, n)
	for i := range b {
		b[i] = joinCodeAlphabet[rand.IntN(len(joinCodeAlphabet))]
	}
	return fixed + string(b)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return data
}
