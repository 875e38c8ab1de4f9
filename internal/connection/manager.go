package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/spot-tv/internal/credentials"
	"github.com/rickgao/spot-tv/internal/metrics"
	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/router"
	"github.com/rickgao/spot-tv/internal/transport"
)

const (
	defaultMinCodeValidity = time.Hour
	defaultUnloadTimeout   = 5 * time.Second
	teardownTimeout        = 5 * time.Second
	storeTimeout           = 5 * time.Second
	calendarTimeout        = 30 * time.Second
)

// Config holds Connection Manager settings.
type Config struct {
	BackendEnabled      bool
	CalendarPushEnabled bool
	FixedCodeSegment    string
	JoinCodeRefreshRate time.Duration
	Server              transport.ServerConfig

	Jitter      Jitter
	MaxAttempts int // Reconnects per session before giving up, 0 retries forever

	MinCodeValidity time.Duration // Long lived codes closer to expiry are replaced
	UnloadTimeout   time.Duration // Bound on the disconnect run at host unload
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for retry timers and code expiry.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithCalendar sets the calendar refreshed after connects and on push requests.
func WithCalendar(c Calendar) Option {
	return func(m *Manager) {
		m.calendar = c
	}
}

// WithObserver sets the receiver of connection notifications.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithNavigator sets the UI navigator used on identity conflicts.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.navigator = n
	}
}

// WithBackendFactory sets how the pairing client is created for each
// connection. Required when the backend is enabled.
func WithBackendFactory(f BackendFactory) Option {
	return func(m *Manager) {
		m.newBackend = f
	}
}

// WithUnloadNotifier disconnects once ch is closed or receives a value.
func WithUnloadNotifier(ch <-chan struct{}) Option {
	return func(m *Manager) {
		m.unload = ch
	}
}

// WithJitter replaces the reconnect delay.
func WithJitter(d DelayFunc) Option {
	return func(m *Manager) {
		if d != nil {
			m.delay = d
		}
	}
}

// Manager owns the Spot-TV connection to the remote control service: it
// connects, classifies disconnects, schedules reconnects and keeps the
// pairing credentials in the store up to date.
type Manager struct {
	cfg     Config
	session transport.Session
	store   credentials.Store
	router  *router.Router

	logger     *slog.Logger
	clock      clock.Clock
	calendar   Calendar
	observer   Observer
	navigator  Navigator
	newBackend BackendFactory
	unload     <-chan struct{}
	delay      DelayFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                    sync.Mutex
	state                 State
	current               *session
	registry              *router.Registry
	retryTimer            *clock.Timer
	idle                  chan struct{} // Closed when a teardown reaches StateIdle
	reconnectScheduled    bool
	permanentRemotePaired bool
	closed                bool
}

// New creates a Connection Manager on top of sess. Call Close to release it.
func New(cfg Config, sess transport.Session, store credentials.Store, opts ...Option) (*Manager, error) {
	if sess == nil {
		return nil, errors.New("transport session is required")
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}

	cfg.Jitter = cfg.Jitter.withDefaults()
	if cfg.MinCodeValidity <= 0 {
		cfg.MinCodeValidity = defaultMinCodeValidity
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = defaultUnloadTimeout
	}

	m := &Manager{
		cfg:      cfg,
		session:  sess,
		store:    store,
		logger:   slog.Default(),
		clock:    clock.New(),
		observer: nopObserver{},
		delay:    cfg.Jitter.Delay,
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.BackendEnabled && m.newBackend == nil {
		return nil, errors.New("backend is enabled but no backend factory is configured")
	}

	m.router = router.New(m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if m.unload != nil {
		m.wg.Add(1)
		go m.watchUnload()
	}

	return m, nil
}

// Connect opens a session and blocks until it is established, the first
// connect chain fails terminally, or ctx is done. A chain that ends in an
// identity conflict shows the conflict view and returns nil.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateIdle || m.session.HasConnection() {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.cfg.BackendEnabled && opts.PairingCode == "" {
		m.mu.Unlock()
		return ErrMissingPairingCode
	}

	var backend transport.Backend
	if m.cfg.BackendEnabled {
		backend = m.newBackend()
	}
	s := newSession(m.ctx, opts, backend)
	m.current = s
	m.setState(StateConnecting)
	s.inflight.Add(1)
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("spot-tv attempting connection",
		"backend", backend != nil,
		"permanent_pairing_code", opts.PairingCode != "",
		"retry", opts.Retry,
	)

	go func() {
		defer m.wg.Done()
		m.attempt(s)
	}()

	select {
	case err := <-s.result:
		return err
	case <-ctx.Done():
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := m.disconnect(dctx, "connect cancelled", s); err != nil {
			m.logger.Warn("disconnect after cancelled connect failed", "error", err)
		}
		return ctx.Err()
	}
}

// Disconnect ends the current session, cancelling any scheduled reconnect.
// Calling it without a session is a no-op. If a teardown is already running,
// Disconnect waits for it to finish, so a Connect issued after a nil return
// never sees the old session. Observer callbacks must not call Disconnect.
func (m *Manager) Disconnect(ctx context.Context, reason string) error {
	return m.disconnect(ctx, reason, nil)
}

// disconnect tears down the current session. When only is set, nothing
// happens unless only is still the current session.
func (m *Manager) disconnect(ctx context.Context, reason string, only *session) error {
	m.mu.Lock()
	s := m.current
	if only != nil && s != only {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateDisconnecting {
		done := m.idle
		m.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s == nil && !m.session.HasConnection() {
		m.mu.Unlock()
		return nil
	}
	m.setState(StateDisconnecting)
	if s != nil {
		s.stopped = true
	}
	m.stopRetryTimer()
	reg := m.registry
	m.registry = nil
	m.mu.Unlock()

	if s != nil {
		s.cancel()
		if err := waitGroup(ctx, &s.inflight); err != nil {
			m.logger.Warn("connect attempt still running at disconnect", "error", err)
		}
	}

	// Listeners go first so the transport's own disconnect is not classified.
	if reg != nil {
		reg.Drain()
	}

	var err error
	if derr := m.session.Disconnect(ctx, reason); derr != nil {
		err = &TransportError{Op: "disconnect", Err: derr, Recoverable: m.session.IsRecoverableRequestError(derr)}
		m.logger.Warn("transport disconnect failed", "reason", reason, "error", derr)
	}

	m.updateCredentials(func(st *credentials.State) {
		st.Credentials.JoinCode = ""
	})

	m.mu.Lock()
	m.reconnectScheduled = false
	m.permanentRemotePaired = false
	if m.current == s {
		m.current = nil
	}
	m.setState(StateIdle)
	m.mu.Unlock()

	m.observer.ReconnectScheduled(false)
	if s != nil {
		s.settle(ErrDisconnected)
	}

	m.logger.Info("spot-tv disconnected from remote control service", "reason", reason)
	return err
}

// attempt runs one transport connect for s.
func (m *Manager) attempt(s *session) {
	defer s.inflight.Done()

	m.mu.Lock()
	if s.stopped {
		m.mu.Unlock()
		return
	}
	s.attempt++
	n := s.attempt

	// Listeners are attached before the transport connects.
	reg := router.NewRegistry()
	m.registry = reg
	m.router.Register(reg, m.session, &eventHandler{m: m, s: s, attempt: n})
	cfg := m.transportConfig(s)
	m.mu.Unlock()

	metrics.RecordConnectAttempt(n > 1)

	room, err := m.session.Connect(s.ctx, cfg)
	if err != nil {
		m.fail(s, n, &TransportError{
			Op:          "connect",
			Err:         err,
			Recoverable: m.session.IsRecoverableRequestError(err),
		})
		return
	}
	m.connected(s, n, room)
}

func (m *Manager) transportConfig(s *session) transport.Config {
	return transport.Config{
		Backend:             s.backend,
		FixedCodeSegment:    m.cfg.FixedCodeSegment,
		JoinAsSpot:          true,
		JoinCodeRefreshRate: m.cfg.JoinCodeRefreshRate,
		JoinCode:            s.pairingCode,
		Server:              m.cfg.Server,
	}
}

// connected records a successful attempt n.
func (m *Manager) connected(s *session, n int, room *model.RoomProfile) {
	m.mu.Lock()
	if s.stopped || m.current != s || s.attempt != n || s.handled >= n {
		m.mu.Unlock()
		return
	}
	s.initiallyConnected = true
	s.connected = true
	m.reconnectScheduled = false
	m.setState(StateConnected)
	m.mu.Unlock()

	m.logger.Info("successfully created connection for remote control server",
		"attempt", n,
		"room_id", roomID(room),
	)

	m.saveConnection(s, room)
	m.observer.ReconnectScheduled(false)

	// Push calendars need a refresh after every reconnect or the error view
	// stays up until the next poll.
	if m.cfg.CalendarPushEnabled {
		m.refreshCalendar()
	}

	s.settle(nil)
}

func (m *Manager) saveConnection(s *session, room *model.RoomProfile) {
	joinCode := m.session.RemoteJoinCode()

	m.updateCredentials(func(st *credentials.State) {
		c := &st.Credentials
		c.JoinCode = joinCode
		c.PermanentPairingCode = s.pairingCode
		c.JWT, c.Tenant = "", ""
		if s.backend != nil {
			c.JWT = s.backend.JWT()
			c.Tenant = s.backend.Tenant()
		}
		if room != nil {
			c.CustomerID = room.CustomerID
		}

		if m.cfg.BackendEnabled && room != nil {
			c.RoomID = room.ID
			c.DisplayName = room.Name
			st.Device.IsPairingPermanent = true
			st.Device.IsSpotTV = true
			st.Device.RoomID = room.ID
		}
	})
}

// fail classifies the failure that ended attempt n and either schedules a
// reconnect or ends the session.
func (m *Manager) fail(s *session, n int, err error) {
	m.mu.Lock()
	if s.stopped || m.current != s || s.attempt != n || s.handled >= n {
		m.mu.Unlock()
		m.logger.Debug("ignoring disconnect from a finished attempt", "attempt", n, "error", err)
		return
	}
	s.handled = n

	out := Classify(err, IsRecoverable(err), s.facts())
	if out.WillRetry && m.cfg.MaxAttempts > 0 && s.retries >= m.cfg.MaxAttempts {
		m.logger.Warn("reconnect attempts exhausted", "retries", s.retries)
		out.WillRetry = false
	}

	s.connected = false
	reg := m.registry
	m.registry = nil
	m.permanentRemotePaired = false
	if out.WillRetry {
		m.setState(StateRetryScheduled)
		if s.initiallyConnected {
			m.reconnectScheduled = true
		}
	} else {
		s.stopped = true
		m.reconnectScheduled = false
		m.setState(StateDisconnecting)
	}
	m.mu.Unlock()

	m.logger.Error("spot-tv disconnected from the remote control server",
		"error", err,
		"initially_connected", out.InitiallyConnected,
		"is_conflict", out.IsConflict,
		"is_recoverable_error", out.IsRecoverable,
		"retry", out.RetryRequested,
		"using_permanent_pairing_code", out.UsingPermanentPairingCode,
		"will_retry", out.WillRetry,
	)
	metrics.RecordFailure(outcomeLabel(out))

	m.observer.ConnectionFailed(out)
	if out.InitiallyConnected {
		m.observer.ReconnectScheduled(out.WillRetry)
	}

	m.teardown()

	if out.ClearsPermanentCode() {
		m.logger.Info("clearing permanent pairing code on unrecoverable disconnect")
	}
	m.updateCredentials(func(st *credentials.State) {
		st.Credentials.JoinCode = ""
		if out.ClearsPermanentCode() {
			st.Credentials.PermanentPairingCode = ""
		}
	})

	if reg != nil {
		reg.Drain()
	}

	if out.WillRetry {
		m.scheduleRetry(s)
		return
	}

	s.cancel()
	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.setState(StateIdle)
	}
	m.mu.Unlock()

	if out.IsConflict {
		if m.navigator != nil {
			m.navigator.ShowConflict()
		}
		s.settle(nil)
		return
	}
	s.settle(err)
}

// teardown releases whatever the transport still holds after a failure.
func (m *Manager) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := m.session.Disconnect(ctx, "connection failed"); err != nil {
		m.logger.Debug("transport teardown failed", "error", err)
	}
}

func (m *Manager) scheduleRetry(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.stopped || m.closed || m.current != s || m.state != StateRetryScheduled {
		return
	}

	s.retries++
	delay := m.delay(s.retries)
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(s) })
	metrics.RecordReconnectScheduled(delay)

	m.logger.Info("spot-tv will try to reconnect", "delay", delay, "retry", s.retries)
}

func (m *Manager) retry(s *session) {
	m.mu.Lock()
	if s.stopped || m.closed || m.current != s || m.state != StateRetryScheduled {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	s.retryRequested = true
	m.setState(StateConnecting)
	s.inflight.Add(1)
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	m.attempt(s)
}

// stopRetryTimer must be called with m.mu held.
func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// setState must be called with m.mu held. Invalid transitions are logged and
// leave the state unchanged.
func (m *Manager) setState(to State) bool {
	from := m.state
	if from == to {
		return true
	}
	if !from.CanTransition(to) {
		m.logger.Error("rejected state transition", "from", from.String(), "to", to.String())
		return false
	}

	m.state = to
	switch {
	case to == StateDisconnecting:
		m.idle = make(chan struct{})
	case from == StateDisconnecting:
		close(m.idle)
		m.idle = nil
	}
	metrics.RecordStateTransition(from.String(), to.String())
	m.observer.StateChanged(from, to)
	return true
}

// -----------------------------------------------------------------------------
// Pairing codes and remotes
// -----------------------------------------------------------------------------

// PairWithBackend connects with a backend pairing code and issues the first
// long lived pairing code. A connection left without a code is disconnected.
func (m *Manager) PairWithBackend(ctx context.Context, pairingCode string) error {
	m.observer.PairingStateChanged(PairingPending)

	err := m.Connect(ctx, ConnectOptions{PairingCode: pairingCode})
	if err == nil {
		if _, err = m.GenerateLongLivedPairingCode(ctx); err != nil {
			m.logger.Error("failed to generate long lived pairing code", "error", err)
			if derr := m.Disconnect(context.WithoutCancel(ctx), "pairing failed"); derr != nil {
				m.logger.Warn("disconnect after failed pairing failed", "error", derr)
			}
		}
	}

	if err != nil {
		m.observer.PairingStateChanged(PairingFailed)
		return err
	}
	m.observer.PairingStateChanged(PairingSuccess)
	return nil
}

// GenerateLongLivedPairingCode requests a new long lived pairing code and
// stores it.
func (m *Manager) GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error) {
	code, err := m.session.GenerateLongLivedPairingCode(ctx)
	metrics.RecordCodeRefresh(err)
	if err != nil {
		return model.LongLivedPairingCode{}, fmt.Errorf("generate long lived pairing code: %w", err)
	}

	err = m.store.Update(ctx, func(st *credentials.State) {
		st.LongLivedCode = &code
	})
	if err != nil {
		return code, fmt.Errorf("save long lived pairing code: %w", err)
	}

	m.logger.Info("long lived pairing code generated", "expires_at", code.ExpiresAt)
	return code, nil
}

// RefreshLongLivedPairingCodeIfNeeded generates a new long lived pairing code
// when none is stored or the stored one expires within the minimum validity.
func (m *Manager) RefreshLongLivedPairingCodeIfNeeded(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	now := m.clock.Now()
	if st.LongLivedCode != nil && !st.LongLivedCode.ExpiresWithin(now, m.cfg.MinCodeValidity) {
		return nil
	}

	var expiresIn time.Duration
	if st.LongLivedCode != nil {
		expiresIn = st.LongLivedCode.ExpiresAt.Sub(now)
	}
	m.logger.Info("long lived pairing code does not exist or expires soon", "expires_in", expiresIn)

	_, err = m.GenerateLongLivedPairingCode(ctx)
	return err
}

// DisconnectAllTemporaryRemotes removes every temporarily paired Spot-Remote.
func (m *Manager) DisconnectAllTemporaryRemotes(ctx context.Context) error {
	if err := m.session.DisconnectAllTemporaryRemotes(ctx); err != nil {
		return fmt.Errorf("disconnect temporary remotes: %w", err)
	}
	return nil
}

// FetchExitPassword returns the room exit password, if any.
func (m *Manager) FetchExitPassword(ctx context.Context) (string, error) {
	pw, err := m.session.FetchExitPassword(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch exit password: %w", err)
	}
	return pw, nil
}

// -----------------------------------------------------------------------------
// Status and lifecycle
// -----------------------------------------------------------------------------

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:                 m.state,
		ReconnectScheduled:    m.reconnectScheduled,
		PermanentRemotePaired: m.permanentRemotePaired,
	}
	if s := m.current; s != nil {
		st.Connected = s.connected
		st.InitiallyConnected = s.initiallyConnected
		st.UsingPermanentPairingCode = s.pairingCode != ""
		st.Attempts = s.attempt
	}
	m.mu.Unlock()

	st.RemoteJoinCode = m.session.RemoteJoinCode()
	return st
}

// BackendConnected reports whether a backend session is established.
func (m *Manager) BackendConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.BackendEnabled && m.state == StateConnected
}

// RouterStats returns the event router statistics.
func (m *Manager) RouterStats() router.Stats {
	return m.router.Stats()
}

// Close disconnects and stops background work. The manager cannot be reused.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.Disconnect(ctx, "shutdown")
	m.cancel()

	if werr := waitGroup(ctx, &m.wg); werr != nil {
		m.logger.Warn("shutdown timeout, background work still running")
		if err == nil {
			err = werr
		}
	}
	return err
}

func (m *Manager) watchUnload() {
	defer m.wg.Done()

	select {
	case <-m.ctx.Done():
		return
	case <-m.unload:
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UnloadTimeout)
	defer cancel()

	m.logger.Info("host unloading, disconnecting")
	if err := m.Disconnect(ctx, "unload"); err != nil {
		m.logger.Warn("disconnect on unload failed", "error", err)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (m *Manager) updateCredentials(fn func(*credentials.State)) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.store.Update(ctx, fn); err != nil {
		m.logger.Error("failed to save credentials", "error", err)
	}
}

// goAsync runs fn in the background until Close.
func (m *Manager) goAsync(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

func (m *Manager) refreshCalendar() {
	if m.calendar == nil {
		return
	}
	m.goAsync(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, calendarTimeout)
		defer cancel()

		if err := m.calendar.RefreshEvents(ctx); err != nil {
			m.logger.Warn("calendar refresh failed", "error", err)
		}
	})
}

func outcomeLabel(o DisconnectOutcome) string {
	switch {
	case o.IsConflict:
		return metrics.OutcomeConflict
	case o.WillRetry:
		return metrics.OutcomeRetry
	default:
		return metrics.OutcomeTerminal
	}
}

func roomID(room *model.RoomProfile) string {
	if room == nil {
		return ""
	}
	return room.ID
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
