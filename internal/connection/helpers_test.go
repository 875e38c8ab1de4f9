package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/spot-tv/internal/credentials"
	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

var (
	errTransient = errors.New("service unavailable")
	errFatal     = errors.New("not authorized")
)

// fakeSession is a scripted transport.Session. Connect results are consumed
// from connectErrs in order; once exhausted every connect succeeds.
type fakeSession struct {
	mu sync.Mutex

	connectErrs   []error
	connectHook   func(ctx context.Context)
	configs       []transport.Config
	listenersSeen []int // Listener count at each Connect

	connected      bool
	joinCode       string
	room           *model.RoomProfile
	permanentCount int

	disconnectErr     error
	disconnectHook    func()
	disconnectReasons []string
	listenersAtLeave  []int

	code      model.LongLivedPairingCode
	codeErr   error
	codeCalls int

	tempRemovals int
	exitPassword string

	nextID    int
	listeners map[transport.EventName]map[int]transport.Handler
}

var _ transport.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{
		joinCode:  "ABC123",
		room:      &model.RoomProfile{ID: "room-1", Name: "Boardroom", CustomerID: "cust-9"},
		listeners: make(map[transport.EventName]map[int]transport.Handler),
	}
}

func (f *fakeSession) Connect(ctx context.Context, cfg transport.Config) (*model.RoomProfile, error) {
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.listenersSeen = append(f.listenersSeen, f.listenerCountLocked())
	hook := f.connectHook
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	room := *f.room
	return &room, nil
}

func (f *fakeSession) Disconnect(ctx context.Context, reason string) error {
	f.mu.Lock()
	hook := f.disconnectHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnectReasons = append(f.disconnectReasons, reason)
	f.listenersAtLeave = append(f.listenersAtLeave, f.listenerCountLocked())
	return f.disconnectErr
}

func (f *fakeSession) HasConnection() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) RemoteJoinCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ""
	}
	return f.joinCode
}

func (f *fakeSession) AddListener(name transport.EventName, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	if f.listeners[name] == nil {
		f.listeners[name] = make(map[int]transport.Handler)
	}
	f.listeners[name][id] = h

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[name], id)
	}
}

func (f *fakeSession) IsRecoverableRequestError(err error) bool {
	return errors.Is(err, errTransient)
}

func (f *fakeSession) DisconnectAllTemporaryRemotes(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempRemovals++
	return nil
}

func (f *fakeSession) PermanentRemoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permanentCount
}

func (f *fakeSession) FetchExitPassword(ctx context.Context) (string, error) {
	return f.exitPassword, nil
}

func (f *fakeSession) GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeCalls++
	return f.code, f.codeErr
}

// emit delivers an event synchronously to every listener for name.
func (f *fakeSession) emit(name transport.EventName, data any, err error) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}

	f.mu.Lock()
	if name == transport.EventUnrecoverableDisconnect {
		f.connected = false
	}
	hs := make([]transport.Handler, 0, len(f.listeners[name]))
	for _, h := range f.listeners[name] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(transport.Event{Name: name, Data: raw, Err: err})
	}
}

func (f *fakeSession) setPermanentCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permanentCount = n
}

func (f *fakeSession) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listenerCountLocked()
}

func (f *fakeSession) listenerCountLocked() int {
	n := 0
	for _, ls := range f.listeners {
		n += len(ls)
	}
	return n
}

func (f *fakeSession) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeSession) lastConfig() transport.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

func (f *fakeSession) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnectReasons...)
}

// fakeBackend only serves the accessors the manager reads.
type fakeBackend struct {
	jwt    string
	tenant string
}

func (b *fakeBackend) Register(ctx context.Context, code string) (model.RoomProfile, error) {
	return model.RoomProfile{}, nil
}
func (b *fakeBackend) RefreshRegistration(ctx context.Context) error { return nil }
func (b *fakeBackend) GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error) {
	return model.LongLivedPairingCode{}, nil
}
func (b *fakeBackend) FetchExitPassword(ctx context.Context) (string, error) { return "", nil }
func (b *fakeBackend) Tenant() string                                        { return b.tenant }
func (b *fakeBackend) JWT() string                                           { return b.jwt }
func (b *fakeBackend) TokenExpiresAt() time.Time                             { return time.Time{} }

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu          sync.Mutex
	outcomes    []DisconnectOutcome
	reconnects  []bool
	transitions [][2]State
	pairing     []PairingState
}

func (o *recordingObserver) ConnectionFailed(out DisconnectOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *recordingObserver) ReconnectScheduled(scheduled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects = append(o.reconnects, scheduled)
}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]State{from, to})
}

func (o *recordingObserver) PairingStateChanged(s PairingState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pairing = append(o.pairing, s)
}

func (o *recordingObserver) failures() []DisconnectOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DisconnectOutcome(nil), o.outcomes...)
}

func (o *recordingObserver) pairingStates() []PairingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PairingState(nil), o.pairing...)
}

type countingNavigator struct {
	mu        sync.Mutex
	conflicts int
}

func (n *countingNavigator) ShowConflict() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conflicts++
}

func (n *countingNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conflicts
}

type mockCalendar struct {
	mock.Mock
}

func (c *mockCalendar) RefreshEvents(ctx context.Context) error {
	args := c.Called(ctx)
	return args.Error(0)
}

// harness bundles a manager with its fakes.
type harness struct {
	m     *Manager
	sess  *fakeSession
	store *credentials.MemoryStore
	clk   *clock.Mock
	obs   *recordingObserver
	nav   *countingNavigator
}

const retryDelay = time.Second

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		sess:  newFakeSession(),
		store: credentials.NewMemoryStore(),
		clk:   clock.NewMock(),
		obs:   &recordingObserver{},
		nav:   &countingNavigator{},
	}

	base := []Option{
		WithClock(h.clk),
		WithObserver(h.obs),
		WithNavigator(h.nav),
		WithJitter(func(int) time.Duration { return retryDelay }),
		WithBackendFactory(func() transport.Backend {
			return &fakeBackend{jwt: "jwt-1", tenant: "acme"}
		}),
	}

	m, err := New(cfg, h.sess, h.store, append(base, opts...)...)
	require.NoError(t, err)
	h.m = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return h
}

func (h *harness) state(t *testing.T) credentials.State {
	t.Helper()
	st, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return st
}

// connectAsync runs Connect in the background and returns its result channel.
func (h *harness) connectAsync(opts ConnectOptions) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.m.Connect(context.Background(), opts)
	}()
	return errCh
}

// advanceUntil moves the mock clock forward one retry delay at a time until
// cond holds.
func (h *harness) advanceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		h.clk.Add(retryDelay)
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}
