package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

// session is one open connection and everything scoped to it.
type session struct {
	id     string
	cfg    transport.Config
	conn   *wsConn
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	cmdID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan Frame

	stateMu  sync.RWMutex
	joinCode string
	remotes  map[string]model.ClientType
}

func newSession(cfg transport.Config, conn *wsConn) *session {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &session{
		id:      uuid.NewString(),
		cfg:     cfg,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int64]chan Frame),
		remotes: make(map[string]model.ClientType),
	}
}

func (s *session) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.conn.Send(data)
}

// close cancels the session with cause and closes the socket.
func (s *session) close(cause error) {
	s.cancel(cause)
	s.conn.Close()
}

func (s *session) routeResponse(f Frame) {
	s.pendingMu.Lock()
	ch, ok := s.pending[f.ID]
	if ok {
		delete(s.pending, f.ID)
	}
	s.pendingMu.Unlock()

	if ok {
		ch <- f
	}
}

func (s *session) setJoinCode(code string) {
	s.stateMu.Lock()
	s.joinCode = code
	s.stateMu.Unlock()
}

func (s *session) getJoinCode() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.joinCode
}

func (s *session) trackRemote(id string, t model.ClientType) {
	s.stateMu.Lock()
	s.remotes[id] = t
	s.stateMu.Unlock()
}

func (s *session) untrackRemote(id string) {
	s.stateMu.Lock()
	delete(s.remotes, id)
	s.stateMu.Unlock()
}

func (s *session) remotesOfType(t model.ClientType) []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	var ids []string
	for id, typ := range s.remotes {
		if typ == t {
			ids = append(ids, id)
		}
	}
	return ids
}
