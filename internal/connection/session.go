package connection

import (
	"context"
	"sync"

	"github.com/rickgao/spot-tv/internal/transport"
)

// session is one logical connection: everything between a Connect call and
// the disconnect that ends it, retries included. Fields below the mutex
// comment are guarded by Manager.mu.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	pairingCode string
	backend     transport.Backend

	// inflight counts running attempts. Add is only called under Manager.mu
	// while stopped is false.
	inflight sync.WaitGroup

	result     chan error
	resultOnce sync.Once

	// Guarded by Manager.mu
	retryRequested     bool
	initiallyConnected bool
	connected          bool
	stopped            bool
	attempt            int // Attempts started in this session
	handled            int // Last attempt whose failure was classified
	retries            int // Retries scheduled in this session
}

func newSession(parent context.Context, opts ConnectOptions, backend transport.Backend) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		ctx:            ctx,
		cancel:         cancel,
		pairingCode:    opts.PairingCode,
		backend:        backend,
		retryRequested: opts.Retry,
		result:         make(chan error, 1),
	}
}

// settle reports the outcome of the first connect chain. Later calls are ignored.
func (s *session) settle(err error) {
	s.resultOnce.Do(func() {
		s.result <- err
	})
}

func (s *session) facts() Attempt {
	return Attempt{
		InitiallyConnected:   s.initiallyConnected,
		RetryRequested:       s.retryRequested,
		PermanentPairingCode: s.pairingCode,
	}
}
