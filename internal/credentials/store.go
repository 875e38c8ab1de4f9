package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/spot-tv/internal/model"
)

// StateVersion is the current version of the persisted state format.
const StateVersion = 1

// State is everything the credential store persists for one device.
type State struct {
	// Version is the state format version.
	Version int `json:"version"`

	// SavedAt is when the state was last written.
	SavedAt time.Time `json:"saved_at"`

	Credentials   model.PairingCredentials    `json:"credentials"`
	LongLivedCode *model.LongLivedPairingCode `json:"long_lived_code,omitempty"`
	Device        model.DeviceInfo            `json:"device"`
}

// Store reads and writes credential state.
type Store interface {
	// Load returns the current state. A store with nothing saved returns the zero State.
	Load(ctx context.Context) (State, error)

	// Update applies fn to the current state and persists the result atomically.
	Update(ctx context.Context, fn func(*State)) error
}

// MemoryStore keeps state in memory. It is the default for tests and for
// devices that re-pair on every boot.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the current state.
func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state), nil
}

// Update applies fn under the store lock.
func (s *MemoryStore) Update(ctx context.Context, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneState(s.state)
	fn(&next)
	next.Version = StateVersion
	next.SavedAt = time.Now()
	s.state = next
	return nil
}

func cloneState(s State) State {
	if s.LongLivedCode != nil {
		code := *s.LongLivedCode
		s.LongLivedCode = &code
	}
	return s
}
