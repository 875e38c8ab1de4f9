package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/spot-tv/internal/transport"
)

// Errors
var (
	ErrAlreadyConnected   = errors.New("already connected")
	ErrMissingPairingCode = errors.New("pairing code is required when the backend is enabled")
	ErrDisconnected       = errors.New("disconnected before the connection was established")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrClosed             = errors.New("connection manager closed")
)

// TransportError wraps a failure reported by the transport session.
type TransportError struct {
	Op          string // "connect" or "session"
	Err         error
	Recoverable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err is a transport failure the protocol layer
// considers transient.
func IsRecoverable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Recoverable
}

// -----------------------------------------------------------------------------
// State machine
// -----------------------------------------------------------------------------

// State is the lifecycle state of the manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRetryScheduled
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	StateIdle:           {StateConnecting, StateDisconnecting},
	StateConnecting:     {StateConnected, StateRetryScheduled, StateDisconnecting, StateIdle},
	StateConnected:      {StateRetryScheduled, StateDisconnecting, StateIdle},
	StateRetryScheduled: {StateConnecting, StateDisconnecting},
	StateDisconnecting:  {StateIdle},
}

// CanTransition reports whether the manager may move from s to to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Connect and disconnect records
// -----------------------------------------------------------------------------

// ConnectOptions are the arguments to Connect.
type ConnectOptions struct {
	PairingCode string // Permanent pairing code, required with the backend
	Retry       bool   // Retry even if the first attempt fails
}

// Attempt is the session state classification depends on.
type Attempt struct {
	InitiallyConnected   bool
	RetryRequested       bool
	PermanentPairingCode string
}

// DisconnectOutcome is the classification of one disconnect. It is computed
// fresh every time and never persisted.
type DisconnectOutcome struct {
	Err                       error
	InitiallyConnected        bool
	IsConflict                bool
	IsRecoverable             bool
	RetryRequested            bool
	UsingPermanentPairingCode bool
	WillRetry                 bool
}

// Classify decides what happens after err ends an attempt. recoverable is the
// transport's judgment of err.
func Classify(err error, recoverable bool, a Attempt) DisconnectOutcome {
	isConflict := transport.IsConflict(err)
	usingPermanent := a.PermanentPairingCode != ""
	canRecover := !usingPermanent || recoverable

	return DisconnectOutcome{
		Err:                       err,
		InitiallyConnected:        a.InitiallyConnected,
		IsConflict:                isConflict,
		IsRecoverable:             recoverable,
		RetryRequested:            a.RetryRequested,
		UsingPermanentPairingCode: usingPermanent,
		WillRetry:                 (a.RetryRequested || a.InitiallyConnected) && canRecover && !isConflict,
	}
}

// ClearsPermanentCode reports whether the stored permanent pairing code must
// be wiped.
func (o DisconnectOutcome) ClearsPermanentCode() bool {
	return o.UsingPermanentPairingCode && !o.IsRecoverable
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// PairingState tracks PairWithBackend.
type PairingState string

const (
	PairingPending PairingState = "pending"
	PairingSuccess PairingState = "success"
	PairingFailed  PairingState = "failed"
)

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State                     State  `json:"state"`
	Connected                 bool   `json:"connected"`
	InitiallyConnected        bool   `json:"initially_connected"`
	ReconnectScheduled        bool   `json:"reconnect_scheduled"`
	PermanentRemotePaired     bool   `json:"permanent_remote_paired"`
	UsingPermanentPairingCode bool   `json:"using_permanent_pairing_code"`
	Attempts                  int    `json:"attempts"`
	RemoteJoinCode            string `json:"remote_join_code,omitempty"`
}

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// Calendar refreshes the room calendar.
type Calendar interface {
	RefreshEvents(ctx context.Context) error
}

// Navigator switches the device UI.
type Navigator interface {
	// ShowConflict shows the view explaining another device took over the room.
	ShowConflict()
}

// Observer receives connection notifications. StateChanged is called with
// the manager lock held and must not call back into the Manager.
type Observer interface {
	ConnectionFailed(DisconnectOutcome)
	ReconnectScheduled(scheduled bool)
	StateChanged(from, to State)
	PairingStateChanged(PairingState)
}

// BackendFactory creates the pairing client for one connection.
type BackendFactory func() transport.Backend

// DelayFunc returns how long to wait before retry number n (starting at 1).
type DelayFunc func(n int) time.Duration

type nopObserver struct{}

func (nopObserver) ConnectionFailed(DisconnectOutcome) {}
func (nopObserver) ReconnectScheduled(bool)            {}
func (nopObserver) StateChanged(State, State)          {}
func (nopObserver) PairingStateChanged(PairingState)   {}
