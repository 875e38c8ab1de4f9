package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/spot-tv/internal/model"
)

// ErrConflict is reported when another device already holds the same room
// identity. It is never retried.
var ErrConflict = errors.New("conflict")

// EventName identifies a notification emitted by a Session.
type EventName string

// Named events emitted by a Session.
const (
	EventCalendarRefreshRequested EventName = "CALENDAR_REFRESH_REQUESTED"
	EventUnrecoverableDisconnect  EventName = "UNRECOVERABLE_DISCONNECT"
	EventRemoteJoinCodeChange     EventName = "REMOTE_JOIN_CODE_CHANGE"
	EventRegistrationUpdated      EventName = "REGISTRATION_UPDATED"
	EventClientJoined             EventName = "CLIENT_JOINED"
	EventClientLeft               EventName = "CLIENT_LEFT"
)

// Event is a single notification from the transport.
// Data carries the JSON payload; Err is set for UNRECOVERABLE_DISCONNECT.
type Event struct {
	Name EventName
	Data json.RawMessage
	Err  error
}

// Handler receives events for one EventName.
type Handler func(Event)

// Backend is the pairing client handle passed to Connect when backend
// integration is enabled.
type Backend interface {
	// Register exchanges a pairing code for a room profile, tenant and token.
	Register(ctx context.Context, pairingCode string) (model.RoomProfile, error)

	// RefreshRegistration renews the token before it expires.
	RefreshRegistration(ctx context.Context) error

	// GenerateLongLivedPairingCode issues a new long lived pairing code.
	GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error)

	// FetchExitPassword returns the room exit password, if one is configured.
	FetchExitPassword(ctx context.Context) (string, error)

	Tenant() string
	JWT() string
	TokenExpiresAt() time.Time
}

// ServerConfig locates the signaling service.
type ServerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	RequestTimeout   time.Duration
}

// Config is passed to Session.Connect.
type Config struct {
	Backend             Backend       // nil when backend integration is disabled
	FixedCodeSegment    string        // Prefix for self-generated join codes
	JoinAsSpot          bool          // Join as the room controller
	JoinCodeRefreshRate time.Duration // How often self-generated join codes rotate
	JoinCode            string        // Permanent pairing code, if any
	Server              ServerConfig
}

// Session is a bidirectional channel to the remote control signaling service.
type Session interface {
	// Connect opens the channel and joins the room.
	Connect(ctx context.Context, cfg Config) (*model.RoomProfile, error)

	// Disconnect leaves the room and closes the channel.
	Disconnect(ctx context.Context, reason string) error

	// HasConnection reports whether a channel is currently open.
	HasConnection() bool

	// RemoteJoinCode returns the join code Spot-Remotes currently use.
	RemoteJoinCode() string

	// AddListener subscribes h to name and returns its unregister function.
	AddListener(name EventName, h Handler) (unregister func())

	// IsRecoverableRequestError reports whether err is transient at the protocol layer.
	IsRecoverableRequestError(err error) bool

	// DisconnectAllTemporaryRemotes removes every temporarily paired remote.
	DisconnectAllTemporaryRemotes(ctx context.Context) error

	// PermanentRemoteCount returns the number of connected permanent remotes.
	PermanentRemoteCount() int

	FetchExitPassword(ctx context.Context) (string, error)
	GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error)
}

// IsConflict reports whether err signals an identity conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
