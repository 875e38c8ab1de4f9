package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

// Errors
var (
	ErrAlreadyConnected = errors.New("signaling session already open")
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrClosed           = errors.New("signaling client closed")
	ErrNoBackend        = errors.New("backend integration is not enabled")
)

// Frame types.
const (
	FrameJoin         = "join"
	FrameSetJoinCode  = "set_join_code"
	FrameRemoveClient = "remove_client"
	FrameLeave        = "leave"
	FrameResult       = "result"
	FrameError        = "error"
	FrameEvent        = "event"
)

// Error conditions reported by the server.
const (
	ConditionConflict      = "conflict"
	ConditionNotAuthorized = "not-authorized"
	ConditionItemNotFound  = "item-not-found"
	ConditionBadRequest    = "bad-request"
	ConditionTimeout       = "timeout"
	ConditionUnavailable   = "service-unavailable"
	ConditionInternal      = "internal-server-error"
)

// Application close codes.
const (
	// CloseConflict is sent when another device took over the room identity.
	CloseConflict = 4009

	// CloseRevoked is sent when the room's pairing was revoked.
	CloseRevoked = 4003
)

// Join roles.
const (
	RoleSpotTV     = "spot-tv"
	RoleSpotRemote = "spot-remote"
)

// Frame is a single message on the wire.
type Frame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error content of an "error" frame.
type ErrorBody struct {
	Condition string `json:"condition"`
	Message   string `json:"message,omitempty"`
}

// JoinParams are parameters for a join request.
type JoinParams struct {
	Role      string `json:"role"`
	JoinCode  string `json:"joinCode,omitempty"`
	Tenant    string `json:"tenant,omitempty"`
	Permanent bool   `json:"permanent,omitempty"` // JoinCode is a permanent pairing code
}

// JoinResult is the payload of a successful join.
type JoinResult struct {
	Room     model.RoomProfile `json:"room"`
	JoinCode string            `json:"joinCode,omitempty"` // Set when the server assigns the code
}

// SetJoinCodeParams are parameters for a set_join_code request.
type SetJoinCodeParams struct {
	JoinCode string `json:"joinCode"`
}

// RemoveClientParams are parameters for a remove_client request.
type RemoveClientParams struct {
	ID string `json:"id"`
}

// LeaveParams are parameters for a leave request.
type LeaveParams struct {
	Reason string `json:"reason,omitempty"`
}

// ClientPresence is the payload of CLIENT_JOINED and CLIENT_LEFT.
type ClientPresence struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// JoinCodeChange is the payload of REMOTE_JOIN_CODE_CHANGE.
type JoinCodeChange struct {
	RemoteJoinCode string `json:"remoteJoinCode"`
}

// RegistrationUpdate is the payload of REGISTRATION_UPDATED.
type RegistrationUpdate struct {
	JWT    string `json:"jwt"`
	Tenant string `json:"tenant,omitempty"`
}

// RequestError is returned when the server answers a request with an error frame.
type RequestError struct {
	Op        string
	Condition string
	Message   string
}

func newRequestError(op string, body *ErrorBody) *RequestError {
	if body == nil {
		return &RequestError{Op: op, Condition: ConditionInternal}
	}
	return &RequestError{Op: op, Condition: body.Condition, Message: body.Message}
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling %s failed: %s", e.Op, e.Condition)
	}
	return fmt.Sprintf("signaling %s failed: %s: %s", e.Op, e.Condition, e.Message)
}

// Unwrap lets errors.Is match transport.ErrConflict for conflict responses.
func (e *RequestError) Unwrap() error {
	if e.Condition == ConditionConflict {
		return transport.ErrConflict
	}
	return nil
}

// IsRecoverable returns false for conditions that will not change on retry.
func (e *RequestError) IsRecoverable() bool {
	switch e.Condition {
	case ConditionConflict, ConditionNotAuthorized, ConditionItemNotFound, ConditionBadRequest:
		return false
	}
	return true
}

// closeError maps application close codes onto the errors callers classify.
func closeError(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case CloseConflict:
		return transport.ErrConflict
	case CloseRevoked:
		return &RequestError{Op: "session", Condition: ConditionNotAuthorized, Message: ce.Text}
	}
	return err
}
