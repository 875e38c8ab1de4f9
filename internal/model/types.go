package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Pairing Types
// -----------------------------------------------------------------------------

// PairingCredentials holds everything a Spot-TV needs to authenticate with the
// remote control service and the backend.
type PairingCredentials struct {
	JoinCode             string `json:"join_code,omitempty"`              // Code Spot-Remotes use to join
	JWT                  string `json:"jwt,omitempty"`                    // Backend token (backend only)
	Tenant               string `json:"tenant,omitempty"`                 // Backend tenant (backend only)
	PermanentPairingCode string `json:"permanent_pairing_code,omitempty"` // Backend-issued pairing code
	RoomID               string `json:"room_id,omitempty"`
	DisplayName          string `json:"display_name,omitempty"`
	CustomerID           string `json:"customer_id,omitempty"`
}

// LongLivedPairingCode is a backend-issued code that remotes can use to pair
// permanently with this Spot-TV.
type LongLivedPairingCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the code expires within d of now.
// An already expired code always expires within d.
func (c LongLivedPairingCode) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAt.Sub(now) < d
}

// -----------------------------------------------------------------------------
// Room and Device Types
// -----------------------------------------------------------------------------

// RoomProfile is the room identity returned when connecting through the backend.
type RoomProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CustomerID string `json:"customerId,omitempty"`
}

// DeviceInfo is the device-level mirror of the room identity.
type DeviceInfo struct {
	ID                 string `json:"id"`
	IsPairingPermanent bool   `json:"is_pairing_permanent"`
	IsSpotTV           bool   `json:"is_spot_tv"`
	RoomID             string `json:"room_id,omitempty"`
}

// NewDeviceID returns a fresh random device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// -----------------------------------------------------------------------------
// Client Types
// -----------------------------------------------------------------------------

// ClientType classifies a participant of the remote control session.
type ClientType string

const (
	ClientTypeSpotTV              ClientType = "spot-tv"
	ClientTypeSpotRemotePermanent ClientType = "spot-remote-permanent"
	ClientTypeSpotRemoteTemporary ClientType = "spot-remote-temporary"
	ClientTypeUnknown             ClientType = "unknown"
)

// ParseClientType maps a wire value onto the closed set of client types.
func ParseClientType(s string) ClientType {
	switch ClientType(s) {
	case ClientTypeSpotTV, ClientTypeSpotRemotePermanent, ClientTypeSpotRemoteTemporary:
		return ClientType(s)
	default:
		return ClientTypeUnknown
	}
}

// IsPermanentRemote reports whether the type is a permanently paired Spot-Remote.
func (t ClientType) IsPermanentRemote() bool {
	return t == ClientTypeSpotRemotePermanent
}

// IsTemporaryRemote reports whether the type is a temporarily paired Spot-Remote.
func (t ClientType) IsTemporaryRemote() bool {
	return t == ClientTypeSpotRemoteTemporary
}
