package backend

import (
	"time"

	"github.com/rickgao/spot-tv/internal/model"
)

// Registration is the result of exchanging a pairing code.
type Registration struct {
	JWT       string
	Tenant    string
	Room      model.RoomProfile
	ExpiresAt time.Time
}

// pairRequest is the body of POST /pair.
type pairRequest struct {
	PairingCode string `json:"pairingCode"`
}

// registrationResponse is returned by POST /pair and POST /pair/refresh.
type registrationResponse struct {
	JWT    string            `json:"jwt"`
	Tenant string            `json:"tenant,omitempty"`
	Room   model.RoomProfile `json:"room"`
}

// longLivedCodeResponse is returned by POST /pair/long-lived-code.
type longLivedCodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"` // Unix milliseconds
}

// exitPasswordResponse is returned by GET /room/exit-password.
type exitPasswordResponse struct {
	Password string `json:"password"`
}
