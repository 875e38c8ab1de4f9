package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

var _ transport.Backend = (*Client)(nil)

var (
	// ErrEmptyPairingCode is returned when Register is called without a code.
	ErrEmptyPairingCode = errors.New("pairing code is empty")

	// ErrNotRegistered is returned by calls that need a registration token.
	ErrNotRegistered = errors.New("not registered with pairing backend")

	// ErrMissingToken is returned when the backend answers without a JWT.
	ErrMissingToken = errors.New("registration response has no token")
)

// Register exchanges a pairing code for a room registration.
func (c *Client) Register(ctx context.Context, pairingCode string) (model.RoomProfile, error) {
	if pairingCode == "" {
		return model.RoomProfile{}, ErrEmptyPairingCode
	}

	var resp registrationResponse
	if err := c.call(ctx, http.MethodPost, "/pair", pairRequest{PairingCode: pairingCode}, &resp); err != nil {
		return model.RoomProfile{}, fmt.Errorf("register pairing code: %w", err)
	}

	reg, err := c.applyRegistration(resp)
	if err != nil {
		return model.RoomProfile{}, err
	}

	c.logger.Info("registered with pairing backend",
		"room_id", reg.Room.ID,
		"tenant", reg.Tenant,
		"expires_at", reg.ExpiresAt,
	)
	return reg.Room, nil
}

// RefreshRegistration rotates the registration token.
func (c *Client) RefreshRegistration(ctx context.Context) error {
	if c.JWT() == "" {
		return ErrNotRegistered
	}

	var resp registrationResponse
	if err := c.call(ctx, http.MethodPost, "/pair/refresh", nil, &resp); err != nil {
		return fmt.Errorf("refresh registration: %w", err)
	}

	reg, err := c.applyRegistration(resp)
	if err != nil {
		return err
	}

	c.logger.Debug("refreshed backend registration", "expires_at", reg.ExpiresAt)
	return nil
}

// GenerateLongLivedPairingCode issues a new long lived pairing code.
func (c *Client) GenerateLongLivedPairingCode(ctx context.Context) (model.LongLivedPairingCode, error) {
	if c.JWT() == "" {
		return model.LongLivedPairingCode{}, ErrNotRegistered
	}

	var resp longLivedCodeResponse
	if err := c.call(ctx, http.MethodPost, "/pair/long-lived-code", nil, &resp); err != nil {
		return model.LongLivedPairingCode{}, fmt.Errorf("generate long lived code: %w", err)
	}

	return model.LongLivedPairingCode{
		Code:      resp.Code,
		ExpiresAt: time.UnixMilli(resp.ExpiresAt),
	}, nil
}

// FetchExitPassword returns the room exit password. An empty string means
// none is configured.
func (c *Client) FetchExitPassword(ctx context.Context) (string, error) {
	if c.JWT() == "" {
		return "", ErrNotRegistered
	}

	var resp exitPasswordResponse
	if err := c.call(ctx, http.MethodGet, "/room/exit-password", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch exit password: %w", err)
	}
	return resp.Password, nil
}

func (c *Client) applyRegistration(resp registrationResponse) (Registration, error) {
	if resp.JWT == "" {
		return Registration{}, ErrMissingToken
	}

	reg := Registration{
		JWT:       resp.JWT,
		Tenant:    resp.Tenant,
		Room:      resp.Room,
		ExpiresAt: tokenExpiry(resp.JWT),
	}

	// A refresh response may omit the room; keep the one we already have.
	if reg.Room.ID == "" {
		reg.Room = c.Room()
	}
	if reg.Tenant == "" {
		reg.Tenant = c.Tenant()
	}

	c.setRegistration(reg)
	return reg, nil
}

// tokenExpiry reads the exp claim of token without verifying its signature.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
