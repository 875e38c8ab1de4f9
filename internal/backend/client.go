package backend

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/spot-tv/internal/model"
)

// Client talks to the pairing backend and holds the current registration.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	mu           sync.RWMutex
	registration Registration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new pairing backend client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRegistration seeds the client with a registration restored from storage,
// so a device can refresh its token without pairing again.
func WithRegistration(jwt, tenant string) ClientOption {
	return func(c *Client) {
		c.registration = Registration{
			JWT:       jwt,
			Tenant:    tenant,
			ExpiresAt: tokenExpiry(jwt),
		}
	}
}

// Tenant returns the tenant of the current registration.
func (c *Client) Tenant() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registration.Tenant
}

// JWT returns the current registration token.
func (c *Client) JWT() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registration.JWT
}

// TokenExpiresAt returns when the current token expires. It is the zero time
// when the token carries no exp claim.
func (c *Client) TokenExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registration.ExpiresAt
}

// Room returns the room profile from the last registration.
func (c *Client) Room() model.RoomProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registration.Room
}

func (c *Client) setRegistration(r Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registration = r
}
