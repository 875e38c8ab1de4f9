package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerURL           = "ws://localhost:8090/rcs"
	DefaultJoinCodeRefreshRate = 5 * time.Minute
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultPingInterval        = 15 * time.Second
	DefaultPingTimeout         = 60 * time.Second
	DefaultRequestTimeout      = 10 * time.Second
	DefaultBackendTimeout      = 30 * time.Second
	DefaultBackendMaxRetries   = 3
	DefaultBackendRetryBackoff = 1 * time.Second
	DefaultStoreDriver         = StoreDriverFile
	DefaultStoreFilePath       = "/var/lib/spot-tv/state.json"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultJitterRetryCount    = 3
	DefaultJitterMinDelay      = 500 * time.Millisecond
	DefaultJitterBase          = 2.0
	DefaultCodeCheckInterval   = 10 * time.Minute
	DefaultCodeMinValidity     = 1 * time.Hour
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
)

// Store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

func (c *Config) applyDefaults() {
	// Remote control defaults
	if c.RemoteControl.ServerURL == "" {
		c.RemoteControl.ServerURL = DefaultServerURL
	}
	if c.RemoteControl.JoinCodeRefreshRate == 0 {
		c.RemoteControl.JoinCodeRefreshRate = DefaultJoinCodeRefreshRate
	}
	if c.RemoteControl.HandshakeTimeout == 0 {
		c.RemoteControl.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.RemoteControl.PingInterval == 0 {
		c.RemoteControl.PingInterval = DefaultPingInterval
	}
	if c.RemoteControl.PingTimeout == 0 {
		c.RemoteControl.PingTimeout = DefaultPingTimeout
	}
	if c.RemoteControl.RequestTimeout == 0 {
		c.RemoteControl.RequestTimeout = DefaultRequestTimeout
	}

	// Backend defaults
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}
	if c.Backend.MaxRetries == nil {
		n := DefaultBackendMaxRetries
		c.Backend.MaxRetries = &n
	}
	if c.Backend.RetryBackoff == 0 {
		c.Backend.RetryBackoff = DefaultBackendRetryBackoff
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == StoreDriverFile && c.Store.FilePath == "" {
		c.Store.FilePath = DefaultStoreFilePath
	}
	applyDBDefaults(&c.Store.Postgres)

	// Reconnect defaults
	if c.Reconnect.JitterRetryCount == 0 {
		c.Reconnect.JitterRetryCount = DefaultJitterRetryCount
	}
	if c.Reconnect.JitterMinDelay == 0 {
		c.Reconnect.JitterMinDelay = DefaultJitterMinDelay
	}
	if c.Reconnect.JitterBase == 0 {
		c.Reconnect.JitterBase = DefaultJitterBase
	}

	// Pairing code defaults
	if c.PairingCode.CheckInterval == 0 {
		c.PairingCode.CheckInterval = DefaultCodeCheckInterval
	}
	if c.PairingCode.MinValidity == 0 {
		c.PairingCode.MinValidity = DefaultCodeMinValidity
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
