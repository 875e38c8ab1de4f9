package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("remote_control.server_url", c.RemoteControl.ServerURL, "ws", "wss"); err != nil {
		return err
	}
	if c.RemoteControl.JoinCodeRefreshRate < 0 {
		return errors.New("remote_control.join_code_refresh_rate must be >= 0")
	}

	if c.Backend.Enabled {
		if err := validateURL("backend.pairing_service_url", c.Backend.PairingServiceURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Backend.MaxRetries != nil && *c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must be >= 0")
	}
	if c.Backend.RetryBackoff <= 0 {
		return errors.New("backend.retry_backoff must be > 0")
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFile:
		if c.Store.FilePath == "" {
			return errors.New("store.file_path is required for the file driver")
		}
	case StoreDriverPostgres:
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	case StoreDriverRedis:
		if c.Store.Redis.URL == "" {
			return errors.New("store.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, file, postgres, redis", c.Store.Driver)
	}

	if c.Reconnect.JitterMinDelay < 0 {
		return errors.New("reconnect.jitter_min_delay must be >= 0")
	}
	if c.Reconnect.JitterBase < 1 {
		return errors.New("reconnect.jitter_base must be >= 1")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}

	if c.PairingCode.CheckInterval <= 0 {
		return errors.New("pairing_code.check_interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", field, schemes, u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
