package config

import "time"

// Config is the root configuration for a Spot-TV instance.
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	RemoteControl RemoteControlConfig `yaml:"remote_control"`
	Backend       BackendConfig       `yaml:"backend"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Store         StoreConfig         `yaml:"store"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	PairingCode   PairingCodeConfig   `yaml:"pairing_code"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// DeviceConfig identifies this Spot-TV.
type DeviceConfig struct {
	ID             string `yaml:"id" env:"SPOT_DEVICE_ID"`                             // Generated and persisted when empty
	PrivateKeyPath string `yaml:"private_key_path" env:"SPOT_DEVICE_PRIVATE_KEY_PATH"` // Optional RSA key for signed handshakes
}

// RemoteControlConfig holds the signaling service settings.
type RemoteControlConfig struct {
	ServerURL           string        `yaml:"server_url" env:"SPOT_RCS_URL"`
	FixedCodeSegment    string        `yaml:"fixed_code_segment" env:"SPOT_RCS_FIXED_CODE_SEGMENT"`
	JoinCodeRefreshRate time.Duration `yaml:"join_code_refresh_rate" env:"SPOT_RCS_JOIN_CODE_REFRESH_RATE"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	PingTimeout         time.Duration `yaml:"ping_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

// BackendConfig holds the pairing backend settings.
type BackendConfig struct {
	Enabled           bool          `yaml:"enabled" env:"SPOT_BACKEND_ENABLED"`
	PairingServiceURL string        `yaml:"pairing_service_url" env:"SPOT_BACKEND_PAIRING_URL"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        *int          `yaml:"max_retries"` // nil = default; 0 disables retries
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

// CalendarConfig holds calendar integration flags.
type CalendarConfig struct {
	PushEnabled bool `yaml:"push_enabled" env:"SPOT_CALENDAR_PUSH_ENABLED"`
}

// StoreConfig selects where credentials are persisted.
type StoreConfig struct {
	Driver   string      `yaml:"driver" env:"SPOT_STORE_DRIVER"` // memory, file, postgres, redis
	FilePath string      `yaml:"file_path" env:"SPOT_STORE_FILE_PATH"`
	Postgres DBConfig    `yaml:"postgres"`
	Redis    RedisConfig `yaml:"redis"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"SPOT_PG_HOST"`
	Port     int    `yaml:"port" env:"SPOT_PG_PORT"`
	Name     string `yaml:"name" env:"SPOT_PG_NAME"`
	User     string `yaml:"user" env:"SPOT_PG_USER"`
	Password string `yaml:"password" env:"SPOT_PG_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the Redis connection for the redis store driver.
type RedisConfig struct {
	URL       string `yaml:"url" env:"SPOT_REDIS_URL"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ReconnectConfig tunes the retry delay after a dropped session.
type ReconnectConfig struct {
	JitterRetryCount int           `yaml:"jitter_retry_count"` // Exponent applied to JitterBase
	JitterMinDelay   time.Duration `yaml:"jitter_min_delay"`
	JitterBase       float64       `yaml:"jitter_base"`
	MaxDelay         time.Duration `yaml:"max_delay"`    // 0 = no ceiling
	MaxAttempts      int           `yaml:"max_attempts"` // 0 = retry indefinitely
}

// PairingCodeConfig controls proactive long lived pairing code refresh.
type PairingCodeConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	MinValidity   time.Duration `yaml:"min_validity"`
}

// MetricsConfig holds the health and Prometheus endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port" env:"SPOT_METRICS_PORT"`
	Path string `yaml:"path"`
}
