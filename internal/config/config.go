package config

// Config represents the main voice chat server configuration
type Config struct {
	// Session lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Expired session cleanup
	Cleanup CleanupConfig `json:"cleanup" mapstructure:"cleanup"`

	// Database
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SessionConfig holds session lifecycle settings
type SessionConfig struct {
	// MaxPerUser is the maximum number of simultaneous non-terminal
	// sessions permitted per authenticated user.
	MaxPerUser int `json:"max_per_user" mapstructure:"max_per_user"`

	// ExpireHours is the session time-to-live in hours, fixed at creation.
	ExpireHours int `json:"expire_hours" mapstructure:"expire_hours"`
}

// CleanupConfig holds expired session sweep settings
type CleanupConfig struct {
	// IntervalMinutes is the fixed sweep interval.
	IntervalMinutes int `json:"interval_minutes" mapstructure:"interval_minutes"`

	// Schedule is an optional cron expression. When set it takes
	// precedence over IntervalMinutes.
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MaxPerUser:  10,
			ExpireHours: 24,
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 15,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}
