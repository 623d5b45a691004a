package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSession validates session lifecycle settings
func (v *Validator) ValidateSession(cfg SessionConfig) error {
	if cfg.MaxPerUser <= 0 {
		return fmt.Errorf("session.max_per_user must be positive, got %d", cfg.MaxPerUser)
	}
	if cfg.ExpireHours <= 0 {
		return fmt.Errorf("session.expire_hours must be positive, got %d", cfg.ExpireHours)
	}
	return nil
}

// ValidateCleanup validates cleanup sweep settings
func (v *Validator) ValidateCleanup(cfg CleanupConfig) error {
	if cfg.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Schedule); err != nil {
			return fmt.Errorf("invalid cleanup.schedule cron expression: %w", err)
		}
		return nil
	}
	if cfg.IntervalMinutes <= 0 {
		return fmt.Errorf("cleanup.interval_minutes must be positive, got %d", cfg.IntervalMinutes)
	}
	return nil
}

// ValidateGateway validates gateway server settings
func (v *Validator) ValidateGateway(cfg GatewayConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("gateway.port must be in range 1-65535, got %d", cfg.Port)
	}
	return nil
}

// Validate validates the full configuration
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateSession(c.Session); err != nil {
		return err
	}
	if err := v.ValidateCleanup(c.Cleanup); err != nil {
		return err
	}
	if err := v.ValidateGateway(c.Gateway); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}

	return nil
}
