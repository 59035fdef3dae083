// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Risk.VelocitySoftLimit > c.Risk.VelocityHardLimit {
		return fmt.Errorf("RISK_VELOCITY_SOFT_LIMIT (%d) exceeds RISK_VELOCITY_HARD_LIMIT (%d)",
			c.Risk.VelocitySoftLimit, c.Risk.VelocityHardLimit)
	}
	if c.Reconciliation.Workers <= 0 {
		return fmt.Errorf("RECON_WORKERS must be positive")
	}
	switch c.Notification.Sink {
	case "log", "redis", "kafka":
	default:
		return fmt.Errorf("unknown NOTIFICATION_SINK %q", c.Notification.Sink)
	}

	return nil
}
