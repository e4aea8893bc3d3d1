package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var knownBackends = map[string]struct{}{
	"memory":   {},
	"leveldb":  {},
	"bolt":     {},
	"sqlite":   {},
	"postgres": {},
}

// Validate checks cfg for values the escrow engine cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.Engine.PinDigits < 4 || cfg.Engine.PinDigits > 10 {
		return fmt.Errorf("engine: PinDigits must be within [4,10]")
	}
	if cfg.Engine.DisputeGraceSeconds < 0 {
		return fmt.Errorf("engine: DisputeGraceSeconds must not be negative")
	}
	if _, err := cfg.TrustPolicy(); err != nil {
		return err
	}
	panel, err := cfg.ArbitratorPanel()
	if err != nil {
		return err
	}
	if cfg.Arbitration.QuorumVotes < 0 {
		return fmt.Errorf("arbitration: QuorumVotes must not be negative")
	}
	if cfg.Arbitration.QuorumVotes > len(panel) {
		return fmt.Errorf("arbitration: QuorumVotes %d exceeds panel size %d", cfg.Arbitration.QuorumVotes, len(panel))
	}
	if _, ok := knownBackends[strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))]; !ok {
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage: postgres backend requires DSN")
	}
	if cfg.Notifications.Enabled {
		if cfg.Notifications.RatePerMinute <= 0 {
			return fmt.Errorf("notifications: RatePerMinute must be positive")
		}
		if cfg.Notifications.Burst <= 0 {
			return fmt.Errorf("notifications: Burst must be positive")
		}
		for id := range cfg.Notifications.Contacts {
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("notifications: contact key %q is not a participant id", id)
			}
		}
	}
	return nil
}
