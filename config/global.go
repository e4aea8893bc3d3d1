package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
)

// EnginePolicy converts the engine section into runtime values.
func (c *Config) EnginePolicy() escrow.Policy {
	return escrow.Policy{
		DefaultCurrency: c.Engine.DefaultCurrency,
		GracePeriod:     time.Duration(c.Engine.DisputeGraceSeconds) * time.Second,
		PINDigits:       c.Engine.PinDigits,
		QuorumVotes:     c.Arbitration.QuorumVotes,
	}
}

// TrustPolicy parses the configured scoring policy.
func (c *Config) TrustPolicy() (reputation.Policy, error) {
	policy := reputation.DefaultPolicy()
	fields := []struct {
		name  string
		raw   string
		field *decimal.Decimal
	}{
		{"Min", c.Trust.Min, &policy.Min},
		{"Max", c.Trust.Max, &policy.Max},
		{"Initial", c.Trust.Initial, &policy.Initial},
		{"CompletionBonus", c.Trust.CompletionBonus, &policy.CompletionBonus},
		{"DisputePenalty", c.Trust.DisputePenalty, &policy.DisputePenalty},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return policy, fmt.Errorf("invalid trust.%s: %w", f.name, err)
		}
		*f.field = value
	}
	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("trust: %w", err)
	}
	return policy, nil
}

// ArbitratorPanel parses the configured roster.
func (c *Config) ArbitratorPanel() ([]uuid.UUID, error) {
	panel := make([]uuid.UUID, 0, len(c.Arbitration.Panel))
	seen := make(map[uuid.UUID]struct{}, len(c.Arbitration.Panel))
	for _, raw := range c.Arbitration.Panel {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid arbitration.Panel entry %q: %w", raw, err)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("arbitration: duplicate panel member %s", id)
		}
		seen[id] = struct{}{}
		panel = append(panel, id)
	}
	return panel, nil
}

// Contacts parses the notification phone book.
func (c *Config) Contacts() (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(c.Notifications.Contacts))
	for raw, phone := range c.Notifications.Contacts {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid notifications.Contacts key %q: %w", raw, err)
		}
		out[id] = strings.TrimSpace(phone)
	}
	return out, nil
}
