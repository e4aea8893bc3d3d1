package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spaza.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	if cfg.Engine.DefaultCurrency != "ZAR" || cfg.Engine.PinDigits != 6 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Storage.Backend != "leveldb" || !strings.HasSuffix(cfg.Storage.Path, "escrow.ldb") {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Trust != cfg.Trust {
		t.Fatalf("trust section did not round trip: %+v vs %+v", reloaded.Trust, cfg.Trust)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	arbA, arbB, arbC := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "spaza.toml")
	contents := `DataDir = "/var/lib/spaza"

[Engine]
DefaultCurrency = "KES"
PinDigits = 8
DisputeGraceSeconds = 3600

[Arbitration]
Panel = ["` + arbA.String() + `", "` + arbB.String() + `", "` + arbC.String() + `"]
QuorumVotes = 2

[Trust]
Min = "0"
Max = "10"
Initial = "5"
CompletionBonus = "0.5"
DisputePenalty = "1.5"

[Storage]
Backend = "Bolt"

[Notifications]
Enabled = true
Carrier = "safaricom"
RatePerMinute = 12
Burst = 2

[Notifications.Contacts]
"` + arbA.String() + `" = "+254700000001"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	policy := cfg.EnginePolicy()
	if policy.GracePeriod != time.Hour || policy.PINDigits != 8 || policy.QuorumVotes != 2 {
		t.Fatalf("unexpected engine policy: %+v", policy)
	}
	panel, err := cfg.ArbitratorPanel()
	if err != nil || len(panel) != 3 || panel[1] != arbB {
		t.Fatalf("unexpected panel %v (%v)", panel, err)
	}
	trust, err := cfg.TrustPolicy()
	if err != nil {
		t.Fatalf("trust policy: %v", err)
	}
	if !trust.CompletionBonus.Equal(decimal.RequireFromString("0.5")) || !trust.Max.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected trust policy: %+v", trust)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Storage.Path != filepath.Join("/var/lib/spaza", "escrow.bolt") {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	contacts, err := cfg.Contacts()
	if err != nil || contacts[arbA] != "+254700000001" {
		t.Fatalf("unexpected contacts %v (%v)", contacts, err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spaza.yaml")
	contents := `engine:
  default_currency: NGN
  pin_digits: 4
storage:
  backend: sqlite
  dsn: "file:escrow.db"
logging:
  level: debug
  file: /tmp/spaza.log
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Engine.DefaultCurrency != "NGN" || cfg.Engine.PinDigits != 4 {
		t.Fatalf("unexpected engine: %+v", cfg.Engine)
	}
	if cfg.Storage.DSN != "file:escrow.db" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected sections: %+v %+v", cfg.Storage, cfg.Logging)
	}
	if cfg.Trust.Initial != "50" {
		t.Fatalf("unset sections should keep defaults, got %+v", cfg.Trust)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spaza.toml")
	if err := os.WriteFile(path, []byte("[Engine]\nPinLength = 6\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pin too short", func(c *Config) { c.Engine.PinDigits = 3 }, "PinDigits"},
		{"negative grace", func(c *Config) { c.Engine.DisputeGraceSeconds = -1 }, "DisputeGraceSeconds"},
		{"inverted bounds", func(c *Config) { c.Trust.Min = "100"; c.Trust.Max = "0" }, "min score"},
		{"initial outside bounds", func(c *Config) { c.Trust.Initial = "150" }, "initial score"},
		{"bad decimal", func(c *Config) { c.Trust.CompletionBonus = "two" }, "trust.CompletionBonus"},
		{"bad panel id", func(c *Config) { c.Arbitration.Panel = []string{"arbiter-1"} }, "arbitration.Panel"},
		{"quorum above panel", func(c *Config) {
			c.Arbitration.Panel = []string{uuid.NewString()}
			c.Arbitration.QuorumVotes = 2
		}, "exceeds panel size"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "unknown backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "requires DSN"},
		{"notifications without rate", func(c *Config) {
			c.Notifications.Enabled = true
			c.Notifications.RatePerMinute = 0
		}, "RatePerMinute"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
