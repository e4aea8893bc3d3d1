package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete escrow service configuration.
type Config struct {
	DataDir       string        `toml:"DataDir" yaml:"data_dir"`
	Engine        Engine        `toml:"Engine" yaml:"engine"`
	Arbitration   Arbitration   `toml:"Arbitration" yaml:"arbitration"`
	Trust         Trust         `toml:"Trust" yaml:"trust"`
	Storage       Storage       `toml:"Storage" yaml:"storage"`
	Logging       Logging       `toml:"Logging" yaml:"logging"`
	Telemetry     Telemetry     `toml:"Telemetry" yaml:"telemetry"`
	Notifications Notifications `toml:"Notifications" yaml:"notifications"`
}

// Load loads the configuration from the given path. TOML is assumed unless the
// extension is .yaml or .yml. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0].String())
		}
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "./spaza-data",
		Engine: Engine{
			DefaultCurrency: "ZAR",
			PinDigits:       6,
		},
		Trust: Trust{
			Min:             "0",
			Max:             "100",
			Initial:         "50",
			CompletionBonus: "2",
			DisputePenalty:  "5",
		},
		Storage: Storage{Backend: "leveldb"},
		Logging: Logging{
			Service:     "spaza-escrow",
			Environment: "local",
			Level:       "info",
			MaxSizeMB:   50,
			MaxBackups:  3,
			MaxAgeDays:  28,
		},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true},
		Notifications: Notifications{
			Carrier:       "mtn",
			SenderID:      "SPAZA",
			RatePerMinute: 30,
			Burst:         5,
		},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./spaza-data"
	}
	if c.Engine.PinDigits == 0 {
		c.Engine.PinDigits = 6
	}
	if strings.TrimSpace(c.Storage.Backend) == "" {
		c.Storage.Backend = "leveldb"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Path == "" {
		switch c.Storage.Backend {
		case "leveldb":
			c.Storage.Path = filepath.Join(c.DataDir, "escrow.ldb")
		case "bolt":
			c.Storage.Path = filepath.Join(c.DataDir, "escrow.bolt")
		}
	}
	if c.Storage.Backend == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.DataDir, "escrow.sqlite")
	}
	if c.Arbitration.Panel == nil {
		c.Arbitration.Panel = []string{}
	}
	if c.Notifications.Contacts == nil {
		c.Notifications.Contacts = map[string]string{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
