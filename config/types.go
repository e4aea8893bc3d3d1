package config

// Engine tunes the escrow state machine.
type Engine struct {
	DefaultCurrency string `toml:"DefaultCurrency" yaml:"default_currency"`
	PinDigits       int    `toml:"PinDigits" yaml:"pin_digits"`
	// DisputeGraceSeconds extends the dispute window past expires_at.
	DisputeGraceSeconds int64 `toml:"DisputeGraceSeconds" yaml:"dispute_grace_seconds"`
}

// Arbitration configures the fixed arbitrator roster.
type Arbitration struct {
	Panel []string `toml:"Panel" yaml:"panel"`
	// QuorumVotes of zero selects a strict majority of the panel.
	QuorumVotes int `toml:"QuorumVotes" yaml:"quorum_votes"`
}

// Trust holds the scoring policy as decimal strings.
type Trust struct {
	Min             string `toml:"Min" yaml:"min"`
	Max             string `toml:"Max" yaml:"max"`
	Initial         string `toml:"Initial" yaml:"initial"`
	CompletionBonus string `toml:"CompletionBonus" yaml:"completion_bonus"`
	DisputePenalty  string `toml:"DisputePenalty" yaml:"dispute_penalty"`
}

// Storage selects the repository backend.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
	DSN     string `toml:"DSN" yaml:"dsn"`
}

// Logging configures the structured logger and its optional rotating file.
type Logging struct {
	Service     string `toml:"Service" yaml:"service"`
	Environment string `toml:"Environment" yaml:"environment"`
	Level       string `toml:"Level" yaml:"level"`
	File        string `toml:"File" yaml:"file"`
	MaxSizeMB   int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups  int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays  int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Endpoint string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool              `toml:"Insecure" yaml:"insecure"`
	Traces   bool              `toml:"Traces" yaml:"traces"`
	Metrics  bool              `toml:"Metrics" yaml:"metrics"`
	Headers  map[string]string `toml:"Headers" yaml:"headers"`
}

// Notifications configures the simulated SMS gateway.
type Notifications struct {
	Enabled       bool    `toml:"Enabled" yaml:"enabled"`
	Carrier       string  `toml:"Carrier" yaml:"carrier"`
	SenderID      string  `toml:"SenderID" yaml:"sender_id"`
	RatePerMinute float64 `toml:"RatePerMinute" yaml:"rate_per_minute"`
	Burst         int     `toml:"Burst" yaml:"burst"`
	AuditLog      string  `toml:"AuditLog" yaml:"audit_log"`
	// Contacts maps participant ids to phone numbers.
	Contacts map[string]string `toml:"Contacts" yaml:"contacts"`
}
