package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithOptionsWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "spaza.log")
	logger, closer, err := SetupWithOptions(Options{
		Service:     "spaza-escrow",
		Environment: "test",
		Level:       "debug",
		File:        file,
		MaxSizeMB:   1,
		Output:      &buf,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("pin issued", "escrow", "e-1", "pin", "482913", "phone", "+27821234567")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"message":  "pin issued",
		"severity": "DEBUG",
		"service":  "spaza-escrow",
		"env":      "test",
		"escrow":   "e-1",
		"pin":      RedactedValue,
		"phone":    "+27*****4567",
	} {
		if got, _ := entry[key].(string); got != want {
			t.Fatalf("%s: want %q, got %q", key, want, got)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("timestamp key missing")
	}

	onDisk, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if strings.Contains(string(onDisk), "482913") {
		t.Fatalf("pin leaked to the log file")
	}
	if !strings.Contains(string(onDisk), "pin issued") {
		t.Fatalf("file sink missing log line")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := SetupWithOptions(Options{Service: "svc", Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level")
	}
	if _, _, err := SetupWithOptions(Options{Level: "verbose"}); err == nil {
		t.Fatalf("expected unknown level error")
	}
}

func TestMaskPhone(t *testing.T) {
	tests := map[string]string{
		"+27821234567": "+27*****4567",
		"0821234567":   "******4567",
		"1234":         RedactedValue,
		"":             "",
	}
	for in, want := range tests {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("escrow", "abc"); attr.Value.String() != "abc" {
		t.Fatalf("allowlisted key must pass through")
	}
	if attr := MaskField("buyer_phone", "+27821234567"); attr.Value.String() != RedactedValue {
		t.Fatalf("non-allowlisted key must be masked")
	}
	for _, key := range []string{"pin", "Release_PIN", "phone"} {
		if !IsSensitive(key) {
			t.Fatalf("%s should be sensitive", key)
		}
	}
}
