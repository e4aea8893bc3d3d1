package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spazaescrow/native/escrow"
)

var cliNow = func() time.Time { return time.Now().UTC() }

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: spaza-cli %s [flags]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

// printError writes err prefixed with its error kind and returns exit code 1.
func printError(w io.Writer, err error) int {
	if kind := escrow.Kind(err); kind != "" && kind != "Internal" {
		fmt.Fprintf(w, "Error: %s: %v\n", kind, err)
		return 1
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

func usageError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func parseID(flagName, value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", flagName)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s must be a UUID", flagName)
	}
	return id, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("--amount is required")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--amount must be a decimal number")
	}
	return amount, nil
}

// parseInstant accepts an RFC3339 timestamp or a +duration relative to now.
// An empty value means now.
func parseInstant(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}
	if strings.HasPrefix(value, "+") {
		d, err := time.ParseDuration(strings.TrimPrefix(value, "+"))
		if err != nil || d < 0 {
			return time.Time{}, fmt.Errorf("--at must be +duration or RFC3339")
		}
		return now.Add(d), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be +duration or RFC3339")
	}
	return ts.UTC(), nil
}

// publicView strips the PIN digest before a record is printed.
func publicView(esc *escrow.Escrow) *escrow.Escrow {
	if esc == nil {
		return nil
	}
	view := esc.Clone()
	view.ReleasePIN = ""
	return view
}

func writeJSON(w io.Writer, v any) int {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "Error: encode output: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, string(raw))
	return 0
}
