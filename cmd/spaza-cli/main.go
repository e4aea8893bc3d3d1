package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type command func(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int

var commands = map[string]command{
	"create":  runCreate,
	"fund":    runFund,
	"release": runRelease,
	"cancel":  runCancel,
	"dispute": runDispute,
	"vote":    runVote,
	"sweep":   runSweep,
	"get":     runGet,
	"list":    runList,
	"trust":   runTrust,
	"export":  runExport,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("spaza-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	configPath := global.String("config", defaultConfigPath(), "path to the TOML or YAML configuration file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	ctx := context.Background()
	name := rest[0]
	if name == "demo" {
		return runDemo(ctx, rest[1:], stdout, stderr)
	}
	if name == "help" || name == "-h" {
		fmt.Fprintln(stdout, usage())
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		fmt.Fprintln(stderr, usage())
		return 1
	}

	a, err := openApp(ctx, *configPath, stderr)
	if err != nil {
		return printError(stderr, err)
	}
	code := cmd(ctx, a, rest[1:], stdout, stderr)
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: shutdown: %v\n", err)
	}
	return code
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("SPAZA_CONFIG")); path != "" {
		return path
	}
	return "spaza.toml"
}

func usage() string {
	return strings.TrimSpace(`Usage:
  spaza-cli [--config path] <command> [flags]

Commands:
  create   Open an escrow between a buyer and a seller
  fund     Deposit the agreed amount
  release  Release funds to the seller with the PIN (--override for buyer override)
  cancel   Cancel an unfunded escrow
  dispute  Raise a dispute on a funded escrow
  vote     Cast an arbitrator vote
  sweep    Refund funded escrows whose time-lock has passed
  get      Show one escrow
  list     List escrows
  trust    Show a participant's trust record
  export   Write escrow history to CSV and Parquet
  demo     Run the reference scenarios against an in-memory store
`)
}
