package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"spazaescrow/cmd/internal/pinprompt"
	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
	"spazaescrow/services/audit"
)

var pinSource = pinprompt.NewSource(pinprompt.DefaultEnvVar)

type createOutput struct {
	Escrow *escrow.Escrow `json:"escrow"`
	PIN    string         `json:"pin"`
}

func runCreate(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var buyer, seller, amountStr, currency, description string
	var days int
	fs.StringVar(&buyer, "buyer", "", "buyer id")
	fs.StringVar(&seller, "seller", "", "seller id")
	fs.StringVar(&amountStr, "amount", "", "agreed amount")
	fs.StringVar(&currency, "currency", "", "ISO currency code (defaults to the configured currency)")
	fs.StringVar(&description, "description", "", "what is being bought")
	fs.IntVar(&days, "days", 0, "time-lock in days (0 picks one from the parties' trust)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	buyerID, err := parseID("buyer", buyer)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	sellerID, err := parseID("seller", seller)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	if days == 0 {
		days, err = a.engine.Ledger().RecommendedDurationDays(ctx, buyerID, sellerID)
		if err != nil {
			return printError(stderr, err)
		}
	}

	res, err := a.engine.CreateEscrow(ctx, escrow.CreateParams{
		Amount:       amount,
		Currency:     currency,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Description:  description,
		DurationDays: days,
	})
	if err != nil {
		return printError(stderr, err)
	}
	if a.notifier != nil {
		if _, err := a.notifier.SendPIN(ctx, res.Escrow, res.PIN); err != nil {
			fmt.Fprintf(stderr, "Warning: PIN delivery failed: %v\n", err)
		}
	}
	return writeJSON(stdout, createOutput{Escrow: publicView(res.Escrow), PIN: res.PIN})
}

func runFund(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund", stderr)
	var id, amountStr string
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&amountStr, "amount", "", "amount deposited")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	esc, err := a.engine.Fund(ctx, escrowID, amount)
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, publicView(esc))
}

func runRelease(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("release", stderr)
	var id, pin, buyer, at string
	var override bool
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&pin, "pin", "", "release PIN (read from "+pinprompt.DefaultEnvVar+" or the terminal when omitted)")
	fs.BoolVar(&override, "override", false, "buyer override of an expired time-lock")
	fs.StringVar(&buyer, "buyer", "", "buyer id, required with --override")
	fs.StringVar(&at, "at", "", "evaluation time as +duration or RFC3339")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	now, err := parseInstant(at, cliNow())
	if err != nil {
		return usageError(stderr, err.Error())
	}
	pin, err = pinSource.Resolve(pin)
	if err != nil {
		return usageError(stderr, err.Error())
	}

	var esc *escrow.Escrow
	if override {
		buyerID, perr := parseID("buyer", buyer)
		if perr != nil {
			return usageError(stderr, perr.Error())
		}
		esc, err = a.engine.OverrideRelease(ctx, escrowID, buyerID, pin, now)
	} else {
		if _, err := sweep(ctx, a.engine, []uuid.UUID{escrowID}, now); err != nil {
			return printError(stderr, err)
		}
		esc, err = a.engine.ReleaseToSeller(ctx, escrowID, pin, now)
	}
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, publicView(esc))
}

func runCancel(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("cancel", stderr)
	var id, buyer string
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&buyer, "buyer", "", "buyer id")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	buyerID, err := parseID("buyer", buyer)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	esc, err := a.engine.Cancel(ctx, escrowID, buyerID)
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, publicView(esc))
}

func runDispute(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("dispute", stderr)
	var id, by, at string
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&by, "by", "", "id of the party raising the dispute")
	fs.StringVar(&at, "at", "", "evaluation time as +duration or RFC3339")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	caller, err := parseID("by", by)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	now, err := parseInstant(at, cliNow())
	if err != nil {
		return usageError(stderr, err.Error())
	}
	current, err := a.engine.Get(ctx, escrowID)
	if err != nil {
		return printError(stderr, err)
	}
	// Past the dispute window the time-lock refund takes precedence.
	if now.After(current.ExpiresAt.Add(a.engine.Policy().GracePeriod)) {
		if _, err := sweep(ctx, a.engine, []uuid.UUID{escrowID}, now); err != nil {
			return printError(stderr, err)
		}
	}
	esc, err := a.engine.RaiseDispute(ctx, escrowID, caller, now)
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, publicView(esc))
}

func runVote(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("vote", stderr)
	var id, arbitrator, decision string
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&arbitrator, "arbitrator", "", "arbitrator id")
	fs.StringVar(&decision, "decision", "", "favor_buyer (refund) or favor_seller (release)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	arbitratorID, err := parseID("arbitrator", arbitrator)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	parsed, err := escrow.ParseDecision(decision)
	if err != nil {
		return printError(stderr, err)
	}
	esc, err := a.engine.CastVote(ctx, escrowID, arbitratorID, parsed)
	if errors.Is(err, escrow.ErrQuorumNotReached) {
		fmt.Fprintln(stderr, "Vote recorded; quorum not reached yet")
		return writeJSON(stdout, publicView(esc))
	}
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, publicView(esc))
}

type sweepOutput struct {
	Refunded []uuid.UUID `json:"refunded"`
}

func runSweep(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sweep", stderr)
	var id, at string
	fs.StringVar(&id, "id", "", "escrow id (all funded escrows when omitted)")
	fs.StringVar(&at, "at", "", "evaluation time as +duration or RFC3339")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	now, err := parseInstant(at, cliNow())
	if err != nil {
		return usageError(stderr, err.Error())
	}
	var refunded []uuid.UUID
	if strings.TrimSpace(id) != "" {
		escrowID, perr := parseID("id", id)
		if perr != nil {
			return usageError(stderr, perr.Error())
		}
		refunded, err = sweep(ctx, a.engine, []uuid.UUID{escrowID}, now)
	} else {
		refunded, err = sweepFunded(ctx, a, now)
	}
	if err != nil {
		return printError(stderr, err)
	}
	return writeJSON(stdout, sweepOutput{Refunded: refunded})
}

func sweep(ctx context.Context, engine *escrow.Engine, ids []uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	refunded := []uuid.UUID{}
	for _, id := range ids {
		esc, err := engine.SweepExpired(ctx, id, now)
		if err != nil {
			return refunded, err
		}
		if esc.State == escrow.StateRefunded && esc.ClosedAt != nil && esc.ClosedAt.Equal(now) {
			refunded = append(refunded, id)
		}
	}
	return refunded, nil
}

// sweepFunded refunds every Funded escrow whose time-lock lapsed before now.
func sweepFunded(ctx context.Context, a *app, now time.Time) ([]uuid.UUID, error) {
	funded, err := a.listByState(ctx, escrow.StateFunded)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(funded))
	for _, esc := range funded {
		if esc.Expired(now) {
			ids = append(ids, esc.ID)
		}
	}
	return sweep(ctx, a.engine, ids, now)
}

func runGet(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var id string
	var verify bool
	fs.StringVar(&id, "id", "", "escrow id")
	fs.BoolVar(&verify, "verify", false, "check the history hash chain")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	escrowID, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	if _, err := sweep(ctx, a.engine, []uuid.UUID{escrowID}, cliNow()); err != nil {
		return printError(stderr, err)
	}
	esc, err := a.engine.Get(ctx, escrowID)
	if err != nil {
		return printError(stderr, err)
	}
	if verify {
		if err := escrow.VerifyHistory(esc); err != nil {
			return printError(stderr, err)
		}
	}
	return writeJSON(stdout, publicView(esc))
}

func runList(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var stateFilter string
	fs.StringVar(&stateFilter, "state", "", "only list escrows in this state")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	var want escrow.State
	if strings.TrimSpace(stateFilter) != "" {
		parsed, err := escrow.ParseState(stateFilter)
		if err != nil {
			return usageError(stderr, err.Error())
		}
		want = parsed
	}
	if _, err := sweepFunded(ctx, a, cliNow()); err != nil {
		return printError(stderr, err)
	}
	var (
		all []*escrow.Escrow
		err error
	)
	if want != escrow.StateUnspecified {
		all, err = a.listByState(ctx, want)
	} else {
		all, err = a.engine.List(ctx)
	}
	if err != nil {
		return printError(stderr, err)
	}
	out := make([]*escrow.Escrow, 0, len(all))
	for _, esc := range all {
		out = append(out, publicView(esc))
	}
	return writeJSON(stdout, out)
}

type trustOutput struct {
	Identity        *reputation.Identity `json:"identity"`
	Level           string               `json:"level"`
	RecommendedDays int                  `json:"recommended_days"`
}

func runTrust(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("trust", stderr)
	var id string
	fs.StringVar(&id, "id", "", "participant id")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	participant, err := parseID("id", id)
	if err != nil {
		return usageError(stderr, err.Error())
	}
	ident, err := a.engine.Ledger().Identity(ctx, participant)
	if err != nil {
		return printError(stderr, err)
	}
	level := reputation.LevelFor(ident.TrustScore)
	return writeJSON(stdout, trustOutput{Identity: ident, Level: level.String(), RecommendedDays: level.RecommendedDays()})
}

func runExport(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export", stderr)
	var dir, name string
	fs.StringVar(&dir, "dir", "", "output directory (defaults to <DataDir>/exports)")
	fs.StringVar(&name, "name", "escrow-history", "base file name")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(a.cfg.DataDir, "exports")
	}
	all, err := a.engine.List(ctx)
	if err != nil {
		return printError(stderr, err)
	}
	report, err := audit.Export(dir, name, all)
	if err != nil {
		return printError(stderr, err)
	}
	a.logger.InfoContext(ctx, "history exported", "rows", report.Rows, "csv", report.CSVPath, "parquet", report.ParquetPath)
	return writeJSON(stdout, report)
}
