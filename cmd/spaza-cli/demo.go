package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spazaescrow/native/escrow"
	"spazaescrow/observability/logging"
	"spazaescrow/state"
	"spazaescrow/storage"
)

type demoEnv struct {
	engine *escrow.Engine
	now    time.Time
	buyer  uuid.UUID
	seller uuid.UUID
	panel  []uuid.UUID
	steps  []string
}

func (d *demoEnv) step(esc *escrow.Escrow) {
	d.steps = append(d.steps, esc.State.String())
}

func (d *demoEnv) score(ctx context.Context, id uuid.UUID) decimal.Decimal {
	score, err := d.engine.Ledger().GetScore(ctx, id)
	if err != nil {
		return decimal.Zero
	}
	return score
}

type demoScenario struct {
	name string
	run  func(ctx context.Context, d *demoEnv) (string, error)
}

var demoAmount = decimal.NewFromInt(1500)

var demoScenarios = []demoScenario{
	{name: "release with PIN", run: demoRelease},
	{name: "dispute refunded by majority", run: demoDispute},
	{name: "time-lock refund", run: demoExpiry},
	{name: "cancel before funding", run: demoCancel},
}

func runDemo(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("demo", stderr)
	level := fs.String("log-level", "warn", "log level for engine output")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	logger, closer, err := logging.SetupWithOptions(logging.Options{
		Service:     "spaza-escrow-demo",
		Environment: "demo",
		Level:       *level,
		Output:      stderr,
	})
	if err != nil {
		return printError(stderr, err)
	}
	defer closer.Close()

	failed := 0
	for i, sc := range demoScenarios {
		env := &demoEnv{
			now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			buyer:  uuid.New(),
			seller: uuid.New(),
			panel:  []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		}
		env.engine = escrow.NewEngine(state.NewManager(storage.NewMemDB()))
		env.engine.SetLogger(logger)
		env.engine.SetNowFunc(func() time.Time { return env.now })
		env.engine.SetArbitrators(escrow.FixedPanel{Members: env.panel})

		detail, err := sc.run(ctx, env)
		path := strings.Join(env.steps, " -> ")
		if err != nil {
			failed++
			fmt.Fprintf(stdout, "[%d] %s: FAIL %s: %v\n", i+1, sc.name, path, err)
			continue
		}
		fmt.Fprintf(stdout, "[%d] %s: ok %s (%s)\n", i+1, sc.name, path, detail)
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "Error: %d of %d scenarios failed\n", failed, len(demoScenarios))
		return 1
	}
	return 0
}

func demoCreate(ctx context.Context, d *demoEnv, days int) (*escrow.CreateResult, error) {
	res, err := d.engine.CreateEscrow(ctx, escrow.CreateParams{
		Amount:       demoAmount,
		Currency:     "ZAR",
		BuyerID:      d.buyer,
		SellerID:     d.seller,
		Description:  "bulk maize meal",
		DurationDays: days,
	})
	if err != nil {
		return nil, err
	}
	d.step(res.Escrow)
	return res, nil
}

func demoFund(ctx context.Context, d *demoEnv, id uuid.UUID) error {
	esc, err := d.engine.Fund(ctx, id, demoAmount)
	if err != nil {
		return err
	}
	d.step(esc)
	return nil
}

func expectState(esc *escrow.Escrow, want escrow.State) error {
	if esc.State != want {
		return fmt.Errorf("state %s, want %s", esc.State, want)
	}
	return nil
}

func demoRelease(ctx context.Context, d *demoEnv) (string, error) {
	res, err := demoCreate(ctx, d, 30)
	if err != nil {
		return "", err
	}
	if err := demoFund(ctx, d, res.Escrow.ID); err != nil {
		return "", err
	}
	buyerBefore, sellerBefore := d.score(ctx, d.buyer), d.score(ctx, d.seller)
	esc, err := d.engine.ReleaseToSeller(ctx, res.Escrow.ID, res.PIN, d.now.Add(2*time.Hour))
	if err != nil {
		return "", err
	}
	d.step(esc)
	if err := expectState(esc, escrow.StateCompleted); err != nil {
		return "", err
	}
	buyerAfter, sellerAfter := d.score(ctx, d.buyer), d.score(ctx, d.seller)
	if !buyerAfter.GreaterThan(buyerBefore) || !sellerAfter.GreaterThan(sellerBefore) {
		return "", errors.New("trust scores did not increase")
	}
	if _, err := d.engine.ReleaseToSeller(ctx, res.Escrow.ID, res.PIN, d.now.Add(3*time.Hour)); !errors.Is(err, escrow.ErrAlreadyConsumed) {
		return "", fmt.Errorf("second release returned %v", err)
	}
	return fmt.Sprintf("buyer trust %s -> %s, seller trust %s -> %s", buyerBefore, buyerAfter, sellerBefore, sellerAfter), nil
}

func demoDispute(ctx context.Context, d *demoEnv) (string, error) {
	res, err := demoCreate(ctx, d, 30)
	if err != nil {
		return "", err
	}
	if err := demoFund(ctx, d, res.Escrow.ID); err != nil {
		return "", err
	}
	esc, err := d.engine.RaiseDispute(ctx, res.Escrow.ID, d.buyer, d.now.Add(time.Hour))
	if err != nil {
		return "", err
	}
	d.step(esc)
	sellerBefore := d.score(ctx, d.seller)
	if _, err := d.engine.CastVote(ctx, res.Escrow.ID, d.panel[0], escrow.DecisionFavorBuyer); !errors.Is(err, escrow.ErrQuorumNotReached) {
		return "", fmt.Errorf("first vote returned %v", err)
	}
	esc, err = d.engine.CastVote(ctx, res.Escrow.ID, d.panel[1], escrow.DecisionFavorBuyer)
	if err != nil {
		return "", err
	}
	d.step(esc)
	if err := expectState(esc, escrow.StateRefunded); err != nil {
		return "", err
	}
	if esc.Settlement == nil || esc.Settlement.Recipient != d.buyer || !esc.Settlement.Amount.Equal(demoAmount) {
		return "", errors.New("funds were not restored to the buyer")
	}
	sellerAfter := d.score(ctx, d.seller)
	if !sellerAfter.LessThan(sellerBefore) {
		return "", errors.New("seller trust did not decrease")
	}
	last := esc.History[len(esc.History)-1]
	return fmt.Sprintf("%s, seller trust %s -> %s", last.Note, sellerBefore, sellerAfter), nil
}

func demoExpiry(ctx context.Context, d *demoEnv) (string, error) {
	res, err := demoCreate(ctx, d, 1)
	if err != nil {
		return "", err
	}
	if err := demoFund(ctx, d, res.Escrow.ID); err != nil {
		return "", err
	}
	buyerBefore, sellerBefore := d.score(ctx, d.buyer), d.score(ctx, d.seller)
	early, err := d.engine.SweepExpired(ctx, res.Escrow.ID, d.now.Add(12*time.Hour))
	if err != nil {
		return "", err
	}
	if err := expectState(early, escrow.StateFunded); err != nil {
		return "", fmt.Errorf("sweep before expiry: %w", err)
	}
	d.now = d.now.Add(48 * time.Hour)
	esc, err := d.engine.SweepExpired(ctx, res.Escrow.ID, d.now)
	if err != nil {
		return "", err
	}
	d.step(esc)
	if err := expectState(esc, escrow.StateRefunded); err != nil {
		return "", err
	}
	if !d.score(ctx, d.buyer).Equal(buyerBefore) || !d.score(ctx, d.seller).Equal(sellerBefore) {
		return "", errors.New("trust changed on time-lock refund")
	}
	return "refunded after 2 days, trust unchanged", nil
}

func demoCancel(ctx context.Context, d *demoEnv) (string, error) {
	res, err := demoCreate(ctx, d, 30)
	if err != nil {
		return "", err
	}
	esc, err := d.engine.Cancel(ctx, res.Escrow.ID, d.buyer)
	if err != nil {
		return "", err
	}
	d.step(esc)
	if err := expectState(esc, escrow.StateCancelled); err != nil {
		return "", err
	}
	_, err = d.engine.Fund(ctx, res.Escrow.ID, demoAmount)
	if !errors.Is(err, escrow.ErrInvalidState) {
		return "", fmt.Errorf("fund after cancel returned %v", err)
	}
	return "fund afterwards rejected with " + escrow.Kind(err), nil
}
