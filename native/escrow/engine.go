package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"spazaescrow/core/events"
	"spazaescrow/core/types"
	"spazaescrow/native/reputation"
	"spazaescrow/observability"
)

var errNilRepository = errors.New("escrow engine: repository not configured")

// maxCommitAttempts bounds how often a transition is recomputed after losing a
// version race on a shared identity.
const maxCommitAttempts = 3

// Repository persists escrow and identity records. PutEscrow must behave as a
// compare-and-swap on the escrow version: expectedVersion 0 creates the record
// and fails if it already exists, any other value must equal the stored
// version. The identities passed alongside are committed in the same atomic
// write, each only if its stored version still equals PriorVersion; otherwise
// the whole write fails with ErrVersionConflict. Implementations must hand out
// copies.
type Repository interface {
	GetEscrow(ctx context.Context, id uuid.UUID) (*Escrow, error)
	PutEscrow(ctx context.Context, esc *Escrow, expectedVersion uint64, identities ...*reputation.Identity) error
	ListEscrows(ctx context.Context) ([]*Escrow, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*reputation.Identity, error)
	PutIdentity(ctx context.Context, ident *reputation.Identity) error
}

// Policy carries the tunables of the state machine.
type Policy struct {
	DefaultCurrency string
	// GracePeriod extends the window in which a dispute may be raised past
	// the time-lock deadline.
	GracePeriod time.Duration
	PINDigits   int
	// QuorumVotes overrides the strict-majority quorum when positive and not
	// larger than the panel.
	QuorumVotes int
}

// DefaultPolicy returns the engine defaults: ZAR, no grace period, six digit
// PINs and strict-majority quorum.
func DefaultPolicy() Policy {
	return Policy{DefaultCurrency: "ZAR", PINDigits: DefaultPINDigits}
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	if p.GracePeriod < 0 {
		return fmt.Errorf("escrow: grace period must not be negative")
	}
	if p.PINDigits < MinPINDigits || p.PINDigits > MaxPINDigits {
		return fmt.Errorf("escrow: pin digits must be within [%d,%d]", MinPINDigits, MaxPINDigits)
	}
	if p.QuorumVotes < 0 {
		return fmt.Errorf("escrow: quorum must not be negative")
	}
	if strings.TrimSpace(p.DefaultCurrency) != "" {
		if _, err := NormalizeCurrency(p.DefaultCurrency); err != nil {
			return err
		}
	}
	return nil
}

// CreateParams describes a new agreement.
type CreateParams struct {
	Amount       decimal.Decimal
	Currency     string
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	Description  string
	DurationDays int
}

// CreateResult returns the stored escrow and the cleartext release PIN. The
// PIN is not recoverable afterwards and must be delivered out of band.
type CreateResult struct {
	Escrow *Escrow
	PIN    string
}

// Engine enacts the escrow state machine on top of a Repository.
type Engine struct {
	repo        Repository
	ledger      *reputation.Ledger
	policy      Policy
	arbitrators ArbitratorPolicy
	emitter     events.Emitter
	logger      *slog.Logger
	nowFn       func() time.Time
	pinSource   PINSource
	locks       *lockTable
	metrics     *observability.EscrowEngineMetrics
	settlements *observability.SettlementMetrics
	tracer      trace.Tracer
}

// NewEngine creates an engine bound to repo with default policies, no
// arbitrator panel and a no-op emitter.
func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo:        repo,
		ledger:      reputation.NewLedger(repo, reputation.DefaultPolicy()),
		policy:      DefaultPolicy(),
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		pinSource:   RandomPIN,
		locks:       newLockTable(),
		metrics:     observability.EscrowMetrics(),
		settlements: observability.Settlements(),
		tracer:      otel.Tracer("spazaescrow/escrow"),
	}
}

// SetPolicy replaces the state machine tunables.
func (e *Engine) SetPolicy(policy Policy) {
	if policy.PINDigits == 0 {
		policy.PINDigits = DefaultPINDigits
	}
	e.policy = policy
}

// Policy returns the active state machine tunables.
func (e *Engine) Policy() Policy { return e.policy }

// SetTrustPolicy replaces the trust scoring policy.
func (e *Engine) SetTrustPolicy(policy reputation.Policy) { e.ledger.SetPolicy(policy) }

// Ledger exposes the trust ledger sharing the engine's repository.
func (e *Engine) Ledger() *reputation.Ledger { return e.ledger }

// SetArbitrators configures the panel assignment policy used by RaiseDispute.
func (e *Engine) SetArbitrators(policy ArbitratorPolicy) { e.arbitrators = policy }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger. Nil restores slog.Default().
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used for operations that do not take
// the current time as an argument. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.nowFn = now
	e.ledger.SetNowFunc(now)
}

// SetPINSource overrides the release PIN generator. Nil restores RandomPIN.
func (e *Engine) SetPINSource(source PINSource) {
	if source == nil {
		source = RandomPIN
	}
	e.pinSource = source
}

func (e *Engine) now() time.Time {
	if e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: evt})
}

// NormalizeCurrency upper-cases and validates a three letter currency code.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(norm.NFKC.String(raw)))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return code, nil
}

func normalizeDescription(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, norm.NFC.String(raw))
	return strings.TrimSpace(cleaned)
}

// change describes the side effects of a mutation to commit with the record.
type change struct {
	from       State
	actor      uuid.UUID
	events     []*types.Event
	identities []*reputation.Identity
	vote       Decision
}

// CreateEscrow validates params, stores a new escrow in Created and returns it
// together with the one-time release PIN.
func (e *Engine) CreateEscrow(ctx context.Context, params CreateParams) (result *CreateResult, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "escrow.create")
	defer func() { e.finish(span, "create", start, err) }()

	if e.repo == nil {
		return nil, errNilRepository
	}
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if params.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidDuration, params.DurationDays)
	}
	if params.BuyerID == uuid.Nil || params.SellerID == uuid.Nil || params.BuyerID == params.SellerID {
		return nil, ErrSameParty
	}
	rawCurrency := params.Currency
	if strings.TrimSpace(rawCurrency) == "" {
		rawCurrency = e.policy.DefaultCurrency
	}
	currency, err := NormalizeCurrency(rawCurrency)
	if err != nil {
		return nil, err
	}
	pin, err := e.pinSource(e.policy.PINDigits)
	if err != nil {
		return nil, err
	}

	now := e.now()
	esc := &Escrow{
		ID:          uuid.New(),
		Amount:      params.Amount,
		Currency:    currency,
		BuyerID:     params.BuyerID,
		SellerID:    params.SellerID,
		Description: normalizeDescription(params.Description),
		State:       StateUnspecified,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, params.DurationDays),
		Escrowed:    decimal.Zero,
	}
	esc.ReleasePIN = pinDigest(esc.ID, pin)
	span.SetAttributes(attribute.String("escrow.id", esc.ID.String()))
	if err := appendTransition(esc, StateCreated, params.BuyerID, now, "created", nil); err != nil {
		return nil, err
	}

	esc.Version = 1
	for attempt := 1; ; attempt++ {
		identities, err := e.ensureParties(ctx, params.BuyerID, params.SellerID)
		if err != nil {
			return nil, err
		}
		err = e.repo.PutEscrow(ctx, esc, 0, identities...)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxCommitAttempts {
			return nil, err
		}
	}
	e.commit(ctx, esc, &change{from: StateUnspecified, actor: params.BuyerID, events: []*types.Event{NewCreatedEvent(esc)}})
	return &CreateResult{Escrow: esc.Clone(), PIN: pin}, nil
}

func (e *Engine) ensureParties(ctx context.Context, buyer, seller uuid.UUID) ([]*reputation.Identity, error) {
	var identities []*reputation.Identity
	for _, party := range []struct {
		id   uuid.UUID
		role reputation.Role
	}{{buyer, reputation.RoleBuyer}, {seller, reputation.RoleSeller}} {
		ident, changed, err := e.ledger.Ensure(ctx, party.id, party.role)
		if err != nil {
			return nil, err
		}
		if changed {
			identities = append(identities, ident)
		}
	}
	return identities, nil
}

// Fund marks the agreed amount as held. Partial or excess funding is rejected.
func (e *Engine) Fund(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Escrow, error) {
	return e.mutate(ctx, "fund", id, func(esc *Escrow) (*change, error) {
		to, ok := nextState(esc.State, opFund)
		if !ok {
			return nil, fmt.Errorf("%w: cannot fund from %s", ErrInvalidState, esc.State)
		}
		if !amount.Equal(esc.Amount) {
			return nil, fmt.Errorf("%w: funded %s, agreed %s", ErrInvalidAmount, amount, esc.Amount)
		}
		now := e.now()
		ch := &change{from: esc.State, actor: esc.BuyerID}
		if err := appendTransition(esc, to, esc.BuyerID, now, "funded", nil); err != nil {
			return nil, err
		}
		esc.Escrowed = amount
		esc.FundedAt = &now
		ch.events = []*types.Event{NewFundedEvent(esc)}
		return ch, nil
	})
}

// Cancel closes an unfunded escrow. Only the buyer may cancel.
func (e *Engine) Cancel(ctx context.Context, id, caller uuid.UUID) (*Escrow, error) {
	return e.mutate(ctx, "cancel", id, func(esc *Escrow) (*change, error) {
		to, ok := nextState(esc.State, opCancel)
		if !ok {
			return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, esc.State)
		}
		if caller != esc.BuyerID {
			return nil, fmt.Errorf("%w: only the buyer may cancel", ErrUnauthorized)
		}
		now := e.now()
		ch := &change{from: esc.State, actor: caller}
		if err := appendTransition(esc, to, caller, now, "cancelled by buyer", nil); err != nil {
			return nil, err
		}
		esc.ReleasePIN = ""
		esc.ClosedAt = &now
		ch.events = []*types.Event{NewCancelledEvent(esc)}
		return ch, nil
	})
}

// ReleaseToSeller completes a funded escrow when pin matches the release PIN
// and now is within the time-lock window.
func (e *Engine) ReleaseToSeller(ctx context.Context, id uuid.UUID, pin string, now time.Time) (*Escrow, error) {
	return e.release(ctx, "release", id, pin, now, uuid.Nil)
}

// OverrideRelease lets the buyer confirm a PIN release after the time-lock
// deadline while the escrow is still funded.
func (e *Engine) OverrideRelease(ctx context.Context, id, buyerID uuid.UUID, pin string, now time.Time) (*Escrow, error) {
	if buyerID == uuid.Nil {
		return nil, fmt.Errorf("%w: override requires the buyer", ErrUnauthorized)
	}
	return e.release(ctx, "override_release", id, pin, now, buyerID)
}

func (e *Engine) release(ctx context.Context, op string, id uuid.UUID, pin string, now time.Time, override uuid.UUID) (*Escrow, error) {
	return e.mutate(ctx, op, id, func(esc *Escrow) (*change, error) {
		if esc.PINConsumed {
			return nil, ErrAlreadyConsumed
		}
		to, ok := nextState(esc.State, opRelease)
		if !ok {
			return nil, fmt.Errorf("%w: cannot release from %s", ErrInvalidState, esc.State)
		}
		overridden := override != uuid.Nil
		if overridden && override != esc.BuyerID {
			return nil, fmt.Errorf("%w: only the buyer may override", ErrUnauthorized)
		}
		if esc.Expired(now) && !overridden {
			return nil, fmt.Errorf("%w: release window closed at %s", ErrExpired, esc.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if !pinMatches(esc, pin) {
			return nil, fmt.Errorf("%w: release pin mismatch", ErrUnauthorized)
		}
		note := "released to seller"
		if overridden {
			note = "released to seller by buyer override"
		}
		ch := &change{from: esc.State, actor: esc.BuyerID}
		if err := appendTransition(esc, to, esc.BuyerID, now, note, nil); err != nil {
			return nil, err
		}
		esc.ReleasePIN = ""
		esc.PINConsumed = true
		e.settle(esc, esc.SellerID, now)
		identities, evts, err := e.settleTrust(ctx, map[uuid.UUID]reputation.Outcome{
			esc.BuyerID:  reputation.OutcomeCompleted,
			esc.SellerID: reputation.OutcomeCompleted,
		}, esc)
		if err != nil {
			return nil, err
		}
		ch.identities = identities
		ch.events = append([]*types.Event{NewReleasedEvent(esc)}, evts...)
		return ch, nil
	})
}

// RaiseDispute moves a funded escrow into arbitration. Either party may raise
// a dispute until the time-lock deadline plus the configured grace period.
func (e *Engine) RaiseDispute(ctx context.Context, id, caller uuid.UUID, now time.Time) (*Escrow, error) {
	return e.mutate(ctx, "raise_dispute", id, func(esc *Escrow) (*change, error) {
		to, ok := nextState(esc.State, opDispute)
		if !ok {
			return nil, fmt.Errorf("%w: cannot dispute from %s", ErrInvalidState, esc.State)
		}
		if !esc.IsParty(caller) {
			return nil, fmt.Errorf("%w: only the buyer or seller may raise a dispute", ErrUnauthorized)
		}
		if now.After(esc.ExpiresAt.Add(e.policy.GracePeriod)) {
			return nil, fmt.Errorf("%w: dispute window closed", ErrExpired)
		}
		if e.arbitrators == nil {
			return nil, ErrPanelUnavailable
		}
		panel, err := e.arbitrators.AssignPanel(esc)
		if err != nil {
			return nil, err
		}
		if len(panel) == 0 {
			return nil, ErrPanelUnavailable
		}
		ch := &change{from: esc.State, actor: caller}
		for _, member := range panel {
			ident, changed, err := e.ledger.Ensure(ctx, member, reputation.RoleArbitrator)
			if err != nil {
				return nil, err
			}
			if changed {
				ch.identities = append(ch.identities, ident)
			}
		}
		if err := appendTransition(esc, to, caller, now, "dispute raised", nil); err != nil {
			return nil, err
		}
		esc.Dispute = &Dispute{
			RaisedBy: caller,
			OpenedAt: now,
			Panel:    append([]uuid.UUID(nil), panel...),
			Quorum:   quorumFor(e.policy.QuorumVotes, len(panel)),
			Votes:    make(map[uuid.UUID]Decision),
		}
		ch.events = []*types.Event{NewDisputedEvent(esc)}
		return ch, nil
	})
}

// CastVote records an arbitrator's ballot. When the ballot does not resolve
// the dispute the vote is stored and ErrQuorumNotReached is returned together
// with the updated record.
func (e *Engine) CastVote(ctx context.Context, id, arbitrator uuid.UUID, decision Decision) (*Escrow, error) {
	return e.mutate(ctx, "cast_vote", id, func(esc *Escrow) (*change, error) {
		if !decision.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
		}
		if esc.State != StateInDispute || esc.Dispute == nil {
			return nil, fmt.Errorf("%w: no open dispute (state %s)", ErrInvalidState, esc.State)
		}
		if !esc.Dispute.OnPanel(arbitrator) {
			return nil, fmt.Errorf("%w: %s is not on the panel", ErrUnauthorized, arbitrator)
		}
		if esc.Dispute.Votes == nil {
			esc.Dispute.Votes = make(map[uuid.UUID]Decision)
		}
		esc.Dispute.Votes[arbitrator] = decision
		ch := &change{from: esc.State, actor: arbitrator, vote: decision}

		tally, resolved := Evaluate(esc.Dispute)
		if !resolved {
			ch.events = []*types.Event{NewVoteEvent(esc, arbitrator, decision)}
			return ch, ErrQuorumNotReached
		}

		op, recipient := opResolveForBuyer, esc.BuyerID
		outcomes := map[uuid.UUID]reputation.Outcome{
			esc.BuyerID:  reputation.OutcomeDisputeWon,
			esc.SellerID: reputation.OutcomeDisputeLost,
		}
		if tally.Decision == DecisionFavorSeller {
			op, recipient = opResolveForSeller, esc.SellerID
			outcomes[esc.BuyerID] = reputation.OutcomeDisputeLost
			outcomes[esc.SellerID] = reputation.OutcomeDisputeWon
		}
		to, ok := nextState(esc.State, op)
		if !ok {
			return nil, fmt.Errorf("%w: cannot resolve from %s", ErrInvalidState, esc.State)
		}
		now := e.now()
		if err := appendTransition(esc, to, arbitrator, now, "arbitrated: "+tally.summary(), tally); err != nil {
			return nil, err
		}
		esc.Dispute = nil
		e.settle(esc, recipient, now)
		identities, evts, err := e.settleTrust(ctx, outcomes, esc)
		if err != nil {
			return nil, err
		}
		ch.identities = identities
		ch.events = append([]*types.Event{NewResolvedEvent(esc, tally)}, evts...)
		return ch, nil
	})
}

// SweepExpired refunds a funded escrow whose time-lock has passed. It is a
// no-op returning the current record when the escrow is not eligible.
func (e *Engine) SweepExpired(ctx context.Context, id uuid.UUID, now time.Time) (*Escrow, error) {
	return e.mutate(ctx, "sweep_expired", id, func(esc *Escrow) (*change, error) {
		if esc.State != StateFunded || !esc.Expired(now) {
			return nil, nil
		}
		to, ok := nextState(esc.State, opAutoRefund)
		if !ok {
			return nil, nil
		}
		ch := &change{from: esc.State, actor: uuid.Nil}
		if err := appendTransition(esc, to, uuid.Nil, now, "time-lock expired, refunded to buyer", nil); err != nil {
			return nil, err
		}
		esc.ReleasePIN = ""
		e.settle(esc, esc.BuyerID, now)
		identities, evts, err := e.settleTrust(ctx, map[uuid.UUID]reputation.Outcome{
			esc.BuyerID:  reputation.OutcomeExpired,
			esc.SellerID: reputation.OutcomeExpired,
		}, esc)
		if err != nil {
			return nil, err
		}
		ch.identities = identities
		ch.events = append([]*types.Event{NewExpiredEvent(esc)}, evts...)
		return ch, nil
	})
}

// Get returns a copy of the stored escrow.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	if e.repo == nil {
		return nil, errNilRepository
	}
	return e.repo.GetEscrow(ctx, id)
}

// List returns every stored escrow.
func (e *Engine) List(ctx context.Context) ([]*Escrow, error) {
	if e.repo == nil {
		return nil, errNilRepository
	}
	return e.repo.ListEscrows(ctx)
}

func (e *Engine) settle(esc *Escrow, recipient uuid.UUID, now time.Time) {
	esc.Settlement = &Settlement{Recipient: recipient, Amount: esc.Escrowed, At: now}
	esc.Escrowed = decimal.Zero
	esc.ClosedAt = &now
}

func (e *Engine) settleTrust(ctx context.Context, outcomes map[uuid.UUID]reputation.Outcome, esc *Escrow) ([]*reputation.Identity, []*types.Event, error) {
	identities := make([]*reputation.Identity, 0, len(outcomes))
	evts := make([]*types.Event, 0, len(outcomes))
	for _, party := range []uuid.UUID{esc.BuyerID, esc.SellerID} {
		outcome, ok := outcomes[party]
		if !ok {
			continue
		}
		ident, previous, err := e.ledger.Settle(ctx, party, outcome)
		if err != nil {
			return nil, nil, err
		}
		identities = append(identities, ident)
		evts = append(evts, reputation.NewScoreAdjustedEvent(ident, previous, outcome))
	}
	return identities, evts, nil
}

// mutate serialises operations on id, applies fn to a copy of the stored
// record and commits the copy with compare-and-swap. On failure the stored
// record is returned unchanged. ErrQuorumNotReached still commits. Version
// conflicts are retried from fresh reads up to maxCommitAttempts times.
func (e *Engine) mutate(ctx context.Context, op string, id uuid.UUID, fn func(*Escrow) (*change, error)) (result *Escrow, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(attribute.String("escrow.id", id.String())))
	defer func() { e.finish(span, op, start, err) }()

	if e.repo == nil {
		return nil, errNilRepository
	}
	unlock := e.locks.lock(id)
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := e.repo.GetEscrow(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		ch, applyErr := fn(next)
		if applyErr != nil && !errors.Is(applyErr, ErrQuorumNotReached) {
			return current, applyErr
		}
		if ch == nil {
			return current, nil
		}
		next.Version = current.Version + 1
		err = e.repo.PutEscrow(ctx, next, current.Version, ch.identities...)
		if err == nil {
			e.commit(ctx, next, ch)
			return next.Clone(), applyErr
		}
		if !errors.Is(err, ErrVersionConflict) {
			e.logger.WarnContext(ctx, "escrow commit failed", "escrow", id.String(), "operation", op, "error", err)
			return current, err
		}
		// Another escrow moved a shared identity: recompute from fresh reads.
		if attempt >= maxCommitAttempts {
			return current, err
		}
		e.logger.DebugContext(ctx, "escrow commit conflict, retrying", "escrow", id.String(), "operation", op, "attempt", attempt)
	}
}

func (e *Engine) commit(ctx context.Context, esc *Escrow, ch *change) {
	if ch.vote != "" {
		e.metrics.RecordVote(ch.vote.String())
	}
	if ch.from != esc.State {
		e.metrics.RecordTransition(ch.from.String(), esc.State.String())
		e.logger.InfoContext(ctx, "escrow transition",
			"escrow", esc.ID.String(),
			"from", ch.from.String(),
			"to", esc.State.String(),
			"actor", ch.actor.String(),
			"version", esc.Version)
		if esc.State.Terminal() && esc.Settlement != nil {
			amount, _ := esc.Settlement.Amount.Float64()
			e.settlements.Record(ctx, esc.State.String(), esc.Currency, amount)
		}
	}
	for _, evt := range ch.events {
		if evt != nil && evt.Type == reputation.EventTypeScoreAdjusted {
			e.metrics.RecordTrustSettlement(evt.Attr("outcome"))
		}
		e.emit(evt)
	}
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
		if errors.Is(err, ErrQuorumNotReached) {
			span.SetStatus(codes.Ok, "vote recorded")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	e.metrics.Observe(op, outcome, time.Since(start))
	span.End()
}
