package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrIdentityNotFound marks identities that have never been referenced.
var ErrIdentityNotFound = errors.New("reputation: identity not found")

// storage abstracts the subset of repository functionality required by the
// trust ledger.
type storage interface {
	GetIdentity(ctx context.Context, id uuid.UUID) (*Identity, error)
	PutIdentity(ctx context.Context, ident *Identity) error
}

// Ledger reads and adjusts trust scores on top of the identity repository.
type Ledger struct {
	store  storage
	policy Policy
	nowFn  func() time.Time
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage, policy Policy) *Ledger {
	return &Ledger{
		store:  store,
		policy: policy,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall clock used to stamp updates. Nil restores the
// default UTC clock.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	l.nowFn = now
}

// SetPolicy replaces the active scoring policy.
func (l *Ledger) SetPolicy(policy Policy) {
	if l == nil {
		return
	}
	l.policy = policy
}

// Policy returns the active scoring policy.
func (l *Ledger) Policy() Policy {
	if l == nil {
		return DefaultPolicy()
	}
	return l.policy
}

func (l *Ledger) now() time.Time {
	if l == nil || l.nowFn == nil {
		return time.Now().UTC()
	}
	return l.nowFn()
}

// Identity returns the stored identity, or a fresh identity at the initial
// score when id has never been seen. The fresh identity is not persisted.
func (l *Ledger) Identity(ctx context.Context, id uuid.UUID) (*Identity, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("reputation: storage unavailable")
	}
	if id == uuid.Nil {
		return nil, errors.New("reputation: identity id required")
	}
	ident, err := l.store.GetIdentity(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		return l.policy.NewIdentity(id, l.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// Ensure returns the identity for id with role recorded, and reports whether the
// record changed and needs to be written back.
func (l *Ledger) Ensure(ctx context.Context, id uuid.UUID, role Role) (*Identity, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("reputation: storage unavailable")
	}
	ident, err := l.store.GetIdentity(ctx, id)
	changed := false
	if errors.Is(err, ErrIdentityNotFound) {
		ident = l.policy.NewIdentity(id, l.now())
		changed = true
	} else if err != nil {
		return nil, false, err
	}
	if ident.AddRole(role) {
		changed = true
	}
	if changed {
		ident.Version++
	}
	return ident, changed, nil
}

// GetScore returns the current trust score of id.
func (l *Ledger) GetScore(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return ident.TrustScore, nil
}

// Adjust moves the score of id by delta, clamping the result to the policy
// bounds, and persists the identity. A concurrent write to the same identity
// fails the put with the repository's version conflict.
func (l *Ledger) Adjust(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	ident.TrustScore = l.policy.Clamp(ident.TrustScore.Add(delta))
	ident.LastUpdated = l.now()
	ident.Version++
	if err := l.store.PutIdentity(ctx, ident); err != nil {
		return decimal.Zero, fmt.Errorf("reputation: store identity: %w", err)
	}
	return ident.TrustScore, nil
}

// RecommendedDurationDays suggests an escrow time-lock for the pair based on
// the less trusted of the two parties.
func (l *Ledger) RecommendedDurationDays(ctx context.Context, buyer, seller uuid.UUID) (int, error) {
	buyerScore, err := l.GetScore(ctx, buyer)
	if err != nil {
		return 0, err
	}
	sellerScore, err := l.GetScore(ctx, seller)
	if err != nil {
		return 0, err
	}
	return LevelFor(decimal.Min(buyerScore, sellerScore)).RecommendedDays(), nil
}

// Settle returns the identity of id with outcome applied, together with the
// score it held before. Nothing is persisted: the escrow engine commits the
// result atomically with the transition that produced it, and the bumped
// version makes that commit fail if id changed in the meantime.
func (l *Ledger) Settle(ctx context.Context, id uuid.UUID, outcome Outcome) (*Identity, decimal.Decimal, error) {
	ident, err := l.Identity(ctx, id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	previous := ident.TrustScore
	settled := l.policy.Settle(ident, outcome, l.now())
	settled.Version = ident.Version + 1
	return settled, previous, nil
}
