package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spazaescrow/native/escrow"
	"spazaescrow/native/reputation"
	"spazaescrow/storage"
)

func newEngine(t *testing.T, db storage.Database) (*escrow.Engine, *Manager) {
	t.Helper()
	mgr := NewManager(db)
	t.Cleanup(func() { _ = mgr.Close() })
	engine := escrow.NewEngine(mgr)
	now := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	engine.SetNowFunc(func() time.Time { return now })
	engine.SetPINSource(func(int) (string, error) { return "1234", nil })
	return engine, mgr
}

func TestManagerRoundTripsEscrowLifecycle(t *testing.T) {
	level, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	for name, db := range map[string]storage.Database{"memory": storage.NewMemDB(), "leveldb": level} {
		t.Run(name, func(t *testing.T) {
			engine, mgr := newEngine(t, db)
			ctx := context.Background()
			buyer, seller := uuid.New(), uuid.New()

			res, err := engine.CreateEscrow(ctx, escrow.CreateParams{
				Amount: decimal.NewFromInt(1500), Currency: "ZAR",
				BuyerID: buyer, SellerID: seller, Description: "airtime bundle", DurationDays: 30,
			})
			require.NoError(t, err)
			_, err = engine.Fund(ctx, res.Escrow.ID, decimal.NewFromInt(1500))
			require.NoError(t, err)
			released, err := engine.ReleaseToSeller(ctx, res.Escrow.ID, res.PIN, res.Escrow.CreatedAt.Add(time.Hour))
			require.NoError(t, err)

			stored, err := mgr.GetEscrow(ctx, res.Escrow.ID)
			require.NoError(t, err)
			require.Equal(t, escrow.StateCompleted, stored.State)
			require.Equal(t, released.Version, stored.Version)
			require.True(t, stored.Amount.Equal(decimal.NewFromInt(1500)))
			require.NoError(t, escrow.VerifyHistory(stored))

			ident, err := mgr.GetIdentity(ctx, seller)
			require.NoError(t, err)
			require.True(t, ident.TrustScore.Equal(decimal.NewFromInt(52)))
			require.True(t, ident.HasRole(reputation.RoleSeller))
			require.EqualValues(t, 1, ident.SuccessfulTransactions)

			all, err := mgr.ListEscrows(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestManagerCompareAndSwap(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ctx := context.Background()
	esc := &escrow.Escrow{
		ID:       uuid.New(),
		Version:  1,
		Amount:   decimal.NewFromInt(10),
		Currency: "ZAR",
		State:    escrow.StateCreated,
	}
	require.NoError(t, mgr.PutEscrow(ctx, esc, 0))
	require.ErrorIs(t, mgr.PutEscrow(ctx, esc, 0), escrow.ErrVersionConflict)

	next := esc.Clone()
	next.Version = 2
	next.State = escrow.StateFunded
	require.NoError(t, mgr.PutEscrow(ctx, next, 1))

	stale := esc.Clone()
	stale.Version = 2
	stale.State = escrow.StateCancelled
	err := mgr.PutEscrow(ctx, stale, 1)
	require.ErrorIs(t, err, escrow.ErrVersionConflict)

	stored, err := mgr.GetEscrow(ctx, esc.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StateFunded, stored.State)
}

func TestManagerRejectedPutSkipsIdentities(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ctx := context.Background()
	esc := &escrow.Escrow{ID: uuid.New(), Version: 3, State: escrow.StateFunded}
	ident := reputation.DefaultPolicy().NewIdentity(uuid.New(), time.Now())

	err := mgr.PutEscrow(ctx, esc, 2, ident)
	require.ErrorIs(t, err, escrow.ErrVersionConflict)
	_, err = mgr.GetIdentity(ctx, ident.ID)
	require.ErrorIs(t, err, reputation.ErrIdentityNotFound)
}

func TestManagerNotFound(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	_, err := mgr.GetEscrow(context.Background(), uuid.New())
	if !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("expected escrow.ErrNotFound, got %v", err)
	}
	if err := mgr.PutEscrow(context.Background(), &escrow.Escrow{ID: uuid.New()}, 0); err == nil {
		t.Fatalf("expected refusal to store an escrow without a state")
	}
}

func TestManagerIdentityVersionCheck(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ctx := context.Background()
	ident := reputation.DefaultPolicy().NewIdentity(uuid.New(), time.Now())
	ident.Version = 1
	require.NoError(t, mgr.PutIdentity(ctx, ident))
	require.ErrorIs(t, mgr.PutIdentity(ctx, ident), escrow.ErrVersionConflict)

	esc := &escrow.Escrow{ID: uuid.New(), Version: 1, State: escrow.StateCreated}
	stale := ident.Clone()
	stale.Version = 1
	stale.TrustScore = decimal.NewFromInt(10)
	require.ErrorIs(t, mgr.PutEscrow(ctx, esc, 0, stale), escrow.ErrVersionConflict)
	_, err := mgr.GetEscrow(ctx, esc.ID)
	require.ErrorIs(t, err, escrow.ErrNotFound)

	fresh := ident.Clone()
	fresh.Version = 2
	fresh.TrustScore = decimal.NewFromInt(60)
	require.NoError(t, mgr.PutEscrow(ctx, esc, 0, fresh))
	got, err := mgr.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Version)
	require.True(t, got.TrustScore.Equal(decimal.NewFromInt(60)))
}

func TestManagerSharedBuyerSettlesTwice(t *testing.T) {
	engine, mgr := newEngine(t, storage.NewMemDB())
	ctx := context.Background()
	buyer := uuid.New()
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	results := make([]*escrow.CreateResult, 0, 2)
	for i := 0; i < 2; i++ {
		res, err := engine.CreateEscrow(ctx, escrow.CreateParams{
			Amount: decimal.NewFromInt(200), Currency: "ZAR",
			BuyerID: buyer, SellerID: uuid.New(), DurationDays: 7,
		})
		require.NoError(t, err)
		_, err = engine.Fund(ctx, res.Escrow.ID, decimal.NewFromInt(200))
		require.NoError(t, err)
		results = append(results, res)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(results))
	for _, res := range results {
		wg.Add(1)
		go func(res *escrow.CreateResult) {
			defer wg.Done()
			_, err := engine.ReleaseToSeller(ctx, res.Escrow.ID, res.PIN, at)
			errs <- err
		}(res)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ident, err := mgr.GetIdentity(ctx, buyer)
	require.NoError(t, err)
	require.True(t, ident.TrustScore.Equal(decimal.NewFromInt(54)), "buyer score %s", ident.TrustScore)
	require.EqualValues(t, 2, ident.TotalTransactions)
}
