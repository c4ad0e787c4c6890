package stock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu       sync.Mutex
	balances map[string]Balance
	entries  []LedgerEntry
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance)}
}

func key(itemID, locationID int64) string {
	return fmt.Sprintf("%d:%d", itemID, locationID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshotBalances := make(map[string]Balance, len(r.balances))
	for k, v := range r.balances {
		snapshotBalances[k] = v
	}
	snapshotEntries := len(r.entries)
	snapshotID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.balances = snapshotBalances
		r.entries = r.entries[:snapshotEntries]
		r.nextID = snapshotID
		return err
	}
	return nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, itemID, locationID int64) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bal, ok := r.balances[key(itemID, locationID)]; ok {
		return bal, nil
	}
	return Balance{ItemID: itemID, LocationID: locationID}, ErrBalanceNotFound
}

func (r *memoryRepo) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.ItemID == filter.ItemID && e.LocationID == filter.LocationID {
			out = append(out, e)
		}
	}
	if filter.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (r *memoryRepo) ListForReplay(ctx context.Context, itemID, locationID int64) ([]LedgerEntry, error) {
	return r.ListLedger(ctx, LedgerFilter{ItemID: itemID, LocationID: locationID})
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, itemID, locationID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[key(itemID, locationID)]; ok {
		return bal, nil
	}
	return Balance{ItemID: itemID, LocationID: locationID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[key(balance.ItemID, balance.LocationID)] = balance
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry.ID, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, nil, nil)
}

func TestApplyMovementMovingAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	entry, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 100, UnitCost: 10, RefType: "grn", RefID: "1"})
	require.NoError(t, err)
	require.InDelta(t, 100.0, entry.Qty, 1e-9)
	require.InDelta(t, 10.0, entry.UnitCost, 1e-9)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 50, UnitCost: 16})
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 150.0, bal.Qty, 1e-9)
	require.InDelta(t, 12.00, bal.AvgCost, 1e-9)
}

func TestApplyMovementOutgoingUsesBalanceCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 40, UnitCost: 25})
	require.NoError(t, err)

	// the caller-supplied cost on an outgoing movement is ignored
	entry, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindUsage, Qty: 10, UnitCost: 999})
	require.NoError(t, err)
	require.InDelta(t, -10.0, entry.Qty, 1e-9)
	require.InDelta(t, 25.0, entry.UnitCost, 1e-9)

	bal, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 30.0, bal.Qty, 1e-9)
	require.InDelta(t, 25.0, bal.AvgCost, 1e-9)
}

func TestApplyMovementInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 50, UnitCost: 10})
	require.NoError(t, err)

	before, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	entriesBefore, err := svc.GetLedger(ctx, LedgerFilter{ItemID: 1, LocationID: 1})
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindUsage, Qty: 60})
	require.ErrorIs(t, err, ErrInsufficientStock)

	after, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	entriesAfter, err := svc.GetLedger(ctx, LedgerFilter{ItemID: 1, LocationID: 1})
	require.NoError(t, err)

	require.Equal(t, before, after)
	require.Len(t, entriesAfter, len(entriesBefore))
}

func TestApplyMovementValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{LocationID: 1, Kind: KindReceipt, Qty: 1, UnitCost: 1})
	require.ErrorIs(t, err, ErrItemLocationRequired)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: "BOGUS", Qty: 1})
	require.ErrorIs(t, err, ErrInvalidKind)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 0, UnitCost: 1})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindUsage, Qty: -5})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindReceipt, Qty: 5, UnitCost: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestSignedKindsFollowQuantitySign(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindAdjustment, Qty: 20, UnitCost: 5})
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 1, LocationID: 1, Kind: KindAdjustment, Qty: -8})
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 12.0, bal.Qty, 1e-9)
	require.InDelta(t, 5.0, bal.AvgCost, 1e-9)
}

func TestLedgerSignedSumMatchesBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	moves := []MovementInput{
		{ItemID: 2, LocationID: 9, Kind: KindReceipt, Qty: 120, UnitCost: 8},
		{ItemID: 2, LocationID: 9, Kind: KindUsage, Qty: 45},
		{ItemID: 2, LocationID: 9, Kind: KindReceipt, Qty: 30, UnitCost: 9.5},
		{ItemID: 2, LocationID: 9, Kind: KindSaleOut, Qty: 25},
		{ItemID: 2, LocationID: 9, Kind: KindReversal, Qty: 25, UnitCost: 8.22},
	}
	for _, m := range moves {
		_, err := svc.ApplyMovement(ctx, m)
		require.NoError(t, err)
	}

	entries, err := svc.GetLedger(ctx, LedgerFilter{ItemID: 2, LocationID: 9})
	require.NoError(t, err)
	var sum float64
	for _, e := range entries {
		sum += e.Qty
	}
	bal, err := svc.GetBalance(ctx, 2, 9)
	require.NoError(t, err)
	require.InDelta(t, bal.Qty, sum, 1e-9)

	replayed, err := svc.Rebuild(ctx, 2, 9)
	require.NoError(t, err)
	require.InDelta(t, bal.Qty, replayed.Qty, 1e-9)
	require.InDelta(t, bal.AvgCost, replayed.AvgCost, 1e-9)
}

func TestConcurrentOverdrawAllowsExactlyOne(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 3, LocationID: 1, Kind: KindReceipt, Qty: 50, UnitCost: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 3, LocationID: 1, Kind: KindUsage, Qty: 40})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrInsufficientStock)
			rejections++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, rejections)

	bal, err := svc.GetBalance(ctx, 3, 1)
	require.NoError(t, err)
	require.InDelta(t, 10.0, bal.Qty, 1e-9)
}

func TestGetLedgerDescending(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, MovementInput{ItemID: 5, LocationID: 2, Kind: KindReceipt, Qty: 10, UnitCost: 1, Note: "first"})
	require.NoError(t, err)
	_, err = svc.ApplyMovement(ctx, MovementInput{ItemID: 5, LocationID: 2, Kind: KindReceipt, Qty: 10, UnitCost: 2, Note: "second"})
	require.NoError(t, err)

	entries, err := svc.GetLedger(ctx, LedgerFilter{ItemID: 5, LocationID: 2, Descending: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Note)
}
