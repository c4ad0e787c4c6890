package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

type balanceKey struct {
	itemID     int64
	locationID int64
}

// memoryState backs both the transfer repository and the stock transaction so
// completion legs and the status flip share one rollback scope, mirroring how
// the real repositories share a database transaction.
type memoryState struct {
	requests  map[int64]Request
	balances  map[balanceKey]stock.Balance
	ledger    []stock.LedgerEntry
	nextReq   int64
	nextLine  int64
	nextEntry int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		requests:  map[int64]Request{},
		balances:  map[balanceKey]stock.Balance{},
		nextReq:   1,
		nextLine:  1,
		nextEntry: 1,
	}
}

func (m *memoryState) snapshot() *memoryState {
	cp := &memoryState{
		requests:  make(map[int64]Request, len(m.requests)),
		balances:  make(map[balanceKey]stock.Balance, len(m.balances)),
		ledger:    append([]stock.LedgerEntry(nil), m.ledger...),
		nextReq:   m.nextReq,
		nextLine:  m.nextLine,
		nextEntry: m.nextEntry,
	}
	for id, req := range m.requests {
		req.Lines = append([]Line(nil), req.Lines...)
		cp.requests[id] = req
	}
	for k, b := range m.balances {
		cp.balances[k] = b
	}
	return cp
}

func (m *memoryState) restore(from *memoryState) {
	m.requests = from.requests
	m.balances = from.balances
	m.ledger = from.ledger
	m.nextReq = from.nextReq
	m.nextLine = from.nextLine
	m.nextEntry = from.nextEntry
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.state.snapshot()
	if err := fn(ctx, &memoryTx{state: r.state}); err != nil {
		r.state.restore(saved)
		return err
	}
	return nil
}

func (r *memoryRepo) GetRequest(_ context.Context, id int64) (Request, error) {
	req, ok := r.state.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) ListRequests(_ context.Context, status Status, _, _ int) ([]Request, error) {
	var out []Request
	for _, req := range r.state.requests {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) InsertRequest(_ context.Context, req Request) (int64, error) {
	id := t.state.nextReq
	t.state.nextReq++
	req.ID = id
	t.state.requests[id] = req
	return id, nil
}

func (t *memoryTx) InsertLine(_ context.Context, line Line) (int64, error) {
	id := t.state.nextLine
	t.state.nextLine++
	line.ID = id
	req := t.state.requests[line.RequestID]
	req.Lines = append(req.Lines, line)
	t.state.requests[line.RequestID] = req
	return id, nil
}

func (t *memoryTx) GetRequestForUpdate(_ context.Context, id int64) (Request, error) {
	req, ok := t.state.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (t *memoryTx) SetApproval(_ context.Context, id int64, status Status, approverID int64, at time.Time) error {
	req := t.state.requests[id]
	req.Status = status
	req.ApprovedBy = &approverID
	req.UpdatedAt = at
	t.state.requests[id] = req
	return nil
}

func (t *memoryTx) SetCompleted(_ context.Context, id int64, notes string, at time.Time) error {
	req := t.state.requests[id]
	req.Status = StatusCompleted
	if notes != "" {
		req.Notes = notes
	}
	req.UpdatedAt = at
	t.state.requests[id] = req
	return nil
}

func (t *memoryTx) UpdatePending(_ context.Context, id int64, requestDate time.Time, notes string, at time.Time) error {
	req := t.state.requests[id]
	req.RequestDate = requestDate
	req.Notes = notes
	req.UpdatedAt = at
	t.state.requests[id] = req
	return nil
}

func (t *memoryTx) ReplaceLines(_ context.Context, requestID int64, lines []LineInput) error {
	req := t.state.requests[requestID]
	req.Lines = nil
	for _, line := range lines {
		id := t.state.nextLine
		t.state.nextLine++
		req.Lines = append(req.Lines, Line{ID: id, RequestID: requestID, ItemID: line.ItemID, Qty: line.Qty})
	}
	t.state.requests[requestID] = req
	return nil
}

func (t *memoryTx) DeleteRequest(_ context.Context, id int64) error {
	delete(t.state.requests, id)
	return nil
}

func (t *memoryTx) Stock() stock.TxRepository {
	return &memoryStockTx{state: t.state}
}

type memoryStockTx struct {
	state *memoryState
}

func (t *memoryStockTx) GetBalanceForUpdate(_ context.Context, itemID, locationID int64) (stock.Balance, error) {
	bal, ok := t.state.balances[balanceKey{itemID, locationID}]
	if !ok {
		return stock.Balance{ItemID: itemID, LocationID: locationID}, stock.ErrBalanceNotFound
	}
	return bal, nil
}

func (t *memoryStockTx) UpsertBalance(_ context.Context, balance stock.Balance) error {
	t.state.balances[balanceKey{balance.ItemID, balance.LocationID}] = balance
	return nil
}

func (t *memoryStockTx) InsertEntry(_ context.Context, entry stock.LedgerEntry) (int64, error) {
	id := t.state.nextEntry
	t.state.nextEntry++
	entry.ID = id
	t.state.ledger = append(t.state.ledger, entry)
	return id, nil
}

type allowAllCatalog struct {
	blocked map[int64]bool
}

func (c allowAllCatalog) ItemTransferable(_ context.Context, itemID int64) (bool, error) {
	return !c.blocked[itemID], nil
}

func newTransferFixture(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	stockSvc := stock.NewService(nil, nil, nil, nil, nil, nil)
	svc := NewService(repo, stockSvc, allowAllCatalog{}, nil, nil, nil)
	return svc, repo
}

func seedBalance(repo *memoryRepo, itemID, locationID int64, qty, avgCost float64) {
	repo.state.balances[balanceKey{itemID, locationID}] = stock.Balance{
		ItemID: itemID, LocationID: locationID, Qty: qty, AvgCost: avgCost,
	}
}

func TestCreateStartsPendingWithoutMovingStock(t *testing.T) {
	svc, repo := newTransferFixture(t)
	ctx := context.Background()
	seedBalance(repo, 1, 10, 100, 12.5)

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10,
		ToLocationID:   20,
		RequesterID:    7,
		Lines:          []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Len(t, req.Lines, 1)

	require.Empty(t, repo.state.ledger)
	require.InDelta(t, 100.0, repo.state.balances[balanceKey{1, 10}].Qty, 1e-9)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTransferFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{FromLocationID: 10, ToLocationID: 10, Lines: []LineInput{{ItemID: 1, Qty: 5}}})
	require.ErrorIs(t, err, ErrSameLocation)

	_, err = svc.Create(ctx, CreateInput{FromLocationID: 10, ToLocationID: 20})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(ctx, CreateInput{FromLocationID: 10, ToLocationID: 20, Lines: []LineInput{{ItemID: 1, Qty: -2}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateRejectsNonTransferableItem(t *testing.T) {
	repo := newMemoryRepo()
	stockSvc := stock.NewService(nil, nil, nil, nil, nil, nil)
	svc := NewService(repo, stockSvc, allowAllCatalog{blocked: map[int64]bool{9: true}}, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		FromLocationID: 10, ToLocationID: 20,
		Lines: []LineInput{{ItemID: 9, Qty: 5}},
	})
	require.ErrorIs(t, err, ErrItemNotTransferable)
}

func TestApproveThenCompleteMovesCostWithGoods(t *testing.T) {
	svc, repo := newTransferFixture(t)
	ctx := context.Background()
	seedBalance(repo, 1, 10, 100, 12.5)

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, req.ID, 8)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, int64(8), *approved.ApprovedBy)

	completed, err := svc.Complete(ctx, req.ID, "moved by truck", 8)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)

	require.Len(t, repo.state.ledger, 2)
	out := repo.state.ledger[0]
	in := repo.state.ledger[1]
	require.Equal(t, stock.KindTransferOut, out.Kind)
	require.Equal(t, stock.KindTransferIn, in.Kind)
	require.InDelta(t, -40.0, out.Qty, 1e-9)
	require.InDelta(t, 40.0, in.Qty, 1e-9)
	require.InDelta(t, 12.5, out.UnitCost, 1e-9)
	require.InDelta(t, 12.5, in.UnitCost, 1e-9)

	src := repo.state.balances[balanceKey{1, 10}]
	dst := repo.state.balances[balanceKey{1, 20}]
	require.InDelta(t, 60.0, src.Qty, 1e-9)
	require.InDelta(t, 12.5, src.AvgCost, 1e-9)
	require.InDelta(t, 40.0, dst.Qty, 1e-9)
	require.InDelta(t, 12.5, dst.AvgCost, 1e-9)
}

func TestCompleteRequiresApproval(t *testing.T) {
	svc, repo := newTransferFixture(t)
	ctx := context.Background()
	seedBalance(repo, 1, 10, 100, 12.5)

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, req.ID, "", 8)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, repo.state.ledger)
}

func TestApproveIsNotRepeatable(t *testing.T) {
	svc, repo := newTransferFixture(t)
	ctx := context.Background()
	seedBalance(repo, 1, 10, 100, 12.5)

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, req.ID, 8)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectIsTerminal(t *testing.T) {
	svc, _ := newTransferFixture(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, req.ID, 8)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)

	_, err = svc.Approve(ctx, req.ID, 8)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Complete(ctx, req.ID, "", 8)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteAbortsWhollyOnInsufficientStock(t *testing.T) {
	svc, repo := newTransferFixture(t)
	ctx := context.Background()
	seedBalance(repo, 1, 10, 100, 12.5)
	seedBalance(repo, 2, 10, 5, 3)

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{
			{ItemID: 1, Qty: 40},
			{ItemID: 2, Qty: 50}, // only 5 on hand
		},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID, 8)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, req.ID, "", 8)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// Nothing moved, including the first line that would have succeeded.
	require.Empty(t, repo.state.ledger)
	require.InDelta(t, 100.0, repo.state.balances[balanceKey{1, 10}].Qty, 1e-9)
	require.InDelta(t, 5.0, repo.state.balances[balanceKey{2, 10}].Qty, 1e-9)
	_, exists := repo.state.balances[balanceKey{1, 20}]
	require.False(t, exists)

	current, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, current.Status)
}

func TestEditAndDeleteOnlyWhilePending(t *testing.T) {
	svc, _ := newTransferFixture(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	updated, err := svc.EditPending(ctx, EditInput{
		RequestID: req.ID,
		Lines:     []LineInput{{ItemID: 1, Qty: 25}, {ItemID: 2, Qty: 10}},
		Notes:     "resized",
		ActorID:   7,
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	require.Equal(t, "resized", updated.Notes)

	_, err = svc.Approve(ctx, req.ID, 8)
	require.NoError(t, err)

	_, err = svc.EditPending(ctx, EditInput{RequestID: req.ID, Notes: "too late", ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, svc.DeletePending(ctx, req.ID, 7), ErrInvalidState)
}

func TestDeletePendingRemovesRequest(t *testing.T) {
	svc, _ := newTransferFixture(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, CreateInput{
		FromLocationID: 10, ToLocationID: 20, RequesterID: 7,
		Lines: []LineInput{{ItemID: 1, Qty: 40}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePending(ctx, req.ID, 7))
	_, err = svc.Get(ctx, req.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
