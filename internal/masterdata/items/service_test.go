package items

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/shared"
)

type memoryRepo struct {
	items  map[int64]Item
	inUse  map[int64]bool
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Item{}, inUse: map[int64]bool{}, nextID: 1}
}

func (r *memoryRepo) List(_ context.Context, _ shared.ListFilters) ([]Item, int, error) {
	var out []Item
	for _, item := range r.items {
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) Create(_ context.Context, item Item) (Item, error) {
	for _, existing := range r.items {
		if existing.Code == item.Code {
			return Item{}, shared.ErrDuplicate
		}
	}
	item.ID = r.nextID
	r.nextID++
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, item Item) error {
	if _, ok := r.items[id]; !ok {
		return shared.ErrNotFound
	}
	item.ID = id
	r.items[id] = item
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) InUse(_ context.Context, id int64) (bool, error) {
	return r.inUse[id], nil
}

func TestItemTransferable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	feed, err := svc.Create(ctx, Item{Code: "FEED-01", Name: "Broiler feed", Unit: "kg", Transferable: true, IsActive: true})
	require.NoError(t, err)
	fixed, err := svc.Create(ctx, Item{Code: "TANK-01", Name: "Catfish tank stock", Unit: "kg", Transferable: false, IsActive: true})
	require.NoError(t, err)
	retired, err := svc.Create(ctx, Item{Code: "OLD-01", Name: "Retired premix", Unit: "kg", Transferable: true, IsActive: false})
	require.NoError(t, err)

	ok, err := svc.ItemTransferable(ctx, feed.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.ItemTransferable(ctx, fixed.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.ItemTransferable(ctx, retired.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.ItemTransferable(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateLocksCodeAndUnitOnceStocked(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	item, err := svc.Create(ctx, Item{Code: "FEED-01", Name: "Broiler feed", Unit: "kg", IsActive: true})
	require.NoError(t, err)
	repo.inUse[item.ID] = true

	changed := item
	changed.Unit = "bag"
	require.ErrorIs(t, svc.Update(ctx, item.ID, changed), shared.ErrInUse)

	changed = item
	changed.Code = "FEED-02"
	require.ErrorIs(t, svc.Update(ctx, item.ID, changed), shared.ErrInUse)

	// Renaming or deactivating stays allowed.
	changed = item
	changed.Name = "Broiler starter feed"
	changed.IsActive = false
	require.NoError(t, svc.Update(ctx, item.ID, changed))
}

func TestDeleteRejectsStockedItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	item, err := svc.Create(ctx, Item{Code: "FEED-01", Name: "Broiler feed", Unit: "kg", IsActive: true})
	require.NoError(t, err)
	repo.inUse[item.ID] = true

	require.ErrorIs(t, svc.Delete(ctx, item.ID), shared.ErrInUse)
	repo.inUse[item.ID] = false
	require.NoError(t, svc.Delete(ctx, item.ID))
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Item{Name: "no code", Unit: "kg"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, Item{Code: "X", Unit: "kg"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, Item{Code: "X", Name: "no unit"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, Item{Code: "X", Name: "bad pack", Unit: "kg", PackSize: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}
