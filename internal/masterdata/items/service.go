package items

import (
	"context"
	"fmt"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, item Item) (Item, error) {
	if err := s.validate(item); err != nil {
		return Item{}, err
	}
	return s.repo.Create(ctx, item)
}

// Update rejects code and unit changes once the item appears in a balance or
// ledger row, so historic movements keep their meaning.
func (s *Service) Update(ctx context.Context, id int64, item Item) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(item); err != nil {
		return err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Code != item.Code || current.Unit != item.Unit {
		used, err := s.repo.InUse(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("item %d code/unit is locked: %w", id, shared.ErrInUse)
		}
	}
	return s.repo.Update(ctx, id, item)
}

// Delete removes an item that was never stocked.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	used, err := s.repo.InUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("item %d has stock history: %w", id, shared.ErrInUse)
	}
	return s.repo.Delete(ctx, id)
}

// ItemTransferable reports whether an item may move between locations:
// it must exist, be active and be flagged transferable.
func (s *Service) ItemTransferable(ctx context.Context, itemID int64) (bool, error) {
	item, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.IsActive && item.Transferable, nil
}
