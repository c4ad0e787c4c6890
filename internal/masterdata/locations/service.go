package locations

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

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, loc Location) (Location, error) {
	if err := s.validate(loc); err != nil {
		return Location{}, err
	}
	return s.repo.Create(ctx, loc)
}

func (s *Service) Update(ctx context.Context, id int64, loc Location) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(loc); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, loc)
}

// Delete removes a location that never held stock. Locations with history
// are deactivated instead.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	used, err := s.repo.InUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("location %d has stock history: %w", id, shared.ErrInUse)
	}
	return s.repo.Delete(ctx, id)
}
