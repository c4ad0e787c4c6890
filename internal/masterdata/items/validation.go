package items

import (
	"fmt"
	"strings"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/shared"
)

func (s *Service) validate(item Item) error {
	if strings.TrimSpace(item.Code) == "" {
		return fmt.Errorf("item code is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("item name is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(item.Unit) == "" {
		return fmt.Errorf("item unit is required: %w", shared.ErrValidation)
	}
	if item.PackSize < 0 {
		return fmt.Errorf("pack size must be >= 0: %w", shared.ErrValidation)
	}
	return nil
}
