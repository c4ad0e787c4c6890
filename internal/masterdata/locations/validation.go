package locations

import (
	"fmt"
	"strings"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/shared"
)

func (s *Service) validate(loc Location) error {
	if strings.TrimSpace(loc.Code) == "" {
		return fmt.Errorf("location code is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(loc.Name) == "" {
		return fmt.Errorf("location name is required: %w", shared.ErrValidation)
	}
	if !loc.Kind.Valid() {
		return fmt.Errorf("unknown location kind %q: %w", loc.Kind, shared.ErrValidation)
	}
	return nil
}
