package locations

import (
	"time"
)

// Kind classifies a stock location by farm operation.
type Kind string

const (
	KindStore    Kind = "STORE"
	KindFeedMill Kind = "FEED_MILL"
	KindPoultry  Kind = "POULTRY"
	KindCatfish  Kind = "CATFISH"
	KindBSF      Kind = "BSF"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindStore, KindFeedMill, KindPoultry, KindCatfish, KindBSF:
		return true
	}
	return false
}

// Location represents a physical place holding stock.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
