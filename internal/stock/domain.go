package stock

import (
	"errors"
	"time"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// KindReceipt represents an external inbound receipt.
	KindReceipt MovementKind = "RECEIPT"
	// KindUsage represents raw material consumption.
	KindUsage MovementKind = "USAGE"
	// KindProductionIn represents finished goods produced by a run.
	KindProductionIn MovementKind = "PRODUCTION_IN"
	// KindSaleOut represents stock sold out of a location.
	KindSaleOut MovementKind = "SALE_OUT"
	// KindTransferOut represents the outbound leg of a transfer.
	KindTransferOut MovementKind = "TRANSFER_OUT"
	// KindTransferIn represents the inbound leg of a transfer.
	KindTransferIn MovementKind = "TRANSFER_IN"
	// KindAdjustment represents a manual correction, signed by quantity.
	KindAdjustment MovementKind = "ADJUSTMENT"
	// KindReversal compensates a prior movement, signed by quantity.
	KindReversal MovementKind = "REVERSAL"
)

// Valid reports whether the kind is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindReceipt, KindUsage, KindProductionIn, KindSaleOut,
		KindTransferOut, KindTransferIn, KindAdjustment, KindReversal:
		return true
	}
	return false
}

// Signed reports whether the kind derives its direction from the quantity sign.
func (k MovementKind) Signed() bool {
	return k == KindAdjustment || k == KindReversal
}

// Inbound reports whether the kind always adds stock.
func (k MovementKind) Inbound() bool {
	switch k {
	case KindReceipt, KindProductionIn, KindTransferIn:
		return true
	}
	return false
}

// Outbound reports whether the kind always removes stock.
func (k MovementKind) Outbound() bool {
	switch k {
	case KindUsage, KindSaleOut, KindTransferOut:
		return true
	}
	return false
}

// Balance summarises on-hand quantity and weighted-average cost of one item
// at one location. Rows are created lazily on first movement and never
// deleted; zero quantity is a valid, known state.
type Balance struct {
	ItemID     int64
	LocationID int64
	Qty        float64
	AvgCost    float64
	UpdatedAt  time.Time
}

// LedgerEntry is the immutable record of a single movement. Qty is signed:
// positive adds stock, negative removes it. UnitCost is the cost at the
// moment of the movement and is never recomputed.
type LedgerEntry struct {
	ID         int64
	ItemID     int64
	LocationID int64
	Kind       MovementKind
	Qty        float64
	UnitCost   float64
	RefType    string
	RefID      string
	Note       string
	CreatedBy  int64
	PostedAt   time.Time
}

// MovementInput describes a movement to apply. Quantity is positive for
// directional kinds; ADJUSTMENT and REVERSAL carry their own sign.
type MovementInput struct {
	ItemID         int64
	LocationID     int64
	Kind           MovementKind
	Qty            float64
	UnitCost       float64
	RefType        string
	RefID          string
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// LedgerFilter selects ledger entries for one item/location pair.
type LedgerFilter struct {
	ItemID     int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
	Descending bool
}

// ErrInsufficientStock triggered when a movement would drive quantity negative.
var ErrInsufficientStock = errors.New("stock: insufficient stock")

// ErrInvalidQuantity indicates a zero or wrongly-signed quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be non zero")

// ErrInvalidUnitCost indicates an invalid cost value.
var ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")

// ErrInvalidKind indicates an unknown movement kind.
var ErrInvalidKind = errors.New("stock: unknown movement kind")

// ErrItemLocationRequired indicates a missing item or location reference.
var ErrItemLocationRequired = errors.New("stock: item and location required")
