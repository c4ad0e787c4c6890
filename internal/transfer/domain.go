package transfer

import (
	"errors"
	"time"
)

// Status enumerates the transfer request lifecycle.
type Status string

const (
	// StatusPending marks a freshly created request. Nothing is reserved.
	StatusPending Status = "PENDING"
	// StatusApproved marks a request cleared to move goods.
	StatusApproved Status = "APPROVED"
	// StatusRejected is terminal; no stock ever moved.
	StatusRejected Status = "REJECTED"
	// StatusCompleted is terminal; both movement legs are committed.
	StatusCompleted Status = "COMPLETED"
)

// Request models a stock transfer between two locations under approval
// control. Stock moves only on completion.
type Request struct {
	ID             int64
	FromLocationID int64
	ToLocationID   int64
	Status         Status
	RequestedBy    int64
	ApprovedBy     *int64
	RequestDate    time.Time
	Notes          string
	Lines          []Line
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Line is one requested item/quantity on a transfer request.
type Line struct {
	ID        int64
	RequestID int64
	ItemID    int64
	Qty       float64
}

// LineInput describes a requested line.
type LineInput struct {
	ItemID int64
	Qty    float64
}

// CreateInput describes a new transfer request.
type CreateInput struct {
	FromLocationID int64
	ToLocationID   int64
	Lines          []LineInput
	RequesterID    int64
	RequestDate    time.Time
	Notes          string
}

// EditInput updates a pending request. Lines, when present, replace the
// existing ones.
type EditInput struct {
	RequestID   int64
	Lines       []LineInput
	RequestDate time.Time
	Notes       string
	ActorID     int64
}

// ErrNotFound indicates a missing transfer request.
var ErrNotFound = errors.New("transfer: request not found")

// ErrInvalidTransition indicates a workflow action from a state that does not permit it.
var ErrInvalidTransition = errors.New("transfer: invalid status transition")

// ErrInvalidState indicates an edit or delete after the request left PENDING.
var ErrInvalidState = errors.New("transfer: request is no longer editable")

// ErrSameLocation indicates matching source and destination.
var ErrSameLocation = errors.New("transfer: source and destination location must differ")

// ErrNoLines indicates a request without lines.
var ErrNoLines = errors.New("transfer: at least one line required")

// ErrInvalidQuantity indicates a non-positive requested quantity.
var ErrInvalidQuantity = errors.New("transfer: quantity must be positive")

// ErrItemNotTransferable indicates the item is inactive or its category
// cannot be transferred between locations.
var ErrItemNotTransferable = errors.New("transfer: item not transferable")
