package production

import (
	"errors"
	"time"
)

// ShareInput names one item and its percentage share of the target output
// quantity. Input shares may exceed 100 in total (process loss); output
// shares must sum to 100 so the produced quantities add up to the target.
type ShareInput struct {
	ItemID       int64
	SharePercent float64
}

// ApplyInput describes one production run to execute.
type ApplyInput struct {
	Name           string
	LocationID     int64
	TargetQty      float64
	Inputs         []ShareInput
	Outputs        []ShareInput
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// RunLeg is one materialised movement of a run, stored so an undo can post
// the exact inverse without recomputation.
type RunLeg struct {
	ItemID   int64   `json:"item_id"`
	Qty      float64 `json:"qty"`
	UnitCost float64 `json:"unit_cost"`
	EntryID  int64   `json:"entry_id"`
}

// Run records an executed production run. Inputs were consumed as USAGE,
// outputs posted as PRODUCTION_IN at CostPerUnit.
type Run struct {
	ID             int64
	Name           string
	LocationID     int64
	TargetQty      float64
	Inputs         []RunLeg
	Outputs        []RunLeg
	TotalInputCost float64
	CostPerUnit    float64
	Note           string
	IsUndone       bool
	UndoReason     string
	UndoneAt       *time.Time
	CreatedBy      int64
	CreatedAt      time.Time
}

// ErrNotFound indicates a missing production run.
var ErrNotFound = errors.New("production: run not found")

// ErrAlreadyUndone indicates a second undo of the same run.
var ErrAlreadyUndone = errors.New("production: run already undone")

// ErrNoInputs indicates a run without input shares.
var ErrNoInputs = errors.New("production: at least one input required")

// ErrNoOutputs indicates a run without output shares.
var ErrNoOutputs = errors.New("production: at least one output required")

// ErrInvalidShare indicates a non-positive share percentage.
var ErrInvalidShare = errors.New("production: share percent must be positive")

// ErrOutputShareSum indicates output shares that do not sum to 100.
var ErrOutputShareSum = errors.New("production: output shares must sum to 100")

// ErrInvalidTarget indicates a non-positive target quantity.
var ErrInvalidTarget = errors.New("production: target quantity must be positive")

// ErrLocationRequired indicates a missing location reference.
var ErrLocationRequired = errors.New("production: location required")
