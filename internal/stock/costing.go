package stock

import "math"

// qtyEpsilon absorbs float drift when comparing quantities.
const qtyEpsilon = 1e-6

// Round2 rounds a monetary value to two decimals. Costing rounds after every
// computation, not only at display time, so ledger totals always reconcile.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Apply derives the next balance from one signed movement. It is pure: no
// I/O, no clock. The returned unit cost is the cost to record on the ledger
// entry for this movement.
//
// Incoming movements blend into the moving average; outgoing movements
// consume at the existing average and never change it. The moving average is
// order dependent, so movements for one pair must be applied sequentially.
func Apply(bal Balance, qtyChange, unitCost float64) (Balance, float64, error) {
	if math.Abs(qtyChange) < qtyEpsilon {
		return Balance{}, 0, ErrInvalidQuantity
	}

	next := bal
	if qtyChange > 0 {
		if unitCost < 0 {
			return Balance{}, 0, ErrInvalidUnitCost
		}
		newQty := bal.Qty + qtyChange
		totalCost := bal.Qty*bal.AvgCost + qtyChange*unitCost
		if newQty > qtyEpsilon {
			next.AvgCost = Round2(totalCost / newQty)
		} else {
			next.AvgCost = Round2(unitCost)
		}
		next.Qty = newQty
		return next, Round2(unitCost), nil
	}

	out := -qtyChange
	if out > bal.Qty+qtyEpsilon {
		return Balance{}, 0, ErrInsufficientStock
	}
	newQty := bal.Qty - out
	if math.Abs(newQty) < qtyEpsilon {
		newQty = 0
	}
	next.Qty = newQty
	return next, bal.AvgCost, nil
}

// Replay folds Apply over a ledger history in posted order and returns the
// reconstructed balance. The stored balance must match the replayed one.
func Replay(itemID, locationID int64, entries []LedgerEntry) (Balance, error) {
	bal := Balance{ItemID: itemID, LocationID: locationID}
	for _, entry := range entries {
		next, _, err := Apply(bal, entry.Qty, entry.UnitCost)
		if err != nil {
			return Balance{}, err
		}
		next.UpdatedAt = entry.PostedAt
		bal = next
	}
	return bal, nil
}
