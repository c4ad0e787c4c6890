package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agrovia-erp/agrovia-erp/internal/shared"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

const shareEpsilon = 1e-6

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRun(ctx context.Context, id int64) (Run, error)
	ListRuns(ctx context.Context, locationID int64, limit, offset int) ([]Run, error)
}

// StockPort exposes the movement service operations a run needs.
type StockPort interface {
	ApplyTx(ctx context.Context, tx stock.TxRepository, input stock.MovementInput) (stock.LedgerEntry, error)
	AfterBatch(ctx context.Context, entries []stock.LedgerEntry)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service executes production runs: N usages and M production-ins as one
// transaction, with a compensating undo that fires at most once.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the production service. Audit and idempotency are
// optional collaborators.
func NewService(repo RepositoryPort, stockSvc StockPort, audit AuditPort, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockSvc, audit: audit, idempotency: idem, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Apply derives input quantities from the process shares, verifies every
// input is sufficiently stocked, then posts one USAGE per input and one
// PRODUCTION_IN per output in a single transaction. Outputs absorb the total
// input cost pro-rata by quantity.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (Run, error) {
	if err := validateApply(input); err != nil {
		return Run{}, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "production"); err != nil {
			return Run{}, err
		}
		insertedKey = true
	}

	var run Run
	var entries []stock.LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = entries[:0]
		stockTx := tx.Stock()
		now := s.now().UTC()

		// Lock and verify every input before posting any leg so a short
		// input rejects the run without touching stock.
		required := make([]float64, len(input.Inputs))
		for i, share := range input.Inputs {
			required[i] = input.TargetQty * share.SharePercent / 100
			bal, err := stockTx.GetBalanceForUpdate(ctx, share.ItemID, input.LocationID)
			if err != nil && !errors.Is(err, stock.ErrBalanceNotFound) {
				return err
			}
			if bal.Qty+shareEpsilon < required[i] {
				return fmt.Errorf("production: item %d needs %.4f, has %.4f: %w",
					share.ItemID, required[i], bal.Qty, stock.ErrInsufficientStock)
			}
		}

		run = Run{
			Name:       input.Name,
			LocationID: input.LocationID,
			TargetQty:  input.TargetQty,
			Note:       input.Note,
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
		}
		id, err := tx.InsertRun(ctx, run)
		if err != nil {
			return err
		}
		run.ID = id
		refID := fmt.Sprintf("%d", id)

		var totalCost float64
		for i, share := range input.Inputs {
			entry, err := s.stock.ApplyTx(ctx, stockTx, stock.MovementInput{
				ItemID:     share.ItemID,
				LocationID: input.LocationID,
				Kind:       stock.KindUsage,
				Qty:        required[i],
				RefType:    "production",
				RefID:      refID,
				Note:       input.Name,
				ActorID:    input.ActorID,
			})
			if err != nil {
				return fmt.Errorf("production: input item %d: %w", share.ItemID, err)
			}
			totalCost += required[i] * entry.UnitCost
			run.Inputs = append(run.Inputs, RunLeg{ItemID: share.ItemID, Qty: required[i], UnitCost: entry.UnitCost, EntryID: entry.ID})
			entries = append(entries, entry)
		}
		run.TotalInputCost = stock.Round2(totalCost)
		run.CostPerUnit = stock.Round2(totalCost / input.TargetQty)

		for _, share := range input.Outputs {
			qty := input.TargetQty * share.SharePercent / 100
			entry, err := s.stock.ApplyTx(ctx, stockTx, stock.MovementInput{
				ItemID:     share.ItemID,
				LocationID: input.LocationID,
				Kind:       stock.KindProductionIn,
				Qty:        qty,
				UnitCost:   run.CostPerUnit,
				RefType:    "production",
				RefID:      refID,
				Note:       input.Name,
				ActorID:    input.ActorID,
			})
			if err != nil {
				return fmt.Errorf("production: output item %d: %w", share.ItemID, err)
			}
			run.Outputs = append(run.Outputs, RunLeg{ItemID: share.ItemID, Qty: qty, UnitCost: run.CostPerUnit, EntryID: entry.ID})
			entries = append(entries, entry)
		}

		return tx.UpdateRunResults(ctx, run)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Run{}, err
	}

	s.stock.AfterBatch(ctx, entries)
	s.recordAudit(ctx, "PRODUCTION_APPLY", run.ID, input.ActorID, map[string]any{
		"location_id":   input.LocationID,
		"target_qty":    input.TargetQty,
		"cost_per_unit": run.CostPerUnit,
	})
	return run, nil
}

// Undo compensates a run: exact inverse REVERSAL legs from the stored run
// data, all in one transaction, at most once per run. Produced goods come
// back out first, then consumed inputs return at their recorded cost.
func (s *Service) Undo(ctx context.Context, runID int64, reason string, actorID int64) (Run, error) {
	var run Run
	var entries []stock.LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = entries[:0]
		var err error
		run, err = tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if run.IsUndone {
			return fmt.Errorf("production: run %d: %w", runID, ErrAlreadyUndone)
		}
		stockTx := tx.Stock()
		now := s.now().UTC()
		refID := fmt.Sprintf("%d", runID)

		for _, leg := range run.Outputs {
			entry, err := s.stock.ApplyTx(ctx, stockTx, stock.MovementInput{
				ItemID:     leg.ItemID,
				LocationID: run.LocationID,
				Kind:       stock.KindReversal,
				Qty:        -leg.Qty,
				RefType:    "production_undo",
				RefID:      refID,
				Note:       reason,
				ActorID:    actorID,
			})
			if err != nil {
				return fmt.Errorf("production: run %d undo output item %d: %w", runID, leg.ItemID, err)
			}
			entries = append(entries, entry)
		}
		for _, leg := range run.Inputs {
			entry, err := s.stock.ApplyTx(ctx, stockTx, stock.MovementInput{
				ItemID:     leg.ItemID,
				LocationID: run.LocationID,
				Kind:       stock.KindReversal,
				Qty:        leg.Qty,
				UnitCost:   leg.UnitCost,
				RefType:    "production_undo",
				RefID:      refID,
				Note:       reason,
				ActorID:    actorID,
			})
			if err != nil {
				return fmt.Errorf("production: run %d undo input item %d: %w", runID, leg.ItemID, err)
			}
			entries = append(entries, entry)
		}

		if err := tx.MarkUndone(ctx, runID, reason, now); err != nil {
			return err
		}
		run.IsUndone = true
		run.UndoReason = reason
		run.UndoneAt = &now
		return nil
	})
	if err != nil {
		return Run{}, err
	}

	s.stock.AfterBatch(ctx, entries)
	s.recordAudit(ctx, "PRODUCTION_UNDO", runID, actorID, map[string]any{"reason": reason})
	return run, nil
}

// Get returns one run.
func (s *Service) Get(ctx context.Context, runID int64) (Run, error) {
	return s.repo.GetRun(ctx, runID)
}

// List returns runs, optionally filtered by location.
func (s *Service) List(ctx context.Context, locationID int64, limit, offset int) ([]Run, error) {
	return s.repo.ListRuns(ctx, locationID, limit, offset)
}

func validateApply(input ApplyInput) error {
	if input.LocationID == 0 {
		return ErrLocationRequired
	}
	if input.TargetQty <= 0 {
		return ErrInvalidTarget
	}
	if len(input.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(input.Outputs) == 0 {
		return ErrNoOutputs
	}
	for _, share := range input.Inputs {
		if share.ItemID == 0 || share.SharePercent <= 0 {
			return fmt.Errorf("production: input item %d: %w", share.ItemID, ErrInvalidShare)
		}
	}
	var outSum float64
	for _, share := range input.Outputs {
		if share.ItemID == 0 || share.SharePercent <= 0 {
			return fmt.Errorf("production: output item %d: %w", share.ItemID, ErrInvalidShare)
		}
		outSum += share.SharePercent
	}
	if math.Abs(outSum-100) > shareEpsilon {
		return ErrOutputShareSum
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, runID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "production_run",
		EntityID: fmt.Sprintf("%d", runID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record production audit", slog.Any("error", err))
	}
}
