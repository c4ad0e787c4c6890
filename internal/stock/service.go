package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrovia-erp/agrovia-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, itemID, locationID int64) (Balance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	ListForReplay(ctx context.Context, itemID, locationID int64) ([]LedgerEntry, error)
}

// AuditPort abstracts the activity-log sink.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MovementRecorder counts committed and rejected movements.
type MovementRecorder interface {
	RecordMovement(kind string, outcome string)
}

// Service is the movement service: the only writer of balances and the
// ledger. Every state change goes through ApplyMovement or ApplyTx.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	cache       *Cache
	idempotency *shared.IdempotencyStore
	metrics     MovementRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service. Audit, cache, idempotency and metrics are
// optional collaborators.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, idem *shared.IdempotencyStore, metrics MovementRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, idempotency: idem, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ApplyMovement validates and applies one movement atomically: balance
// upsert plus exactly one ledger append, or nothing.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	if err := validateInput(input); err != nil {
		s.observe(input.Kind, err)
		return LedgerEntry{}, err
	}
	if input.RefType == "" {
		// Manual movements get a generated reference so ledger rows stay traceable.
		input.RefType = "manual"
		input.RefID = uuid.NewString()
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "stock"); err != nil {
			return LedgerEntry{}, err
		}
		insertedKey = true
	}

	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.ApplyTx(ctx, tx, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		s.observe(input.Kind, err)
		return LedgerEntry{}, err
	}

	s.afterCommit(ctx, entry)
	return entry, nil
}

// ApplyTx applies one movement inside a caller-owned transaction. Multi-leg
// operations (transfer completion, production runs) use this so that all
// their legs commit or none do. Callers are responsible for calling
// AfterBatch once their transaction commits.
func (s *Service) ApplyTx(ctx context.Context, tx TxRepository, input MovementInput) (LedgerEntry, error) {
	if err := validateInput(input); err != nil {
		return LedgerEntry{}, err
	}

	bal, err := tx.GetBalanceForUpdate(ctx, input.ItemID, input.LocationID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return LedgerEntry{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		bal = Balance{ItemID: input.ItemID, LocationID: input.LocationID}
	}

	qtyChange := signedQty(input)
	unitCost := input.UnitCost
	if qtyChange < 0 {
		// Outgoing legs consume at the existing average; the input cost is ignored.
		unitCost = bal.AvgCost
	}

	next, costAtTime, err := Apply(bal, qtyChange, unitCost)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("stock: item %d at location %d: %w", input.ItemID, input.LocationID, err)
	}

	now := s.now().UTC()
	next.UpdatedAt = now
	if err := tx.UpsertBalance(ctx, next); err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ItemID:     input.ItemID,
		LocationID: input.LocationID,
		Kind:       input.Kind,
		Qty:        qtyChange,
		UnitCost:   costAtTime,
		RefType:    input.RefType,
		RefID:      input.RefID,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
		PostedAt:   now,
	}
	entry.ID, err = tx.InsertEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// AfterBatch runs the post-commit effects for movements applied through
// ApplyTx by a multi-leg caller.
func (s *Service) AfterBatch(ctx context.Context, entries []LedgerEntry) {
	for _, entry := range entries {
		s.afterCommit(ctx, entry)
	}
}

// GetBalance returns the balance for one item/location pair.
func (s *Service) GetBalance(ctx context.Context, itemID, locationID int64) (Balance, error) {
	if itemID == 0 || locationID == 0 {
		return Balance{}, ErrItemLocationRequired
	}
	if bal, ok := s.cache.Get(ctx, itemID, locationID); ok {
		return bal, nil
	}
	bal, err := s.repo.GetBalance(ctx, itemID, locationID)
	if err != nil {
		return Balance{}, err
	}
	s.cache.Set(ctx, bal)
	return bal, nil
}

// GetLedger lists ledger entries for the filter, ordered by time. Paging by
// limit/offset keeps the sequence restartable for large histories.
func (s *Service) GetLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.ItemID == 0 || filter.LocationID == 0 {
		return nil, ErrItemLocationRequired
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("stock: from date after to date: %w", ErrInvalidQuantity)
	}
	return s.repo.ListLedger(ctx, filter)
}

// Rebuild reconstructs the balance for one pair purely from its ledger
// history. Used by the integrity job and exposed for diagnostics.
func (s *Service) Rebuild(ctx context.Context, itemID, locationID int64) (Balance, error) {
	if itemID == 0 || locationID == 0 {
		return Balance{}, ErrItemLocationRequired
	}
	entries, err := s.repo.ListForReplay(ctx, itemID, locationID)
	if err != nil {
		return Balance{}, err
	}
	return Replay(itemID, locationID, entries)
}

func (s *Service) afterCommit(ctx context.Context, entry LedgerEntry) {
	s.cache.Invalidate(ctx)
	s.observe(entry.Kind, nil)
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  entry.CreatedBy,
			Action:   fmt.Sprintf("stock:%s", entry.Kind),
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"item_id":     entry.ItemID,
				"location_id": entry.LocationID,
				"qty":         entry.Qty,
				"unit_cost":   entry.UnitCost,
				"ref_type":    entry.RefType,
				"ref_id":      entry.RefID,
			},
		})
		if err != nil {
			// The movement already committed; logging failures stay non-fatal.
			s.logger.Warn("record stock audit", slog.Any("error", err))
		}
	}
}

func (s *Service) observe(kind MovementKind, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock):
		outcome = "insufficient_stock"
	default:
		outcome = "error"
	}
	s.metrics.RecordMovement(string(kind), outcome)
}

func validateInput(input MovementInput) error {
	if input.ItemID == 0 || input.LocationID == 0 {
		return ErrItemLocationRequired
	}
	if !input.Kind.Valid() {
		return ErrInvalidKind
	}
	if input.Qty == 0 {
		return ErrInvalidQuantity
	}
	if !input.Kind.Signed() && input.Qty < 0 {
		return ErrInvalidQuantity
	}
	if (input.Kind.Inbound() || (input.Kind.Signed() && input.Qty > 0)) && input.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	return nil
}

func signedQty(input MovementInput) float64 {
	if input.Kind.Outbound() {
		return -input.Qty
	}
	return input.Qty
}
