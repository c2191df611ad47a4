package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationRequest asks for quantity of a product in a warehouse.
type AllocationRequest struct {
	ProductId   int                       `json:"product_id" validate:"required,gt=0"`
	WarehouseId int                       `json:"warehouse_id" validate:"required,gt=0"`
	Qty         decimal.Decimal           `json:"qty" validate:"required"`
	DemandRef   string                    `json:"demand_ref" validate:"required,max=100"`
	Strategy    models.AllocationStrategy `json:"strategy" validate:"omitempty,oneof=FIFO FEFO"`
}

// AllocationResult is what one demand line got: reservations spread over
// candidate LPs, plus a backorder row for any shortfall. A shortfall is a
// normal outcome, not an error.
type AllocationResult struct {
	DemandRef    string                `json:"demand_ref"`
	RequestedQty decimal.Decimal       `json:"requested_qty"`
	AllocatedQty decimal.Decimal       `json:"allocated_qty"`
	Reservations []*models.Reservation `json:"reservations"`
	Backorder    *models.Backorder     `json:"backorder,omitempty"`
}

// Allocate walks eligible LPs in strategy order and reserves from each until
// the demand is covered or candidates run out. Eligibility: Available or
// Reserved (partially booked) status, QA passed, not expired, positive
// quantity. Each candidate is re-evaluated under its own LP lock, so
// concurrent allocations of the same stock cannot double-book; a candidate
// drained by a racing caller simply contributes nothing.
func Allocate(ctx context.Context, req *AllocationRequest) (*AllocationResult, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	if !req.Qty.IsPositive() {
		return nil, utils.NewDomainError(utils.CodeValidation, "requested quantity must be positive")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyFIFO
	}

	db := config.GetDB()
	now := time.Now().UTC()

	candidates, err := eligibleLpIds(ctx, db, orgId, req.ProductId, req.WarehouseId, strategy, now)
	if err != nil {
		return nil, err
	}

	result := &AllocationResult{
		DemandRef:    req.DemandRef,
		RequestedQty: req.Qty,
		AllocatedQty: decimal.Zero,
	}
	remaining := req.Qty

	for _, lpId := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if ctx.Err() != nil {
			break // deadline: keep what we booked, shortfall becomes backorder
		}
		reservation, taken, err := reserveUpTo(ctx, orgId, lpId, remaining, req.DemandRef, strategy, actorId, actorName)
		if err != nil {
			return nil, err
		}
		if reservation == nil {
			continue
		}
		result.Reservations = append(result.Reservations, reservation)
		result.AllocatedQty = result.AllocatedQty.Add(taken)
		remaining = remaining.Sub(taken)
	}

	if remaining.IsPositive() {
		backorder, err := recordBackorder(ctx, orgId, req.DemandRef, req.ProductId, remaining)
		if err != nil {
			return nil, err
		}
		result.Backorder = backorder
	}
	return result, nil
}

// recordBackorder persists the shortfall of an allocation. It runs on a
// detached context: when the allocation loop stopped because the caller's
// deadline hit, the reservations already committed and the backorder must
// land with them, not error out.
func recordBackorder(ctx context.Context, orgId string, demandRef string, productId int, shortfall decimal.Decimal) (*models.Backorder, error) {
	backorder := &models.Backorder{
		OrgId:        orgId,
		DemandRef:    demandRef,
		ProductId:    productId,
		ShortfallQty: shortfall,
	}
	db := config.GetDB()
	detached := context.WithoutCancel(ctx)
	err := db.WithContext(detached).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(backorder).Error; err != nil {
			return err
		}
		return models.PublishAudit(detached, tx, orgId, entityBackorder, backorder.ID, models.AuditActionCreate, backorder, nil)
	})
	if err != nil {
		return nil, err
	}
	return backorder, nil
}

// eligibleLpIds lists candidate LPs in picking order. FIFO: oldest receipt
// first. FEFO: earliest expiry first with never-expiring stock last; within a
// tie, lowest id.
func eligibleLpIds(ctx context.Context, db *gorm.DB, orgId string, productId, warehouseId int, strategy models.AllocationStrategy, now time.Time) ([]int, error) {
	q := db.WithContext(ctx).Model(&models.LicensePlate{}).
		Where("org_id = ? AND product_id = ? AND warehouse_id = ?", orgId, productId, warehouseId).
		Where("status IN ?", []models.LPStatus{models.LPStatusAvailable, models.LPStatusReserved}).
		Where("qa_status = ?", models.QAStatusPassed).
		Where("quantity > 0").
		Where("expiry_date IS NULL OR expiry_date > ?", now)
	switch strategy {
	case models.StrategyFEFO:
		q = q.Order("(expiry_date IS NULL) ASC, expiry_date ASC, id ASC")
	default:
		q = q.Order("received_at ASC, id ASC")
	}
	var ids []int
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// reserveUpTo books min(want, available) on one LP under its lock. Returns
// (nil, 0, nil) when the candidate turned out to have nothing left — stock
// read in the candidate query may be gone by the time the lock is held.
func reserveUpTo(ctx context.Context, orgId string, lpId int, want decimal.Decimal, demandRef string, strategy models.AllocationStrategy, actorId int, actorName string) (*models.Reservation, decimal.Decimal, error) {
	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer unlock()

	db := config.GetDB()
	now := time.Now().UTC()
	var reservation *models.Reservation
	taken := decimal.Zero
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lp, err := models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if err := lp.EnsureOperable(false); err != nil {
			// The candidate was blocked or shipped between query and lock.
			if utils.IsCode(err, utils.CodeLPBlocked) || utils.IsCode(err, utils.CodeLPTerminal) {
				return nil
			}
			return err
		}
		if lp.IsExpired(now) || lp.QaStatus != models.QAStatusPassed {
			return nil
		}
		reserved, err := models.ActiveReservedQty(tx, orgId, lp.ID, now)
		if err != nil {
			return err
		}
		available := lp.Quantity.Sub(reserved)
		if !available.IsPositive() {
			return nil
		}
		taken = decimal.Min(want, available)

		reservation = &models.Reservation{
			OrgId:       orgId,
			LpId:        lp.ID,
			DemandRef:   demandRef,
			ReservedQty: taken,
			Strategy:    strategy,
			ExpiresAt:   now.Add(config.ReservationUndoWindow()),
		}
		if err := tx.Create(reservation).Error; err != nil {
			return err
		}
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          lp.ID,
			MoveType:      models.MoveTypeReserve,
			QtyDelta:      decimal.Zero,
			CurrentQty:    lp.Quantity,
			Reference:     demandRef,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}
		if lp.Status == models.LPStatusAvailable {
			old := *lp
			lp.Status = models.LPStatusReserved
			if err := models.SaveLicensePlate(tx, lp); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old); err != nil {
				return err
			}
		}
		return models.PublishAudit(ctx, tx, orgId, entityReservation, reservation.ID, models.AuditActionCreate, reservation, nil)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	if reservation == nil {
		return nil, decimal.Zero, nil
	}
	return reservation, taken, nil
}

// AllocationSetLine is one demand line of a multi-line allocation.
type AllocationSetLine struct {
	ProductId int             `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty" validate:"required"`
}

// LineCoverage reports how far one line got.
type LineCoverage struct {
	ProductId int               `json:"product_id"`
	Result    *AllocationResult `json:"result"`
	// Coverage is allocated/required in [0,1].
	Coverage decimal.Decimal `json:"coverage"`
}

// SetAllocationResult aggregates a multi-line allocation. OverallCoverage is
// the minimum line coverage: the set ships only as complete as its weakest
// line.
type SetAllocationResult struct {
	DemandRef       string          `json:"demand_ref"`
	Lines           []LineCoverage  `json:"lines"`
	OverallCoverage decimal.Decimal `json:"overall_coverage"`
}

// AllocateSet allocates every line of a demand set, best-effort. Lines are
// independent: a short line backorders its shortfall without rolling back the
// others.
func AllocateSet(ctx context.Context, warehouseId int, demandRef string, strategy models.AllocationStrategy, lines []AllocationSetLine) (*SetAllocationResult, error) {
	if len(lines) == 0 {
		return nil, utils.NewDomainError(utils.CodeValidation, "allocation set needs at least one line")
	}
	out := &SetAllocationResult{DemandRef: demandRef, OverallCoverage: decimal.NewFromInt(1)}
	for i, line := range lines {
		if !line.Qty.IsPositive() {
			return nil, utils.NewDomainError(utils.CodeValidation, "line %d quantity must be positive", i)
		}
		res, err := Allocate(ctx, &AllocationRequest{
			ProductId:   line.ProductId,
			WarehouseId: warehouseId,
			Qty:         line.Qty,
			DemandRef:   demandRef,
			Strategy:    strategy,
		})
		if err != nil {
			return nil, err
		}
		coverage := res.AllocatedQty.Div(line.Qty)
		out.Lines = append(out.Lines, LineCoverage{ProductId: line.ProductId, Result: res, Coverage: coverage})
		if coverage.LessThan(out.OverallCoverage) {
			out.OverallCoverage = coverage
		}
	}
	return out, nil
}
