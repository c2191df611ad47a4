package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// errReceiptReplayed aborts a receive transaction that lost the race against
// a concurrent call with the same idempotency key.
var errReceiptReplayed = errors.New("receipt already recorded")

// ReceiveLP creates a license plate from a receipt (or putaway of received
// goods). Retried calls with the same idempotency key return the LP the
// first call created.
func ReceiveLP(ctx context.Context, input *models.NewLicensePlate) (*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, utils.NewDomainError(utils.CodeValidation, "quantity must be positive")
	}
	if err := models.ValidateActiveProduct(ctx, orgId, input.ProductId); err != nil {
		return nil, err
	}
	if err := models.ValidateWarehouse(ctx, orgId, input.WarehouseId); err != nil {
		return nil, err
	}
	if err := models.ValidateLocation(ctx, orgId, input.LocationId, input.WarehouseId); err != nil {
		return nil, err
	}

	db := config.GetDB()

	// Replay fast path before creating anything. Races slip through here;
	// the ledger's unique key inside the transaction is the real gate.
	if input.IdempotencyKey != "" {
		var prior models.StockMove
		err := db.WithContext(ctx).
			Where("org_id = ? AND idempotency_key = ?", orgId, input.IdempotencyKey).
			First(&prior).Error
		if err == nil {
			return models.GetLicensePlate(ctx, orgId, prior.LpId)
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	receivedAt := time.Now().UTC()
	if input.ReceivedAt != nil {
		receivedAt = input.ReceivedAt.UTC()
	}
	expiry := input.ExpiryDate
	if expiry == nil {
		product, perr := models.GetProduct(ctx, orgId, input.ProductId)
		if perr != nil {
			return nil, perr
		}
		if product.ShelfLifeDays > 0 {
			e := receivedAt.AddDate(0, 0, product.ShelfLifeDays)
			expiry = &e
		}
	}

	qaStatus := input.QaStatus
	if qaStatus == "" {
		qaStatus = models.QAStatusPending
	}
	sourceKind := input.SourceKind
	if sourceKind == "" {
		sourceKind = models.SourceKindReceipt
	}

	var lp *models.LicensePlate
	var replayLpId int
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := models.NextLpNumber(tx, orgId)
		if err != nil {
			return err
		}
		lp = &models.LicensePlate{
			OrgId:       orgId,
			LpNumber:    number,
			ProductId:   input.ProductId,
			BatchNumber: input.BatchNumber,
			Quantity:    input.Quantity,
			Uom:         input.Uom,
			WarehouseId: input.WarehouseId,
			LocationId:  input.LocationId,
			Status:      models.LPStatusAvailable,
			QaStatus:    qaStatus,
			SourceKind:  sourceKind,
			ReceivedAt:  receivedAt,
			ExpiryDate:  expiry,
		}
		if err := tx.Create(lp).Error; err != nil {
			return err
		}
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		mv, created, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:          orgId,
			LpId:           lp.ID,
			MoveType:       models.MoveTypeReceipt,
			QtyDelta:       input.Quantity,
			CurrentQty:     decimal.Zero,
			ActorId:        actorId,
			ActorName:      actorName,
			IdempotencyKey: input.IdempotencyKey,
			CorrelationId:  correlationId,
		})
		if err != nil {
			return err
		}
		if !created {
			// A concurrent call with the same key committed between the replay
			// check and this insert. Roll back our LP and hand back the winner's.
			replayLpId = mv.LpId
			return errReceiptReplayed
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionCreate, lp, nil)
	})
	if errors.Is(err, errReceiptReplayed) {
		return models.GetLicensePlate(ctx, orgId, replayLpId)
	}
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// MoveLP relocates an LP. Pure location change: the ledger entry carries a
// zero delta so history still replays to the same quantity.
func MoveLP(ctx context.Context, lpId int, newLocationId int, reason string) (*models.LicensePlate, error) {
	return relocateLP(ctx, lpId, newLocationId, reason, models.MoveTypeMove)
}

// PutawayLP is the first relocation after receipt, from the receiving dock to
// a storage location. Same mechanics as MoveLP under a dedicated ledger entry
// type so putaway throughput can be read straight off the ledger.
func PutawayLP(ctx context.Context, lpId int, newLocationId int, reason string) (*models.LicensePlate, error) {
	return relocateLP(ctx, lpId, newLocationId, reason, models.MoveTypePutaway)
}

func relocateLP(ctx context.Context, lpId int, newLocationId int, reason string, moveType models.MoveType) (*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var lp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lp, err = models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if err := lp.EnsureOperable(false); err != nil {
			return err
		}
		if err := models.ValidateLocation(ctx, orgId, newLocationId, lp.WarehouseId); err != nil {
			return err
		}
		old := *lp

		lp.LocationId = newLocationId
		if err := models.SaveLicensePlate(tx, lp); err != nil {
			return err
		}
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          lp.ID,
			MoveType:      moveType,
			QtyDelta:      decimal.Zero,
			CurrentQty:    lp.Quantity,
			Reason:        reason,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// BlockLP puts an available LP on QA hold.
func BlockLP(ctx context.Context, lpId int, reason string) (*models.LicensePlate, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var lp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lp, err = models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if lp.Status.IsTerminal() {
			return utils.NewDomainError(utils.CodeLPTerminal, "license plate %s is %s", lp.LpNumber, lp.Status.Describe())
		}
		if lp.Status == models.LPStatusBlocked {
			return nil // already on hold
		}
		if lp.Status != models.LPStatusAvailable {
			return utils.NewDomainError(utils.CodeValidation, "only available license plates can be blocked (lp %s is %s)", lp.LpNumber, lp.Status.Describe())
		}
		old := *lp

		lp.Status = models.LPStatusBlocked
		lp.BlockReason = reason
		if err := models.SaveLicensePlate(tx, lp); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// UnblockLP releases a QA hold. The one mutation permitted on a blocked LP.
func UnblockLP(ctx context.Context, lpId int, reason string) (*models.LicensePlate, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var lp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lp, err = models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if lp.Status.IsTerminal() {
			return utils.NewDomainError(utils.CodeLPTerminal, "license plate %s is %s", lp.LpNumber, lp.Status.Describe())
		}
		if lp.Status != models.LPStatusBlocked {
			return nil // not on hold, nothing to release
		}
		old := *lp

		lp.Status = models.LPStatusAvailable
		lp.BlockReason = ""
		if err := models.SaveLicensePlate(tx, lp); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// ShipLP marks an available/reserved LP shipped (terminal). Its quantity
// leaves the warehouse through a Ship ledger entry, and any still-active
// reservations are closed out.
func ShipLP(ctx context.Context, lpId int, reference string) (*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	now := time.Now().UTC()
	var lp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lp, err = models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if err := lp.EnsureOperable(false); err != nil {
			return err
		}
		old := *lp

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          lp.ID,
			MoveType:      models.MoveTypeShip,
			QtyDelta:      lp.Quantity.Neg(),
			CurrentQty:    lp.Quantity,
			Reference:     reference,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}

		// Close reservations the shipment fulfils.
		if err := tx.Model(&models.Reservation{}).
			Where("org_id = ? AND lp_id = ? AND released_at IS NULL", orgId, lp.ID).
			Update("released_at", &now).Error; err != nil {
			return err
		}

		lp.Quantity = decimal.Zero
		lp.Status = models.LPStatusShipped
		if err := models.SaveLicensePlate(tx, lp); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}

// SetQaStatus records a QA verdict. Terminal LPs keep their last verdict.
func SetQaStatus(ctx context.Context, lpId int, qaStatus models.QAStatus) (*models.LicensePlate, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	switch qaStatus {
	case models.QAStatusPending, models.QAStatusPassed, models.QAStatusFailed, models.QAStatusQuarantined:
	default:
		return nil, utils.NewDomainError(utils.CodeValidation, "invalid qa status %q", qaStatus)
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var lp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lp, err = models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if lp.Status.IsTerminal() {
			return utils.NewDomainError(utils.CodeLPTerminal, "license plate %s is %s", lp.LpNumber, lp.Status.Describe())
		}
		old := *lp
		lp.QaStatus = qaStatus
		if err := models.SaveLicensePlate(tx, lp); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
	})
	if err != nil {
		return nil, err
	}
	return lp, nil
}
