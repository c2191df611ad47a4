package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SplitChildSpec describes one child LP carved out of a split.
type SplitChildSpec struct {
	Qty         decimal.Decimal `json:"qty" validate:"required"`
	LocationId  int             `json:"location_id"`
	BatchNumber string          `json:"batch_number" validate:"max=100"`
}

// SplitLP divides an LP's full remaining quantity across two or more child
// LPs. The child quantities must sum exactly to the source quantity; the
// source ends Consumed at quantity zero and one Split genealogy link records
// the lineage.
func SplitLP(ctx context.Context, lpId int, childSpecs []SplitChildSpec, reference string) ([]*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if len(childSpecs) < 2 {
		return nil, utils.NewDomainError(utils.CodeValidation, "split needs at least two children")
	}
	total := decimal.Zero
	for i, spec := range childSpecs {
		if !spec.Qty.IsPositive() {
			return nil, utils.NewDomainError(utils.CodeValidation, "child %d quantity must be positive", i)
		}
		total = total.Add(spec.Qty)
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var children []*models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := models.GetLicensePlateForUpdate(tx, orgId, lpId)
		if err != nil {
			return err
		}
		if err := source.EnsureOperable(false); err != nil {
			return err
		}
		if !total.Equal(source.Quantity) {
			return utils.NewDomainError(utils.CodeValidation,
				"child quantities sum to %s but lp %s holds %s", total, source.LpNumber, source.Quantity)
		}
		now := time.Now().UTC()
		if err := ensureNoActiveReservations(tx, orgId, source, now); err != nil {
			return err
		}
		oldSource := *source
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          source.ID,
			MoveType:      models.MoveTypeSplitOut,
			QtyDelta:      source.Quantity.Neg(),
			CurrentQty:    source.Quantity,
			Reference:     reference,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}

		sourceQty := source.Quantity
		source.Quantity = decimal.Zero
		source.Status = models.LPStatusConsumed
		if err := models.SaveLicensePlate(tx, source); err != nil {
			return err
		}

		targets := make([]models.LinkEndpoint, 0, len(childSpecs))
		children = children[:0]
		for _, spec := range childSpecs {
			number, err := models.NextLpNumber(tx, orgId)
			if err != nil {
				return err
			}
			locationId := spec.LocationId
			if locationId == 0 {
				locationId = source.LocationId
			}
			batch := spec.BatchNumber
			if batch == "" {
				batch = source.BatchNumber
			}
			child := &models.LicensePlate{
				OrgId:       orgId,
				LpNumber:    number,
				ProductId:   source.ProductId,
				BatchNumber: batch,
				Quantity:    spec.Qty,
				Uom:         source.Uom,
				WarehouseId: source.WarehouseId,
				LocationId:  locationId,
				Status:      models.LPStatusAvailable,
				QaStatus:    source.QaStatus,
				SourceKind:  models.SourceKindSplit,
				ReceivedAt:  source.ReceivedAt,
				ExpiryDate:  source.ExpiryDate,
			}
			if err := tx.Create(child).Error; err != nil {
				return err
			}
			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          child.ID,
				MoveType:      models.MoveTypeSplitIn,
				QtyDelta:      spec.Qty,
				CurrentQty:    decimal.Zero,
				Reference:     reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, child.ID, models.AuditActionCreate, child, nil); err != nil {
				return err
			}
			children = append(children, child)
			targets = append(targets, models.LinkEndpoint{LpId: child.ID, Qty: spec.Qty})
		}

		if _, err := models.AddGenealogyLink(tx, orgId, models.LinkRelationSplit,
			[]models.LinkEndpoint{{LpId: source.ID, Qty: sourceQty}}, targets, reference); err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, source.ID, models.AuditActionUpdate, source, &oldSource)
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// MergeSpec describes the merge target. TargetLpId > 0 merges into an
// existing LP; otherwise a new LP is created.
type MergeSpec struct {
	TargetLpId  int              `json:"target_lp_id"`
	WarehouseId int              `json:"warehouse_id"`
	LocationId  int              `json:"location_id"`
	BatchNumber string           `json:"batch_number" validate:"max=100"`
	Quantity    *decimal.Decimal `json:"quantity"`
}

// MergeLPs drains two or more source LPs into one target. Contributions are
// the sources' full quantities and must sum to the target's gained quantity;
// one Merge genealogy link records the lineage.
func MergeLPs(ctx context.Context, lpIds []int, spec MergeSpec, reference string) (*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if len(lpIds) < 2 {
		return nil, utils.NewDomainError(utils.CodeValidation, "merge needs at least two source lps")
	}
	if len(utils.UniqueSlice(lpIds)) != len(lpIds) {
		return nil, utils.NewDomainError(utils.CodeValidation, "duplicate source lp")
	}
	for _, id := range lpIds {
		if spec.TargetLpId == id {
			return nil, utils.NewDomainError(utils.CodeValidation, "target lp cannot be one of the sources")
		}
	}

	lockIds := lpIds
	if spec.TargetLpId > 0 {
		lockIds = append(append([]int{}, lpIds...), spec.TargetLpId)
	}
	unlock, err := utils.LockLPs(ctx, orgId, lockIds...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	var target *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

		sources := make([]*models.LicensePlate, 0, len(lpIds))
		total := decimal.Zero
		for _, id := range lpIds {
			lp, err := models.GetLicensePlateForUpdate(tx, orgId, id)
			if err != nil {
				return err
			}
			if err := lp.EnsureOperable(false); err != nil {
				return err
			}
			if !lp.Quantity.IsPositive() {
				return utils.NewDomainError(utils.CodeInsufficientQuantity, "lp %s has nothing to merge", lp.LpNumber)
			}
			if err := ensureNoActiveReservations(tx, orgId, lp, now); err != nil {
				return err
			}
			sources = append(sources, lp)
			total = total.Add(lp.Quantity)
		}
		first := sources[0]
		for _, lp := range sources[1:] {
			if lp.ProductId != first.ProductId || lp.Uom != first.Uom {
				return utils.NewDomainError(utils.CodeValidation,
					"cannot merge different products or uoms (lp %s vs lp %s)", first.LpNumber, lp.LpNumber)
			}
		}
		if spec.Quantity != nil && !spec.Quantity.Equal(total) {
			return utils.NewDomainError(utils.CodeValidation,
				"target quantity %s does not match source contributions %s", spec.Quantity, total)
		}

		// Earliest receipt and expiry win: the merged unit inherits the most
		// conservative FIFO/FEFO position of its parts.
		receivedAt := first.ReceivedAt
		expiry := first.ExpiryDate
		for _, lp := range sources[1:] {
			if lp.ReceivedAt.Before(receivedAt) {
				receivedAt = lp.ReceivedAt
			}
			if lp.ExpiryDate != nil && (expiry == nil || lp.ExpiryDate.Before(*expiry)) {
				expiry = lp.ExpiryDate
			}
		}

		endpoints := make([]models.LinkEndpoint, 0, len(sources))
		for _, lp := range sources {
			contribution := lp.Quantity
			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          lp.ID,
				MoveType:      models.MoveTypeMergeOut,
				QtyDelta:      contribution.Neg(),
				CurrentQty:    lp.Quantity,
				Reference:     reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			old := *lp
			lp.Quantity = decimal.Zero
			lp.Status = models.LPStatusConsumed
			if err := models.SaveLicensePlate(tx, lp); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old); err != nil {
				return err
			}
			endpoints = append(endpoints, models.LinkEndpoint{LpId: lp.ID, Qty: contribution})
		}

		if spec.TargetLpId > 0 {
			var err error
			target, err = models.GetLicensePlateForUpdate(tx, orgId, spec.TargetLpId)
			if err != nil {
				return err
			}
			if err := target.EnsureOperable(false); err != nil {
				return err
			}
			if target.ProductId != first.ProductId || target.Uom != first.Uom {
				return utils.NewDomainError(utils.CodeValidation, "target lp %s holds a different product", target.LpNumber)
			}
			oldTarget := *target
			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          target.ID,
				MoveType:      models.MoveTypeMergeIn,
				QtyDelta:      total,
				CurrentQty:    target.Quantity,
				Reference:     reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			target.Quantity = target.Quantity.Add(total)
			if err := models.SaveLicensePlate(tx, target); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, target.ID, models.AuditActionUpdate, target, &oldTarget); err != nil {
				return err
			}
		} else {
			warehouseId := spec.WarehouseId
			if warehouseId == 0 {
				warehouseId = first.WarehouseId
			}
			batch := spec.BatchNumber
			if batch == "" {
				batch = first.BatchNumber
			}
			number, err := models.NextLpNumber(tx, orgId)
			if err != nil {
				return err
			}
			target = &models.LicensePlate{
				OrgId:       orgId,
				LpNumber:    number,
				ProductId:   first.ProductId,
				BatchNumber: batch,
				Quantity:    total,
				Uom:         first.Uom,
				WarehouseId: warehouseId,
				LocationId:  spec.LocationId,
				Status:      models.LPStatusAvailable,
				QaStatus:    first.QaStatus,
				SourceKind:  models.SourceKindMerge,
				ReceivedAt:  receivedAt,
				ExpiryDate:  expiry,
			}
			if err := tx.Create(target).Error; err != nil {
				return err
			}
			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          target.ID,
				MoveType:      models.MoveTypeMergeIn,
				QtyDelta:      total,
				CurrentQty:    decimal.Zero,
				Reference:     reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, target.ID, models.AuditActionCreate, target, nil); err != nil {
				return err
			}
		}

		_, err := models.AddGenealogyLink(tx, orgId, models.LinkRelationMerge,
			endpoints, []models.LinkEndpoint{{LpId: target.ID, Qty: total}}, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// ensureNoActiveReservations keeps destructive restructuring (split/merge)
// away from quantity another demand already counts on.
func ensureNoActiveReservations(tx *gorm.DB, orgId string, lp *models.LicensePlate, now time.Time) error {
	reserved, err := models.ActiveReservedQty(tx, orgId, lp.ID, now)
	if err != nil {
		return err
	}
	if reserved.IsPositive() {
		return utils.NewDomainError(utils.CodeOverReservation,
			fmt.Sprintf("lp %s carries %s reserved quantity; release first", lp.LpNumber, reserved))
	}
	return nil
}
