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

// ConsumeInput is one LP drawn down by a consumption.
type ConsumeInput struct {
	LpId int             `json:"lp_id" validate:"required,gt=0"`
	Qty  decimal.Decimal `json:"qty" validate:"required"`
	// Override permits drawing into actively reserved quantity (supervisor
	// action). The override is recorded on the ledger entry's reason.
	Override bool `json:"override"`
}

// OutputSpec describes the LP a consumption produces. Output quantity is
// independent of the input quantities: yield loss and gain are both normal.
type OutputSpec struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty" validate:"required"`
	Uom         string          `json:"uom" validate:"required,max=20"`
	WarehouseId int             `json:"warehouse_id" validate:"required,gt=0"`
	LocationId  int             `json:"location_id"`
	BatchNumber string          `json:"batch_number" validate:"max=100"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

// ConsumeLPs draws quantity from one or more input LPs and produces one
// output LP, recording the lineage as a single Consume genealogy link.
// Inputs drained to zero become Consumed; partial draws stay Available.
func ConsumeLPs(ctx context.Context, inputs []ConsumeInput, output OutputSpec, reference string) (*models.LicensePlate, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, utils.NewDomainError(utils.CodeValidation, "consumption needs at least one input lp")
	}
	lpIds := make([]int, 0, len(inputs))
	for i, in := range inputs {
		if !in.Qty.IsPositive() {
			return nil, utils.NewDomainError(utils.CodeValidation, "input %d quantity must be positive", i)
		}
		lpIds = append(lpIds, in.LpId)
	}
	if len(utils.UniqueSlice(lpIds)) != len(lpIds) {
		return nil, utils.NewDomainError(utils.CodeValidation, "duplicate input lp")
	}
	if err := utils.ValidateStruct(&output); err != nil {
		return nil, err
	}
	if !output.Qty.IsPositive() {
		return nil, utils.NewDomainError(utils.CodeValidation, "output quantity must be positive")
	}
	if err := models.ValidateActiveProduct(ctx, orgId, output.ProductId); err != nil {
		return nil, err
	}
	if err := models.ValidateWarehouse(ctx, orgId, output.WarehouseId); err != nil {
		return nil, err
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpIds...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	now := time.Now().UTC()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	var outputLp *models.LicensePlate
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sources := make([]models.LinkEndpoint, 0, len(inputs))
		for _, in := range inputs {
			lp, err := models.GetLicensePlateForUpdate(tx, orgId, in.LpId)
			if err != nil {
				return err
			}
			if err := lp.EnsureOperable(false); err != nil {
				return err
			}
			if in.Qty.GreaterThan(lp.Quantity) {
				return utils.NewDomainError(utils.CodeInsufficientQuantity,
					"lp %s holds %s, cannot consume %s", lp.LpNumber, lp.Quantity, in.Qty)
			}
			remaining := lp.Quantity.Sub(in.Qty)
			reserved, err := models.ActiveReservedQty(tx, orgId, lp.ID, now)
			if err != nil {
				return err
			}
			reason := ""
			if remaining.LessThan(reserved) {
				if !in.Override {
					return utils.NewDomainError(utils.CodeOverReservation,
						"consuming %s from lp %s would leave %s against %s reserved", in.Qty, lp.LpNumber, remaining, reserved)
				}
				reason = fmt.Sprintf("override: consumed into %s reserved", reserved)
			}

			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          lp.ID,
				MoveType:      models.MoveTypeConsume,
				QtyDelta:      in.Qty.Neg(),
				CurrentQty:    lp.Quantity,
				Reason:        reason,
				Reference:     reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			old := *lp
			lp.Quantity = remaining
			if remaining.IsZero() {
				lp.Status = models.LPStatusConsumed
			}
			if err := models.SaveLicensePlate(tx, lp); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old); err != nil {
				return err
			}
			sources = append(sources, models.LinkEndpoint{LpId: lp.ID, Qty: in.Qty})
		}

		number, err := models.NextLpNumber(tx, orgId)
		if err != nil {
			return err
		}
		outputLp = &models.LicensePlate{
			OrgId:       orgId,
			LpNumber:    number,
			ProductId:   output.ProductId,
			BatchNumber: output.BatchNumber,
			Quantity:    output.Qty,
			Uom:         output.Uom,
			WarehouseId: output.WarehouseId,
			LocationId:  output.LocationId,
			Status:      models.LPStatusAvailable,
			QaStatus:    models.QAStatusPending,
			SourceKind:  models.SourceKindOutput,
			ReceivedAt:  now,
			ExpiryDate:  output.ExpiryDate,
		}
		if err := tx.Create(outputLp).Error; err != nil {
			return err
		}
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          outputLp.ID,
			MoveType:      models.MoveTypeOutput,
			QtyDelta:      output.Qty,
			CurrentQty:    decimal.Zero,
			Reference:     reference,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}
		if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, outputLp.ID, models.AuditActionCreate, outputLp, nil); err != nil {
			return err
		}

		_, err = models.AddGenealogyLink(tx, orgId, models.LinkRelationConsume,
			sources, []models.LinkEndpoint{{LpId: outputLp.ID, Qty: output.Qty}}, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outputLp, nil
}

// ReverseConsumption undoes a Consume link while its output is still
// untouched: the output LP must hold exactly the produced quantity, carry no
// active reservations and appear in no later links. Inputs get their drawn
// quantity back through adjustment entries; the link is flagged reversed, not
// deleted.
func ReverseConsumption(ctx context.Context, linkId int, reason string) error {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return err
	}

	db := config.GetDB()

	// Resolve the participant set first so the locks can be taken before the
	// transaction opens.
	var entries []models.GenealogyLinkEntry
	if err := db.WithContext(ctx).
		Where("org_id = ? AND link_id = ?", orgId, linkId).
		Order("position ASC").
		Find(&entries).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return utils.NewDomainError(utils.CodeNotFound, "genealogy link %d not found", linkId)
	}
	lpIds := make([]int, 0, len(entries))
	for _, e := range entries {
		lpIds = append(lpIds, e.LpId)
	}

	unlock, err := utils.LockLPs(ctx, orgId, lpIds...)
	if err != nil {
		return err
	}
	defer unlock()

	now := time.Now().UTC()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link models.GenealogyLink
		err := tx.Where("org_id = ? AND id = ?", orgId, linkId).First(&link).Error
		if err == gorm.ErrRecordNotFound {
			return utils.NewDomainError(utils.CodeNotFound, "genealogy link %d not found", linkId)
		}
		if err != nil {
			return err
		}
		if link.Relation != models.LinkRelationConsume {
			return utils.NewDomainError(utils.CodeValidation, "link %d is not a consumption", linkId)
		}
		if link.Reversed {
			return nil
		}

		var outputs, inputs []models.GenealogyLinkEntry
		for _, e := range entries {
			if e.Role == models.LinkRoleTarget {
				outputs = append(outputs, e)
			} else {
				inputs = append(inputs, e)
			}
		}

		for _, out := range outputs {
			lp, err := models.GetLicensePlateForUpdate(tx, orgId, out.LpId)
			if err != nil {
				return err
			}
			if lp.Status.IsTerminal() {
				return utils.NewDomainError(utils.CodeLPTerminal,
					"output lp %s is %s, consumption cannot be reversed", lp.LpNumber, lp.Status.Describe())
			}
			if !lp.Quantity.Equal(out.Qty) {
				return utils.NewDomainError(utils.CodeValidation,
					"output lp %s was adjusted after production (%s vs %s)", lp.LpNumber, lp.Quantity, out.Qty)
			}
			if err := ensureNoActiveReservations(tx, orgId, lp, now); err != nil {
				return err
			}
			var downstream int64
			if err := tx.Model(&models.GenealogyLinkEntry{}).
				Where("org_id = ? AND lp_id = ? AND role = ? AND link_id <> ?",
					orgId, lp.ID, models.LinkRoleSource, linkId).
				Count(&downstream).Error; err != nil {
				return err
			}
			if downstream > 0 {
				return utils.NewDomainError(utils.CodeValidation,
					"output lp %s already feeds later links", lp.LpNumber)
			}

			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          lp.ID,
				MoveType:      models.MoveTypeAdjustment,
				QtyDelta:      lp.Quantity.Neg(),
				CurrentQty:    lp.Quantity,
				Reason:        reason,
				Reference:     link.Reference,
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
		}

		for _, in := range inputs {
			lp, err := models.GetLicensePlateForUpdate(tx, orgId, in.LpId)
			if err != nil {
				return err
			}
			if lp.Status == models.LPStatusShipped {
				return utils.NewDomainError(utils.CodeLPTerminal,
					"input lp %s was shipped, consumption cannot be reversed", lp.LpNumber)
			}
			if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
				OrgId:         orgId,
				LpId:          lp.ID,
				MoveType:      models.MoveTypeAdjustment,
				QtyDelta:      in.Qty,
				CurrentQty:    lp.Quantity,
				Reason:        reason,
				Reference:     link.Reference,
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
			old := *lp
			lp.Quantity = lp.Quantity.Add(in.Qty)
			if lp.Status == models.LPStatusConsumed {
				lp.Status = models.LPStatusAvailable
			}
			if err := models.SaveLicensePlate(tx, lp); err != nil {
				return err
			}
			if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old); err != nil {
				return err
			}
		}

		reversed, err := models.ReverseGenealogyLink(tx, orgId, linkId, reason)
		if err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityGenealogyLink, reversed.ID, models.AuditActionUpdate, reversed, &link)
	})
}
