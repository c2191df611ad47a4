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

// ReserveInput earmarks quantity on one LP for a demand.
type ReserveInput struct {
	LpId      int             `json:"lp_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty" validate:"required"`
	DemandRef string          `json:"demand_ref" validate:"required,max=100"`
	// Override permits reserving beyond the unreserved balance (supervisor
	// action, e.g. counting stock known to arrive).
	Override bool                      `json:"override"`
	Strategy models.AllocationStrategy `json:"strategy" validate:"omitempty,oneof=FIFO FEFO"`
}

// ReserveLP places one reservation. Available quantity is the LP quantity
// minus the sum of its active reservations, both read under the LP lock, so
// two racing callers can never double-book the same units.
func ReserveLP(ctx context.Context, input *ReserveInput) (*models.Reservation, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, utils.NewDomainError(utils.CodeValidation, "reservation quantity must be positive")
	}

	unlock, err := utils.LockLPs(ctx, orgId, input.LpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	now := time.Now().UTC()
	var reservation *models.Reservation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lp, err := models.GetLicensePlateForUpdate(tx, orgId, input.LpId)
		if err != nil {
			return err
		}
		if err := lp.EnsureOperable(false); err != nil {
			return err
		}
		reserved, err := models.ActiveReservedQty(tx, orgId, lp.ID, now)
		if err != nil {
			return err
		}
		available := lp.Quantity.Sub(reserved)
		if input.Qty.GreaterThan(available) && !input.Override {
			return utils.NewDomainError(utils.CodeOverReservation,
				"lp %s has %s available (%s reserved of %s), cannot reserve %s",
				lp.LpNumber, available, reserved, lp.Quantity, input.Qty)
		}

		strategy := input.Strategy
		if strategy == "" {
			strategy = models.StrategyFIFO
		}
		reservation = &models.Reservation{
			OrgId:       orgId,
			LpId:        lp.ID,
			DemandRef:   input.DemandRef,
			ReservedQty: input.Qty,
			Strategy:    strategy,
			Override:    input.Override,
			ExpiresAt:   now.Add(config.ReservationUndoWindow()),
		}
		if err := tx.Create(reservation).Error; err != nil {
			return err
		}
		// Zero delta: reservations earmark, they do not move stock. The entry
		// still lands in the LP's history.
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          lp.ID,
			MoveType:      models.MoveTypeReserve,
			QtyDelta:      decimal.Zero,
			CurrentQty:    lp.Quantity,
			Reference:     input.DemandRef,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}

		old := *lp
		if lp.Status == models.LPStatusAvailable {
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
		return nil, err
	}
	return reservation, nil
}

// ReleaseReservation releases one reservation. Releasing an already released
// reservation is a no-op. When the LP has meanwhile reached a terminal state
// the release is refused unless the caller acknowledges it, so operators
// notice demand that silently lost its stock.
func ReleaseReservation(ctx context.Context, reservationId int, ackTerminal bool) (*models.Reservation, error) {
	orgId, actorId, actorName, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	r, err := models.GetReservation(ctx, orgId, reservationId)
	if err != nil {
		return nil, err
	}
	if r.ReleasedAt != nil {
		return r, nil
	}

	unlock, err := utils.LockLPs(ctx, orgId, r.LpId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	db := config.GetDB()
	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read under the lock; a racing release may have won.
		if err := tx.Where("org_id = ? AND id = ?", orgId, reservationId).First(r).Error; err != nil {
			return err
		}
		if r.ReleasedAt != nil {
			return nil
		}
		lp, err := models.GetLicensePlateForUpdate(tx, orgId, r.LpId)
		if err != nil {
			return err
		}
		if lp.Status.IsTerminal() && !ackTerminal {
			return utils.NewDomainError(utils.CodeReservationLocked,
				"lp %s is %s; acknowledge to release reservation %d", lp.LpNumber, lp.Status.Describe(), r.ID)
		}

		old := *r
		if err := tx.Model(&models.Reservation{}).
			Where("org_id = ? AND id = ?", orgId, r.ID).
			Update("released_at", &now).Error; err != nil {
			return err
		}
		r.ReleasedAt = &now

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, _, err := models.AppendStockMove(tx, &models.StockMoveInput{
			OrgId:         orgId,
			LpId:          lp.ID,
			MoveType:      models.MoveTypeRelease,
			QtyDelta:      decimal.Zero,
			CurrentQty:    lp.Quantity,
			Reference:     r.DemandRef,
			ActorId:       actorId,
			ActorName:     actorName,
			CorrelationId: correlationId,
		}); err != nil {
			return err
		}

		if !lp.Status.IsTerminal() {
			remaining, err := models.ActiveReservedQty(tx, orgId, lp.ID, now)
			if err != nil {
				return err
			}
			if remaining.IsZero() && lp.Status == models.LPStatusReserved {
				oldLp := *lp
				lp.Status = models.LPStatusAvailable
				if err := models.SaveLicensePlate(tx, lp); err != nil {
					return err
				}
				if err := models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &oldLp); err != nil {
					return err
				}
			}
		}
		return models.PublishAudit(ctx, tx, orgId, entityReservation, r.ID, models.AuditActionUpdate, r, &old)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SweepExpiredReservations flips LPs whose reservations have all expired back
// to Available. Expired reservations already stop counting against
// availability; the sweep only tidies the cached status so listings stay
// truthful. Run it periodically (see cmd/reservation-sweeper).
func SweepExpiredReservations(ctx context.Context) (int, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return 0, err
	}

	db := config.GetDB()
	now := time.Now().UTC()

	var lpIds []int
	err = db.WithContext(ctx).Model(&models.LicensePlate{}).
		Where("org_id = ? AND status = ?", orgId, models.LPStatusReserved).
		Where("NOT EXISTS (SELECT 1 FROM reservations r WHERE r.org_id = license_plates.org_id AND r.lp_id = license_plates.id AND r.released_at IS NULL AND r.expires_at > ?)", now).
		Pluck("id", &lpIds).Error
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, lpId := range lpIds {
		err := func() error {
			unlock, err := utils.LockLPs(ctx, orgId, lpId)
			if err != nil {
				return err
			}
			defer unlock()
			return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				lp, err := models.GetLicensePlateForUpdate(tx, orgId, lpId)
				if err != nil {
					return err
				}
				if lp.Status != models.LPStatusReserved {
					return nil
				}
				active, err := models.ActiveReservedQty(tx, orgId, lp.ID, time.Now().UTC())
				if err != nil {
					return err
				}
				if active.IsPositive() {
					return nil
				}
				old := *lp
				lp.Status = models.LPStatusAvailable
				if err := models.SaveLicensePlate(tx, lp); err != nil {
					return err
				}
				swept++
				return models.PublishAudit(ctx, tx, orgId, entityLicensePlate, lp.ID, models.AuditActionUpdate, lp, &old)
			})
		}()
		if err != nil {
			return swept, err
		}
	}
	return swept, nil
}
