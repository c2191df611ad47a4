package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reservation earmarks quantity on one LP against a demand reference.
// A reservation is active while released_at is NULL and expires_at is in the
// future; expired reservations stop counting against availability without a
// blocking cleanup step.
type Reservation struct {
	ID          int                `gorm:"primary_key" json:"id"`
	OrgId       string             `gorm:"size:64;not null;index;index:idx_rsv_org_lp,priority:1" json:"org_id"`
	LpId        int                `gorm:"not null;index:idx_rsv_org_lp,priority:2" json:"lp_id"`
	DemandRef   string             `gorm:"size:100;not null;index" json:"demand_ref"`
	ReservedQty decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"reserved_qty"`
	Strategy    AllocationStrategy `gorm:"type:varchar(4);default:'FIFO'" json:"strategy"`
	Override    bool               `gorm:"not null;default:false" json:"override"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt   time.Time          `gorm:"index;not null" json:"expires_at"`
	ReleasedAt  *time.Time         `gorm:"index" json:"released_at"`
}

func (r *Reservation) IsActive(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

// Backorder records the shortfall when allocation cannot fully satisfy
// demand. It is a first-class outcome, not an error.
type Backorder struct {
	ID           int             `gorm:"primary_key" json:"id"`
	OrgId        string          `gorm:"size:64;not null;index" json:"org_id"`
	DemandRef    string          `gorm:"size:100;not null;index" json:"demand_ref"`
	ProductId    int             `gorm:"index;not null" json:"product_id"`
	ShortfallQty decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"shortfall_qty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt   *time.Time      `gorm:"index" json:"resolved_at"`
}

func GetReservation(ctx context.Context, orgId string, id int) (*Reservation, error) {
	db := config.GetDB()
	var r Reservation
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.NewDomainError(utils.CodeNotFound, "reservation %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ActiveReservedQty sums active reservations on one LP inside tx. Must be
// called under the LP's lock when the result feeds an allocation decision.
func ActiveReservedQty(tx *gorm.DB, orgId string, lpId int, now time.Time) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := tx.Model(&Reservation{}).
		Where("org_id = ? AND lp_id = ? AND released_at IS NULL AND expires_at > ?", orgId, lpId, now).
		Select("SUM(reserved_qty)").
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// ActiveReservations lists unexpired, unreleased reservations on an LP.
func ActiveReservations(tx *gorm.DB, orgId string, lpId int, now time.Time) ([]*Reservation, error) {
	var rs []*Reservation
	err := tx.
		Where("org_id = ? AND lp_id = ? AND released_at IS NULL AND expires_at > ?", orgId, lpId, now).
		Order("id ASC").
		Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}
