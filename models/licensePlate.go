package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LicensePlate is a uniquely identified, trackable quantity of a product/lot
// at a location. Quantity never goes negative; status follows the lifecycle
// state machine enforced by the workflow package.
type LicensePlate struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrgId       string          `gorm:"size:64;not null;index;index:uniq_lp_number,unique,priority:1" json:"org_id"`
	LpNumber    string          `gorm:"size:30;not null;index:uniq_lp_number,unique,priority:2" json:"lp_number"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	BatchNumber string          `gorm:"size:100;index" json:"batch_number"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Uom         string          `gorm:"size:20;not null" json:"uom"`
	WarehouseId int             `gorm:"index;not null" json:"warehouse_id"`
	LocationId  int             `gorm:"index" json:"location_id"`
	Status      LPStatus        `gorm:"type:varchar(1);default:'A';index" json:"status"`
	QaStatus    QAStatus        `gorm:"type:varchar(3);default:'PND'" json:"qa_status"`
	SourceKind  SourceKind      `gorm:"type:varchar(4);default:'RCPT'" json:"source_kind"`
	ReceivedAt  time.Time       `gorm:"index;not null" json:"received_at"`
	ExpiryDate  *time.Time      `gorm:"index" json:"expiry_date"`
	BlockReason string          `gorm:"size:255" json:"block_reason"`
	Version     int             `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewLicensePlate is the boundary input for receiving/creating an LP.
type NewLicensePlate struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	BatchNumber string          `json:"batch_number" validate:"max=100"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Uom         string          `json:"uom" validate:"required,max=20"`
	WarehouseId int             `json:"warehouse_id" validate:"required,gt=0"`
	LocationId  int             `json:"location_id"`
	QaStatus    QAStatus        `json:"qa_status" validate:"omitempty,oneof=PND PAS FLD QRN"`
	SourceKind  SourceKind      `json:"source_kind" validate:"omitempty,oneof=RCPT SPLT MRGE OUTP"`
	ReceivedAt  *time.Time      `json:"received_at"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	// IdempotencyKey lets callers retry a receipt safely.
	IdempotencyKey string `json:"idempotency_key" validate:"max=100"`
}

// forUpdate adds a row lock where the dialect supports it. sqlite (tests)
// serializes writers anyway.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func GetLicensePlate(ctx context.Context, orgId string, id int) (*LicensePlate, error) {
	db := config.GetDB()
	var lp LicensePlate
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&lp).Error
	if err == gorm.ErrRecordNotFound {
		// A row that exists under another org is a tenancy probe: logged, and
		// reported with a code that still reads as 404 at the boundary.
		var n int64
		skipCtx := utils.SetSkipTenantScopeInContext(context.Background(), true)
		db.WithContext(skipCtx).Model(&LicensePlate{}).Where("id = ?", id).Count(&n)
		if n > 0 {
			config.LogSecurityEvent(config.GetLogger(), "models", "GetLicensePlate", orgId,
				fmt.Sprintf("cross-org access attempt on license plate %d", id))
			return nil, utils.NewDomainError(utils.CodeCrossOrgAccess, "license plate %d not found", id)
		}
		return nil, utils.NewDomainError(utils.CodeNotFound, "license plate %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

// GetLicensePlateForUpdate loads the LP with a row lock inside tx.
// Callers must already hold the per-LP lock; the row lock is the storage-layer
// half of the mutual-exclusion scope.
func GetLicensePlateForUpdate(tx *gorm.DB, orgId string, id int) (*LicensePlate, error) {
	var lp LicensePlate
	err := forUpdate(tx).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&lp).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.NewDomainError(utils.CodeNotFound, "license plate %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

// EnsureOperable rejects mutations on blocked or terminal LPs.
// Unblock is the one operation allowed on a blocked LP.
func (lp *LicensePlate) EnsureOperable(allowBlocked bool) error {
	if lp.Status.IsTerminal() {
		return utils.NewDomainError(utils.CodeLPTerminal, "license plate %s is %s", lp.LpNumber, lp.Status.Describe())
	}
	if lp.Status == LPStatusBlocked && !allowBlocked {
		return utils.NewDomainError(utils.CodeLPBlocked, "license plate %s is blocked: %s", lp.LpNumber, lp.BlockReason)
	}
	return nil
}

func (lp *LicensePlate) IsExpired(now time.Time) bool {
	return lp.ExpiryDate != nil && !lp.ExpiryDate.After(now)
}

func (s LPStatus) Describe() string {
	switch s {
	case LPStatusAvailable:
		return "available"
	case LPStatusReserved:
		return "reserved"
	case LPStatusBlocked:
		return "blocked"
	case LPStatusConsumed:
		return "consumed"
	case LPStatusShipped:
		return "shipped"
	default:
		return string(s)
	}
}

// SaveLicensePlate persists LP mutations with an optimistic version bump.
// Combined with per-LP locks this is belt-and-braces; the version column also
// makes lost updates visible in reconciliation reports.
func SaveLicensePlate(tx *gorm.DB, lp *LicensePlate) error {
	res := tx.Model(&LicensePlate{}).
		Where("org_id = ? AND id = ? AND version = ?", lp.OrgId, lp.ID, lp.Version).
		Updates(map[string]interface{}{
			"quantity":     lp.Quantity,
			"status":       lp.Status,
			"qa_status":    lp.QaStatus,
			"location_id":  lp.LocationId,
			"warehouse_id": lp.WarehouseId,
			"block_reason": lp.BlockReason,
			"version":      lp.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("concurrent modification of license plate %d (version %d)", lp.ID, lp.Version)
	}
	lp.Version++
	return nil
}

// NextLpNumber issues the next org-scoped LP number ("LP-000042").
func NextLpNumber(tx *gorm.DB, orgId string) (string, error) {
	n, err := NextSequence(tx, orgId, "lp_number")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LP-%06d", n), nil
}

// OrgSequence is a per-org named counter (LP numbers, demand refs).
type OrgSequence struct {
	ID    int    `gorm:"primary_key" json:"id"`
	OrgId string `gorm:"size:64;not null;index:uniq_org_seq,unique,priority:1" json:"org_id"`
	Name  string `gorm:"size:50;not null;index:uniq_org_seq,unique,priority:2" json:"name"`
	Value int64  `gorm:"not null;default:0" json:"value"`
}

func NextSequence(tx *gorm.DB, orgId string, name string) (int64, error) {
	var seq OrgSequence
	err := forUpdate(tx).
		Where("org_id = ? AND name = ?", orgId, name).
		First(&seq).Error
	if err == gorm.ErrRecordNotFound {
		seq = OrgSequence{OrgId: orgId, Name: name, Value: 1}
		if err := tx.Create(&seq).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	seq.Value++
	if err := tx.Model(&OrgSequence{}).Where("id = ?", seq.ID).
		Update("value", seq.Value).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}
