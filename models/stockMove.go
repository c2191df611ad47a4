package models

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMove is one append-only ledger entry. Rows are never updated or
// deleted; replaying an LP's full delta history always reproduces its
// current quantity.
type StockMove struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrgId          string          `gorm:"size:64;not null;index;index:idx_sm_org_lp,priority:1;index:uniq_sm_idem,unique,priority:1" json:"org_id"`
	LpId           int             `gorm:"not null;index:idx_sm_org_lp,priority:2" json:"lp_id"`
	MoveType       MoveType        `gorm:"type:varchar(4);not null" json:"move_type"`
	QtyDelta       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	ResultingQty   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"resulting_qty"`
	Reason         string          `gorm:"size:255" json:"reason"`
	ActorId        int             `gorm:"not null" json:"actor_id"`
	ActorName      string          `gorm:"size:100" json:"actor_name"`
	Reference      string          `gorm:"size:100;index" json:"reference"`
	IdempotencyKey *string         `gorm:"size:100;index:uniq_sm_idem,unique,priority:2" json:"idempotency_key"`
	CorrelationId  string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// StockMoveInput is validated by the caller inside its per-LP lock scope;
// CurrentQty is the LP quantity read under that lock.
type StockMoveInput struct {
	OrgId          string
	LpId           int
	MoveType       MoveType
	QtyDelta       decimal.Decimal
	CurrentQty     decimal.Decimal
	Reason         string
	ActorId        int
	ActorName      string
	Reference      string
	IdempotencyKey string
	CorrelationId  string
}

// AppendStockMove writes one ledger entry. It rejects (no write) any entry
// whose resulting quantity would go negative. Repeated calls with the same
// idempotency key return the original row with created=false.
func AppendStockMove(tx *gorm.DB, input *StockMoveInput) (mv *StockMove, created bool, err error) {
	resulting := input.CurrentQty.Add(input.QtyDelta)
	if resulting.IsNegative() {
		return nil, false, utils.NewDomainError(utils.CodeInsufficientQuantity,
			"move %s of %s on lp %d would leave %s", input.MoveType, input.QtyDelta, input.LpId, resulting)
	}

	record := StockMove{
		OrgId:         input.OrgId,
		LpId:          input.LpId,
		MoveType:      input.MoveType,
		QtyDelta:      input.QtyDelta,
		ResultingQty:  resulting,
		Reason:        input.Reason,
		ActorId:       input.ActorId,
		ActorName:     input.ActorName,
		Reference:     input.Reference,
		CorrelationId: input.CorrelationId,
	}
	if k := strings.TrimSpace(input.IdempotencyKey); k != "" {
		record.IdempotencyKey = &k
	}

	if err := tx.Create(&record).Error; err != nil {
		if record.IdempotencyKey != nil && IsDuplicateKeyErr(err) {
			// Retried call: hand back the entry the first attempt wrote.
			var existing StockMove
			ferr := tx.Where("org_id = ? AND idempotency_key = ?", input.OrgId, *record.IdempotencyKey).
				First(&existing).Error
			if ferr != nil {
				return nil, false, ferr
			}
			return &existing, false, nil
		}
		return nil, false, err
	}
	return &record, true, nil
}

// IsDuplicateKeyErr detects unique-constraint violations for both the MySQL
// driver and the sqlite driver used in tests.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// StockMoveHistory returns the forward-ordered history page starting after
// afterId (keyset pagination, restartable at any point).
func StockMoveHistory(ctx context.Context, orgId string, lpId int, afterId int, limit int) ([]*StockMove, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB()
	var moves []*StockMove
	err := db.WithContext(ctx).
		Where("org_id = ? AND lp_id = ? AND id > ?", orgId, lpId, afterId).
		Order("id ASC").
		Limit(limit).
		Find(&moves).Error
	if err != nil {
		return nil, err
	}
	return moves, nil
}

// StockMoveHistoryDesc is the newest-first page used by the exposed history API.
func StockMoveHistoryDesc(ctx context.Context, orgId string, lpId int, beforeId int, limit int) ([]*StockMove, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB()
	q := db.WithContext(ctx).
		Where("org_id = ? AND lp_id = ?", orgId, lpId)
	if beforeId > 0 {
		q = q.Where("id < ?", beforeId)
	}
	var moves []*StockMove
	if err := q.Order("id DESC").Limit(limit).Find(&moves).Error; err != nil {
		return nil, err
	}
	return moves, nil
}

// ReconcileQuantity recomputes an LP's quantity from its full delta history.
// The result must always equal the cached LicensePlate.Quantity.
func ReconcileQuantity(ctx context.Context, orgId string, lpId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var sum decimal.NullDecimal
	err := db.WithContext(ctx).Model(&StockMove{}).
		Where("org_id = ? AND lp_id = ?", orgId, lpId).
		Select("SUM(qty_delta)").
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
