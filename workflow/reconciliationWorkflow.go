package workflow

import (
	"context"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/shopspring/decimal"
)

// LedgerDrift is one LP whose cached quantity disagrees with its replayed
// ledger history. Any drift means a bug or manual database surgery; the
// ledger total is authoritative.
type LedgerDrift struct {
	LpId      int             `json:"lp_id"`
	LpNumber  string          `json:"lp_number"`
	CachedQty decimal.Decimal `json:"cached_qty"`
	LedgerQty decimal.Decimal `json:"ledger_qty"`
	Diff      decimal.Decimal `json:"diff"`
}

// ReconcileLedger replays every LP's delta history and reports rows where the
// cached quantity drifted. Read-only; fixing drift is a deliberate manual
// step, not something a batch job should do silently.
func ReconcileLedger(ctx context.Context) ([]LedgerDrift, int, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, 0, err
	}

	db := config.GetDB()
	type row struct {
		Id        int
		LpNumber  string
		CachedQty decimal.Decimal
		LedgerQty decimal.NullDecimal
	}
	var rows []row
	err = db.WithContext(ctx).Model(&models.LicensePlate{}).
		Joins("LEFT JOIN stock_moves sm ON sm.org_id = license_plates.org_id AND sm.lp_id = license_plates.id").
		Where("license_plates.org_id = ?", orgId).
		Select("license_plates.id AS id, license_plates.lp_number AS lp_number, license_plates.quantity AS cached_qty, SUM(sm.qty_delta) AS ledger_qty").
		Group("license_plates.id, license_plates.lp_number, license_plates.quantity").
		Order("license_plates.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	var drifts []LedgerDrift
	for _, r := range rows {
		ledger := decimal.Zero
		if r.LedgerQty.Valid {
			ledger = r.LedgerQty.Decimal
		}
		if r.CachedQty.Equal(ledger) {
			continue
		}
		drifts = append(drifts, LedgerDrift{
			LpId:      r.Id,
			LpNumber:  r.LpNumber,
			CachedQty: r.CachedQty,
			LedgerQty: ledger,
			Diff:      r.CachedQty.Sub(ledger),
		})
	}
	return drifts, len(rows), nil
}
