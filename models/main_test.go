package models

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testOrg = "org-model-1"

func setupModelTest(t *testing.T) (context.Context, *gorm.DB) {
	t.Helper()
	db := config.ConnectSqliteForTest()
	MigrateTable()
	ctx := utils.SetOrgIdInContext(context.Background(), testOrg)
	return ctx, db
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

// newLp inserts an LP row directly; model tests exercise the data layer
// without the workflow on top.
func newLp(t *testing.T, db *gorm.DB, number string, quantity string) *LicensePlate {
	t.Helper()
	lp := &LicensePlate{
		OrgId:       testOrg,
		LpNumber:    number,
		ProductId:   1,
		Quantity:    d(t, quantity),
		Uom:         "KG",
		WarehouseId: 1,
		Status:      LPStatusAvailable,
		QaStatus:    QAStatusPassed,
		SourceKind:  SourceKindReceipt,
		ReceivedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(lp).Error)
	return lp
}

func endpoint(lp *LicensePlate) LinkEndpoint {
	return LinkEndpoint{LpId: lp.ID, Qty: lp.Quantity}
}
