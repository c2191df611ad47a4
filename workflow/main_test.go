package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testOrg      = "org-test-1"
	otherOrg     = "org-test-2"
	productOne   = 1
	productTwo   = 2
	warehouseOne = 1
	locationOne  = 1
	locationTwo  = 2
)

// setupTest gives each test a fresh in-memory database with master data for
// two orgs and returns a context scoped to testOrg.
func setupTest(t *testing.T) context.Context {
	t.Helper()
	config.ConnectSqliteForTest()
	models.MigrateTable()
	seedMasterData(t, testOrg)
	seedMasterData(t, otherOrg)

	ctx := utils.SetOrgIdInContext(context.Background(), testOrg)
	ctx = utils.SetUserIdInContext(ctx, 7)
	ctx = utils.SetUserNameInContext(ctx, "tester")
	return ctx
}

func seedMasterData(t *testing.T, orgId string) {
	t.Helper()
	db := config.GetDB()
	require.NoError(t, db.Create(&models.Product{
		OrgId: orgId, Sku: "FLOUR-25", Name: "Flour 25kg", Uom: "KG", IsActive: utils.NewTrue(),
	}).Error)
	require.NoError(t, db.Create(&models.Product{
		OrgId: orgId, Sku: "DOUGH-1", Name: "Dough", Uom: "KG", ShelfLifeDays: 30, IsActive: utils.NewTrue(),
	}).Error)
	require.NoError(t, db.Create(&models.Warehouse{
		OrgId: orgId, Name: "Main", IsActive: utils.NewTrue(),
	}).Error)
	require.NoError(t, db.Create(&models.Location{
		OrgId: orgId, WarehouseId: warehouseOne, Code: "A-01", IsActive: utils.NewTrue(),
	}).Error)
	require.NoError(t, db.Create(&models.Location{
		OrgId: orgId, WarehouseId: warehouseOne, Code: "A-02", IsActive: utils.NewTrue(),
	}).Error)
}

func qty(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// receive creates an LP through the normal receipt path.
func receive(t *testing.T, ctx context.Context, productId int, quantity string) *models.LicensePlate {
	t.Helper()
	lp, err := ReceiveLP(ctx, &models.NewLicensePlate{
		ProductId:   productId,
		Quantity:    qty(t, quantity),
		Uom:         "KG",
		WarehouseId: warehouseOne,
		LocationId:  locationOne,
		BatchNumber: "B-100",
		QaStatus:    models.QAStatusPassed,
	})
	require.NoError(t, err)
	return lp
}

func reloadLp(t *testing.T, ctx context.Context, id int) *models.LicensePlate {
	t.Helper()
	lp, err := models.GetLicensePlate(ctx, testOrg, id)
	require.NoError(t, err)
	return lp
}

// backdateExpiry pushes a reservation's expiry into the past, simulating the
// undo window running out without sleeping through it.
func backdateExpiry(t *testing.T, reservationId int) {
	t.Helper()
	db := config.GetDB()
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Reservation{}).
		Where("org_id = ? AND id = ?", testOrg, reservationId).
		Update("expires_at", past).Error)
}

func moveCount(t *testing.T, lpId int, moveType models.MoveType) int64 {
	t.Helper()
	db := config.GetDB()
	var n int64
	require.NoError(t, db.Model(&models.StockMove{}).
		Where("org_id = ? AND lp_id = ? AND move_type = ?", testOrg, lpId, moveType).
		Count(&n).Error)
	return n
}
