package models

import (
	"context"
	"testing"

	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tenant guard auto-scopes any query on an org-carrying table to the
// context's org, so a forgotten WHERE clause cannot leak rows across tenants.
func TestTenantGuardScopesQueries(t *testing.T) {
	ctx, db := setupModelTest(t)
	mine := newLp(t, db, "LP-TS1", "10")

	other := &LicensePlate{
		OrgId: "org-model-other", LpNumber: "LP-TS2", ProductId: 1,
		Quantity: d(t, "10"), Uom: "KG", WarehouseId: 1,
		Status: LPStatusAvailable, QaStatus: QAStatusPassed,
		SourceKind: SourceKindReceipt, ReceivedAt: mine.ReceivedAt,
	}
	require.NoError(t, db.Create(other).Error)

	// No explicit org filter: the guard injects one from the context.
	var lps []LicensePlate
	require.NoError(t, db.WithContext(ctx).Find(&lps).Error)
	require.Len(t, lps, 1)
	assert.Equal(t, mine.ID, lps[0].ID)

	// The other tenant's row reads as missing, not forbidden.
	var got LicensePlate
	err := db.WithContext(ctx).First(&got, other.ID).Error
	assert.Error(t, err)

	// Explicit admin bypass sees everything.
	adminCtx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	lps = nil
	require.NoError(t, db.WithContext(adminCtx).Find(&lps).Error)
	assert.Len(t, lps, 2)
}

func TestTenantGuardScopesUpdates(t *testing.T) {
	ctx, db := setupModelTest(t)
	mine := newLp(t, db, "LP-TS3", "10")
	other := &LicensePlate{
		OrgId: "org-model-other", LpNumber: "LP-TS4", ProductId: 1,
		Quantity: d(t, "10"), Uom: "KG", WarehouseId: 1,
		Status: LPStatusAvailable, QaStatus: QAStatusPassed,
		SourceKind: SourceKindReceipt, ReceivedAt: mine.ReceivedAt,
	}
	require.NoError(t, db.Create(other).Error)

	// An unscoped bulk update only touches the context org's rows.
	require.NoError(t, db.WithContext(ctx).Model(&LicensePlate{}).
		Where("1 = 1").
		Update("batch_number", "SCOPED").Error)

	var untouched LicensePlate
	adminCtx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	require.NoError(t, db.WithContext(adminCtx).Where("id = ?", other.ID).First(&untouched).Error)
	assert.Empty(t, untouched.BatchNumber)
}
