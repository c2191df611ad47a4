package models

import (
	"testing"

	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStockMoveRejectsNegativeResult(t *testing.T) {
	_, db := setupModelTest(t)
	lp := newLp(t, db, "LP-T1", "10")

	_, _, err := AppendStockMove(db, &StockMoveInput{
		OrgId:      testOrg,
		LpId:       lp.ID,
		MoveType:   MoveTypeConsume,
		QtyDelta:   d(t, "-11"),
		CurrentQty: lp.Quantity,
	})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInsufficientQuantity))

	// Rejection writes nothing.
	var n int64
	require.NoError(t, db.Model(&StockMove{}).Where("org_id = ?", testOrg).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAppendStockMoveIdempotencyReplay(t *testing.T) {
	_, db := setupModelTest(t)
	lp := newLp(t, db, "LP-T2", "10")

	input := &StockMoveInput{
		OrgId:          testOrg,
		LpId:           lp.ID,
		MoveType:       MoveTypeReceipt,
		QtyDelta:       d(t, "10"),
		CurrentQty:     decimal.Zero,
		IdempotencyKey: "key-1",
	}
	first, created, err := AppendStockMove(db, input)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := AppendStockMove(db, input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, db.Model(&StockMove{}).Where("org_id = ? AND lp_id = ?", testOrg, lp.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIdempotencyKeysScopedPerOrg(t *testing.T) {
	_, db := setupModelTest(t)
	lp := newLp(t, db, "LP-T3", "10")

	for _, org := range []string{testOrg, "org-model-2"} {
		_, created, err := AppendStockMove(db, &StockMoveInput{
			OrgId:          org,
			LpId:           lp.ID,
			MoveType:       MoveTypeReceipt,
			QtyDelta:       d(t, "10"),
			CurrentQty:     decimal.Zero,
			IdempotencyKey: "shared-key",
		})
		require.NoError(t, err)
		assert.True(t, created, "org %s should get its own row", org)
	}
}

func TestHistoryReplayMatchesQuantity(t *testing.T) {
	ctx, db := setupModelTest(t)
	lp := newLp(t, db, "LP-T4", "0")

	running := decimal.Zero
	for _, delta := range []string{"100", "-30", "-20", "5"} {
		mv, _, err := AppendStockMove(db, &StockMoveInput{
			OrgId:      testOrg,
			LpId:       lp.ID,
			MoveType:   MoveTypeAdjustment,
			QtyDelta:   d(t, delta),
			CurrentQty: running,
		})
		require.NoError(t, err)
		running = running.Add(d(t, delta))
		assert.True(t, mv.ResultingQty.Equal(running))
	}

	sum, err := ReconcileQuantity(ctx, testOrg, lp.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(d(t, "55")))
}

func TestHistoryKeysetPagination(t *testing.T) {
	ctx, db := setupModelTest(t)
	lp := newLp(t, db, "LP-T5", "0")

	for i := 0; i < 5; i++ {
		_, _, err := AppendStockMove(db, &StockMoveInput{
			OrgId:      testOrg,
			LpId:       lp.ID,
			MoveType:   MoveTypeAdjustment,
			QtyDelta:   d(t, "1"),
			CurrentQty: decimal.NewFromInt(int64(i)),
		})
		require.NoError(t, err)
	}

	page1, err := StockMoveHistory(ctx, testOrg, lp.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page2, err := StockMoveHistory(ctx, testOrg, lp.ID, page1[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, page2, 3)
	assert.Greater(t, page2[0].ID, page1[1].ID)

	// Newest-first view for the exposed history endpoint.
	desc, err := StockMoveHistoryDesc(ctx, testOrg, lp.ID, 0, 3)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Greater(t, desc[0].ID, desc[1].ID)
}
