package workflow

import (
	"testing"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A contaminated receipt is consumed into an intermediate, the intermediate
// splits, and one part ships. The simulation must surface every descendant,
// the shipped quantity, and the work orders involved, while touching nothing.
func TestSimulateRecallBlastRadius(t *testing.T) {
	ctx := setupTest(t)
	suspect := receive(t, ctx, productOne, "100")
	clean := receive(t, ctx, productOne, "100")

	intermediate, err := ConsumeLPs(ctx, []ConsumeInput{{LpId: suspect.ID, Qty: qty(t, "100")}},
		OutputSpec{ProductId: productTwo, Qty: qty(t, "90"), Uom: "KG", WarehouseId: warehouseOne}, "WO-20")
	require.NoError(t, err)

	parts, err := SplitLP(ctx, intermediate.ID, []SplitChildSpec{
		{Qty: qty(t, "60")},
		{Qty: qty(t, "30")},
	}, "WO-21")
	require.NoError(t, err)

	shippedPart := parts[0]
	_, err = ShipLP(ctx, shippedPart.ID, "SO-300")
	require.NoError(t, err)

	report, err := SimulateRecall(ctx, &RecallInput{LpId: suspect.ID})
	require.NoError(t, err)

	affected := map[int]AffectedLp{}
	for _, a := range report.Affected {
		affected[a.LpId] = a
	}
	assert.Len(t, report.Affected, 4) // suspect + intermediate + 2 parts
	assert.NotContains(t, affected, clean.ID)

	assert.Equal(t, 0, affected[suspect.ID].Depth)
	assert.Equal(t, 1, affected[intermediate.ID].Depth)
	assert.Equal(t, 2, affected[shippedPart.ID].Depth)

	assert.True(t, report.ShippedQty.Equal(qty(t, "60")))
	assert.Equal(t, 1, report.ShippedLpCount)
	// Remaining contaminated stock still in the building: the 30kg part.
	assert.True(t, report.OnHandQty.Equal(qty(t, "30")))
	assert.Equal(t, []string{"WO-20", "WO-21"}, report.References)
	assert.False(t, report.TraceIncomplete)

	// Read-only: nothing was blocked or mutated.
	assert.Equal(t, models.LPStatusAvailable, reloadLp(t, ctx, parts[1].ID).Status)
}

func TestSimulateRecallByBatch(t *testing.T) {
	ctx := setupTest(t)
	a := receive(t, ctx, productOne, "10") // batch B-100 via fixture
	b := receive(t, ctx, productOne, "20")

	report, err := SimulateRecall(ctx, &RecallInput{ProductId: productOne, BatchNumber: "B-100"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{a.ID, b.ID}, report.Roots)
	assert.True(t, report.OnHandQty.Equal(qty(t, "30")))
}

func TestSimulateRecallValidatesScope(t *testing.T) {
	ctx := setupTest(t)

	_, err := SimulateRecall(ctx, &RecallInput{})
	assert.True(t, utils.IsCode(err, utils.CodeValidation))

	_, err = SimulateRecall(ctx, &RecallInput{ProductId: productOne, BatchNumber: "NOPE"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestLedgerReconcileDetectsDrift(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "100")

	drifts, checked, err := ReconcileLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Empty(t, drifts)

	// Simulate manual surgery on the cached quantity.
	db := config.GetDB()
	require.NoError(t, db.Model(&models.LicensePlate{}).
		Where("org_id = ? AND id = ?", testOrg, lp.ID).
		Update("quantity", qty(t, "90")).Error)

	drifts, _, err = ReconcileLedger(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, lp.ID, drifts[0].LpId)
	assert.True(t, drifts[0].Diff.Equal(qty(t, "-10")))
}
