package workflow

import (
	"testing"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitConservesQuantity(t *testing.T) {
	ctx := setupTest(t)
	source := receive(t, ctx, productOne, "100")

	children, err := SplitLP(ctx, source.ID, []SplitChildSpec{
		{Qty: qty(t, "60")},
		{Qty: qty(t, "40"), LocationId: locationTwo},
	}, "WO-1")
	require.NoError(t, err)
	require.Len(t, children, 2)

	assert.True(t, children[0].Quantity.Equal(qty(t, "60")))
	assert.True(t, children[1].Quantity.Equal(qty(t, "40")))
	assert.Equal(t, models.SourceKindSplit, children[0].SourceKind)
	assert.Equal(t, locationTwo, children[1].LocationId)
	// Children inherit the source's FIFO position.
	assert.Equal(t, source.ReceivedAt.UTC(), children[0].ReceivedAt.UTC())

	drained := reloadLp(t, ctx, source.ID)
	assert.Equal(t, models.LPStatusConsumed, drained.Status)
	assert.True(t, drained.Quantity.IsZero())

	for _, lpId := range []int{source.ID, children[0].ID, children[1].ID} {
		ledger, err := models.ReconcileQuantity(ctx, testOrg, lpId)
		require.NoError(t, err)
		lp := reloadLp(t, ctx, lpId)
		assert.True(t, ledger.Equal(lp.Quantity), "lp %d ledger drifted", lpId)
	}

	refs, err := models.LinksForReference(ctx, testOrg, "WO-1")
	require.NoError(t, err)
	require.Len(t, refs.Links, 1)
	assert.Equal(t, models.LinkRelationSplit, refs.Links[0].Relation)
	assert.Equal(t, []int{source.ID}, refs.InputLps)
	assert.Equal(t, []int{children[0].ID, children[1].ID}, refs.OutputLps)
}

func TestSplitRejectsPartialSum(t *testing.T) {
	ctx := setupTest(t)
	source := receive(t, ctx, productOne, "100")

	_, err := SplitLP(ctx, source.ID, []SplitChildSpec{
		{Qty: qty(t, "60")},
		{Qty: qty(t, "30")},
	}, "WO-2")
	assert.True(t, utils.IsCode(err, utils.CodeValidation))

	// Nothing changed.
	lp := reloadLp(t, ctx, source.ID)
	assert.Equal(t, models.LPStatusAvailable, lp.Status)
	assert.True(t, lp.Quantity.Equal(qty(t, "100")))
}

func TestSplitRejectsReservedSource(t *testing.T) {
	ctx := setupTest(t)
	source := receive(t, ctx, productOne, "100")
	_, err := ReserveLP(ctx, &ReserveInput{LpId: source.ID, Qty: qty(t, "10"), DemandRef: "SO-5"})
	require.NoError(t, err)

	_, err = SplitLP(ctx, source.ID, []SplitChildSpec{
		{Qty: qty(t, "50")},
		{Qty: qty(t, "50")},
	}, "WO-3")
	assert.True(t, utils.IsCode(err, utils.CodeOverReservation))
}

func TestMergeCreatesTarget(t *testing.T) {
	ctx := setupTest(t)
	a := receive(t, ctx, productOne, "30")
	b := receive(t, ctx, productOne, "20")

	target, err := MergeLPs(ctx, []int{a.ID, b.ID}, MergeSpec{LocationId: locationOne}, "WO-4")
	require.NoError(t, err)
	assert.True(t, target.Quantity.Equal(qty(t, "50")))
	assert.Equal(t, models.SourceKindMerge, target.SourceKind)
	// Earliest receipt wins so the merge cannot launder FIFO position.
	assert.Equal(t, a.ReceivedAt.UTC(), target.ReceivedAt.UTC())

	for _, src := range []*models.LicensePlate{a, b} {
		got := reloadLp(t, ctx, src.ID)
		assert.Equal(t, models.LPStatusConsumed, got.Status)
		assert.True(t, got.Quantity.IsZero())
	}

	refs, err := models.LinksForReference(ctx, testOrg, "WO-4")
	require.NoError(t, err)
	require.Len(t, refs.Links, 1)
	assert.Equal(t, models.LinkRelationMerge, refs.Links[0].Relation)
	assert.Equal(t, []int{a.ID, b.ID}, refs.InputLps)
	assert.Equal(t, []int{target.ID}, refs.OutputLps)
}

func TestMergeRejectsDifferentProducts(t *testing.T) {
	ctx := setupTest(t)
	a := receive(t, ctx, productOne, "30")
	b := receive(t, ctx, productTwo, "20")

	_, err := MergeLPs(ctx, []int{a.ID, b.ID}, MergeSpec{}, "WO-5")
	assert.True(t, utils.IsCode(err, utils.CodeValidation))
}

// Consuming part of LP-Z into LP-X and then merging LP-X back into LP-Z
// would make Z its own descendant. The merge must be refused and the refusal
// must leave no trace: no quantity change, no new moves, no link.
func TestMergeIntoAncestorDetectsCycle(t *testing.T) {
	ctx := setupTest(t)
	z := receive(t, ctx, productOne, "100")

	x, err := ConsumeLPs(ctx, []ConsumeInput{{LpId: z.ID, Qty: qty(t, "30")}}, OutputSpec{
		ProductId:   productOne,
		Qty:         qty(t, "30"),
		Uom:         "KG",
		WarehouseId: warehouseOne,
		LocationId:  locationOne,
	}, "WO-6")
	require.NoError(t, err)
	y := receive(t, ctx, productOne, "20")

	db := config.GetDB()
	var linksBefore, movesBefore int64
	require.NoError(t, db.Model(&models.GenealogyLink{}).Count(&linksBefore).Error)
	require.NoError(t, db.Model(&models.StockMove{}).Count(&movesBefore).Error)

	_, err = MergeLPs(ctx, []int{x.ID, y.ID}, MergeSpec{TargetLpId: z.ID}, "WO-7")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeCycleDetected))

	// Atomic rejection: the failed merge rolled back everything.
	var linksAfter, movesAfter int64
	require.NoError(t, db.Model(&models.GenealogyLink{}).Count(&linksAfter).Error)
	require.NoError(t, db.Model(&models.StockMove{}).Count(&movesAfter).Error)
	assert.Equal(t, linksBefore, linksAfter)
	assert.Equal(t, movesBefore, movesAfter)

	gotX := reloadLp(t, ctx, x.ID)
	assert.Equal(t, models.LPStatusAvailable, gotX.Status)
	assert.True(t, gotX.Quantity.Equal(qty(t, "30")))
	gotZ := reloadLp(t, ctx, z.ID)
	assert.True(t, gotZ.Quantity.Equal(qty(t, "70")))
}

func TestMergeTargetCannotBeSource(t *testing.T) {
	ctx := setupTest(t)
	a := receive(t, ctx, productOne, "30")
	b := receive(t, ctx, productOne, "20")

	_, err := MergeLPs(ctx, []int{a.ID, b.ID}, MergeSpec{TargetLpId: a.ID}, "WO-8")
	assert.True(t, utils.IsCode(err, utils.CodeValidation))
}
