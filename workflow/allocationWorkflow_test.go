package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backdateReceipt makes FIFO ordering deterministic without sleeping.
func backdateReceipt(t *testing.T, lpId int, daysAgo int) {
	t.Helper()
	db := config.GetDB()
	at := time.Now().UTC().AddDate(0, 0, -daysAgo)
	require.NoError(t, db.Model(&models.LicensePlate{}).
		Where("org_id = ? AND id = ?", testOrg, lpId).
		Update("received_at", at).Error)
}

func setExpiry(t *testing.T, lpId int, daysAhead int) {
	t.Helper()
	db := config.GetDB()
	at := time.Now().UTC().AddDate(0, 0, daysAhead)
	require.NoError(t, db.Model(&models.LicensePlate{}).
		Where("org_id = ? AND id = ?", testOrg, lpId).
		Update("expiry_date", at).Error)
}

func TestAllocateFIFOPicksOldestFirst(t *testing.T) {
	ctx := setupTest(t)
	newer := receive(t, ctx, productOne, "50")
	oldest := receive(t, ctx, productOne, "50")
	middle := receive(t, ctx, productOne, "50")
	backdateReceipt(t, newer.ID, 1)
	backdateReceipt(t, oldest.ID, 10)
	backdateReceipt(t, middle.ID, 5)

	res, err := Allocate(ctx, &AllocationRequest{
		ProductId:   productOne,
		WarehouseId: warehouseOne,
		Qty:         qty(t, "80"),
		DemandRef:   "SO-100",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Backorder)
	assert.True(t, res.AllocatedQty.Equal(qty(t, "80")))
	require.Len(t, res.Reservations, 2)
	assert.Equal(t, oldest.ID, res.Reservations[0].LpId)
	assert.True(t, res.Reservations[0].ReservedQty.Equal(qty(t, "50")))
	assert.Equal(t, middle.ID, res.Reservations[1].LpId)
	assert.True(t, res.Reservations[1].ReservedQty.Equal(qty(t, "30")))
}

func TestAllocateFEFOExpiringFirstNullLast(t *testing.T) {
	ctx := setupTest(t)
	noExpiry := receive(t, ctx, productOne, "50")
	late := receive(t, ctx, productOne, "50")
	soon := receive(t, ctx, productOne, "50")
	setExpiry(t, late.ID, 20)
	setExpiry(t, soon.ID, 3)

	res, err := Allocate(ctx, &AllocationRequest{
		ProductId:   productOne,
		WarehouseId: warehouseOne,
		Qty:         qty(t, "120"),
		DemandRef:   "SO-101",
		Strategy:    models.StrategyFEFO,
	})
	require.NoError(t, err)
	require.Len(t, res.Reservations, 3)
	assert.Equal(t, soon.ID, res.Reservations[0].LpId)
	assert.Equal(t, late.ID, res.Reservations[1].LpId)
	assert.Equal(t, noExpiry.ID, res.Reservations[2].LpId)
	assert.True(t, res.Reservations[2].ReservedQty.Equal(qty(t, "20")))
}

func TestAllocateSkipsIneligibleLps(t *testing.T) {
	ctx := setupTest(t)
	good := receive(t, ctx, productOne, "10")

	blocked := receive(t, ctx, productOne, "10")
	_, err := BlockLP(ctx, blocked.ID, "qa hold")
	require.NoError(t, err)

	pendingQa := receive(t, ctx, productOne, "10")
	_, err = SetQaStatus(ctx, pendingQa.ID, models.QAStatusPending)
	require.NoError(t, err)

	expired := receive(t, ctx, productOne, "10")
	setExpiry(t, expired.ID, -1)

	res, err := Allocate(ctx, &AllocationRequest{
		ProductId:   productOne,
		WarehouseId: warehouseOne,
		Qty:         qty(t, "40"),
		DemandRef:   "SO-102",
	})
	require.NoError(t, err)
	require.Len(t, res.Reservations, 1)
	assert.Equal(t, good.ID, res.Reservations[0].LpId)
	require.NotNil(t, res.Backorder)
	assert.True(t, res.Backorder.ShortfallQty.Equal(qty(t, "30")))
}

func TestAllocateShortfallCreatesBackorder(t *testing.T) {
	ctx := setupTest(t)
	receive(t, ctx, productOne, "30")

	res, err := Allocate(ctx, &AllocationRequest{
		ProductId:   productOne,
		WarehouseId: warehouseOne,
		Qty:         qty(t, "100"),
		DemandRef:   "SO-103",
	})
	require.NoError(t, err)
	assert.True(t, res.AllocatedQty.Equal(qty(t, "30")))
	require.NotNil(t, res.Backorder)
	assert.True(t, res.Backorder.ShortfallQty.Equal(qty(t, "70")))
	assert.Equal(t, "SO-103", res.Backorder.DemandRef)
}

// Two demands racing for the same 10 units must never double-book: one gets
// the stock, the other is refused (direct reserve) and backorders (allocate).
func TestConcurrentReserveNoDoubleBooking(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "10")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ReserveLP(ctx, &ReserveInput{
				LpId:      lp.ID,
				Qty:       qty(t, "8"),
				DemandRef: "SO-RACE",
			})
		}(i)
	}
	wg.Wait()

	var ok, overbooked int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case utils.IsCode(err, utils.CodeOverReservation):
			overbooked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, overbooked)

	reserved, err := models.ActiveReservedQty(config.GetDB(), testOrg, lp.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, reserved.Equal(qty(t, "8")))
}

// Two concurrent allocations of 50 against one LP holding 60: exactly one
// gets 50; the other gets the 10 that remain plus a 40 backorder. Never two
// 50s.
func TestConcurrentAllocatePartialAndBackorder(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "60")

	var wg sync.WaitGroup
	results := make([]*AllocationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Allocate(ctx, &AllocationRequest{
				ProductId:   productOne,
				WarehouseId: warehouseOne,
				Qty:         qty(t, "50"),
				DemandRef:   "SO-RACE-2",
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	total := results[0].AllocatedQty.Add(results[1].AllocatedQty)
	assert.True(t, total.Equal(qty(t, "60")), "allocated %s in total", total)

	full, short := results[0], results[1]
	if short.AllocatedQty.GreaterThan(full.AllocatedQty) {
		full, short = short, full
	}
	assert.True(t, full.AllocatedQty.Equal(qty(t, "50")))
	assert.Nil(t, full.Backorder)
	assert.True(t, short.AllocatedQty.Equal(qty(t, "10")))
	require.NotNil(t, short.Backorder)
	assert.True(t, short.Backorder.ShortfallQty.Equal(qty(t, "40")))

	reserved, err := models.ActiveReservedQty(config.GetDB(), testOrg, lp.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, reserved.Equal(qty(t, "60")))
}

func TestReserveOverrideExceedsAvailability(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "10")

	_, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "15"), DemandRef: "SO-104"})
	assert.True(t, utils.IsCode(err, utils.CodeOverReservation))

	r, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "15"), DemandRef: "SO-104", Override: true})
	require.NoError(t, err)
	assert.True(t, r.Override)
}

func TestReleaseReservationIdempotentAndLocked(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "10")
	r, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "10"), DemandRef: "SO-105"})
	require.NoError(t, err)
	assert.Equal(t, models.LPStatusReserved, reloadLp(t, ctx, lp.ID).Status)

	released, err := ReleaseReservation(ctx, r.ID, false)
	require.NoError(t, err)
	require.NotNil(t, released.ReleasedAt)
	assert.Equal(t, models.LPStatusAvailable, reloadLp(t, ctx, lp.ID).Status)

	// Releasing again is a no-op, not an error.
	again, err := ReleaseReservation(ctx, r.ID, false)
	require.NoError(t, err)
	assert.Equal(t, released.ReleasedAt.UTC(), again.ReleasedAt.UTC())

	// A reservation stranded on a shipped LP needs an explicit acknowledgement.
	r2, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "10"), DemandRef: "SO-106"})
	require.NoError(t, err)
	db := config.GetDB()
	require.NoError(t, db.Model(&models.LicensePlate{}).
		Where("org_id = ? AND id = ?", testOrg, lp.ID).
		Updates(map[string]interface{}{"status": models.LPStatusShipped, "quantity": decimal.Zero}).Error)

	_, err = ReleaseReservation(ctx, r2.ID, false)
	assert.True(t, utils.IsCode(err, utils.CodeReservationLocked))
	acked, err := ReleaseReservation(ctx, r2.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, acked.ReleasedAt)
}

func TestExpiredReservationFreesAvailability(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "10")
	r, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "10"), DemandRef: "SO-107"})
	require.NoError(t, err)

	// Fully booked: a second demand backorders.
	res, err := Allocate(ctx, &AllocationRequest{
		ProductId: productOne, WarehouseId: warehouseOne, Qty: qty(t, "10"), DemandRef: "SO-108",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Backorder)

	backdateExpiry(t, r.ID)

	// The undo window lapsed: the same demand now succeeds.
	res, err = Allocate(ctx, &AllocationRequest{
		ProductId: productOne, WarehouseId: warehouseOne, Qty: qty(t, "10"), DemandRef: "SO-109",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Backorder)
	assert.True(t, res.AllocatedQty.Equal(qty(t, "10")))
}

func TestSweepExpiredReservations(t *testing.T) {
	ctx := setupTest(t)
	lp := receive(t, ctx, productOne, "10")
	r, err := ReserveLP(ctx, &ReserveInput{LpId: lp.ID, Qty: qty(t, "10"), DemandRef: "SO-110"})
	require.NoError(t, err)
	require.Equal(t, models.LPStatusReserved, reloadLp(t, ctx, lp.ID).Status)

	swept, err := SweepExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	backdateExpiry(t, r.ID)
	swept, err = SweepExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, models.LPStatusAvailable, reloadLp(t, ctx, lp.ID).Status)
}

func TestAllocateSetCoverageIsBottleneck(t *testing.T) {
	ctx := setupTest(t)
	receive(t, ctx, productOne, "100")
	receive(t, ctx, productTwo, "25")

	res, err := AllocateSet(ctx, warehouseOne, "SO-111", models.StrategyFIFO, []AllocationSetLine{
		{ProductId: productOne, Qty: qty(t, "100")},
		{ProductId: productTwo, Qty: qty(t, "50")},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.True(t, res.Lines[0].Coverage.Equal(decimal.NewFromInt(1)))
	assert.True(t, res.Lines[1].Coverage.Equal(qty(t, "0.5")))
	assert.True(t, res.OverallCoverage.Equal(qty(t, "0.5")))
	require.NotNil(t, res.Lines[1].Result.Backorder)
	assert.True(t, res.Lines[1].Result.Backorder.ShortfallQty.Equal(qty(t, "25")))
}

// When the allocation loop stops on a dead deadline, the reservations it
// booked have already committed; the shortfall record must commit too instead
// of failing on the spent context.
func TestBackorderSurvivesCancelledContext(t *testing.T) {
	ctx := setupTest(t)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	bo, err := recordBackorder(cancelled, testOrg, "SO-99", productOne, qty(t, "5"))
	require.NoError(t, err)
	require.NotNil(t, bo)

	var got models.Backorder
	require.NoError(t, config.GetDB().
		Where("org_id = ? AND id = ?", testOrg, bo.ID).
		First(&got).Error)
	assert.True(t, got.ShortfallQty.Equal(qty(t, "5")))
	assert.Equal(t, "SO-99", got.DemandRef)
}
