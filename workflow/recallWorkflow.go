package workflow

import (
	"context"
	"sort"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
)

// RecallInput scopes a recall simulation. Exactly one of LpId or
// (ProductId, BatchNumber) selects the suspect roots.
type RecallInput struct {
	LpId        int    `json:"lp_id"`
	ProductId   int    `json:"product_id"`
	BatchNumber string `json:"batch_number"`
	MaxDepth    int    `json:"max_depth"`
	// IncludeReversed widens the blast radius to lineage recorded by links
	// that were later reversed.
	IncludeReversed bool `json:"include_reversed"`
}

// AffectedLp is one LP touched by suspect material.
type AffectedLp struct {
	LpId        int             `json:"lp_id"`
	LpNumber    string          `json:"lp_number"`
	ProductId   int             `json:"product_id"`
	BatchNumber string          `json:"batch_number"`
	Status      models.LPStatus `json:"status"`
	Quantity    decimal.Decimal `json:"quantity"`
	Depth       int             `json:"depth"`
	ShippedQty  decimal.Decimal `json:"shipped_qty"`
}

// RecallReport is the read-only blast radius of a suspect lot: every
// descendant LP, how much of the contamination already left the building, and
// the work-order references that spread it.
type RecallReport struct {
	Roots           []int           `json:"roots"`
	Affected        []AffectedLp    `json:"affected"`
	OnHandQty       decimal.Decimal `json:"on_hand_qty"`
	ShippedQty      decimal.Decimal `json:"shipped_qty"`
	ShippedLpCount  int             `json:"shipped_lp_count"`
	References      []string        `json:"references"`
	TraceIncomplete bool            `json:"trace_incomplete"`
}

// SimulateRecall walks forward from the suspect roots and reports everything
// the material could have reached. Nothing is blocked or mutated; the report
// is input for a human decision.
func SimulateRecall(ctx context.Context, input *RecallInput) (*RecallReport, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}

	roots, err := recallRoots(ctx, orgId, input)
	if err != nil {
		return nil, err
	}

	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = config.TraceMaxDepthCap()
	}

	report := &RecallReport{
		Roots:      roots,
		OnHandQty:  decimal.Zero,
		ShippedQty: decimal.Zero,
	}

	// Roots count as affected at depth 0; descendants come from the trace.
	depths := map[int]int{}
	order := []int{}
	for _, id := range roots {
		if _, seen := depths[id]; !seen {
			depths[id] = 0
			order = append(order, id)
		}
	}
	refs := map[string]bool{}
	for _, root := range roots {
		trace, err := models.ForwardTrace(ctx, orgId, root, maxDepth, input.IncludeReversed)
		if err != nil {
			return nil, err
		}
		if trace.HasMoreLevels || trace.Truncated {
			report.TraceIncomplete = true
		}
		for _, n := range trace.Nodes {
			if _, seen := depths[n.LpId]; !seen {
				depths[n.LpId] = n.Depth
				order = append(order, n.LpId)
			}
			if n.Reference != "" {
				refs[n.Reference] = true
			}
		}
	}

	db := config.GetDB()
	var lps []models.LicensePlate
	if err := db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgId, order).
		Find(&lps).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]models.LicensePlate, len(lps))
	for _, lp := range lps {
		byId[lp.ID] = lp
	}

	// Shipped quantity comes from the ledger, not the cached LP row: a
	// shipped LP's quantity is zero but its Ship entry says what left.
	type shippedRow struct {
		LpId int
		Qty  decimal.Decimal
	}
	var shipped []shippedRow
	if err := db.WithContext(ctx).Model(&models.StockMove{}).
		Where("org_id = ? AND lp_id IN ? AND move_type = ?", orgId, order, models.MoveTypeShip).
		Select("lp_id AS lp_id, SUM(-qty_delta) AS qty").
		Group("lp_id").
		Scan(&shipped).Error; err != nil {
		return nil, err
	}
	shippedBy := make(map[int]decimal.Decimal, len(shipped))
	for _, s := range shipped {
		shippedBy[s.LpId] = s.Qty
	}

	for _, id := range order {
		lp, ok := byId[id]
		if !ok {
			continue
		}
		shippedQty := shippedBy[id]
		report.Affected = append(report.Affected, AffectedLp{
			LpId:        lp.ID,
			LpNumber:    lp.LpNumber,
			ProductId:   lp.ProductId,
			BatchNumber: lp.BatchNumber,
			Status:      lp.Status,
			Quantity:    lp.Quantity,
			Depth:       depths[id],
			ShippedQty:  shippedQty,
		})
		report.OnHandQty = report.OnHandQty.Add(lp.Quantity)
		if shippedQty.IsPositive() {
			report.ShippedQty = report.ShippedQty.Add(shippedQty)
			report.ShippedLpCount++
		}
	}

	for r := range refs {
		report.References = append(report.References, r)
	}
	sort.Strings(report.References)
	return report, nil
}

// recallRoots resolves the suspect LP set from the input scope.
func recallRoots(ctx context.Context, orgId string, input *RecallInput) ([]int, error) {
	if input.LpId > 0 {
		lp, err := models.GetLicensePlate(ctx, orgId, input.LpId)
		if err != nil {
			return nil, err
		}
		return []int{lp.ID}, nil
	}
	if input.ProductId <= 0 || input.BatchNumber == "" {
		return nil, utils.NewDomainError(utils.CodeValidation, "recall needs an lp or a product and batch number")
	}
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&models.LicensePlate{}).
		Where("org_id = ? AND product_id = ? AND batch_number = ?", orgId, input.ProductId, input.BatchNumber).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, utils.NewDomainError(utils.CodeNotFound, "no license plates for product %d batch %q", input.ProductId, input.BatchNumber)
	}
	return ids, nil
}
