package workflow

import (
	"context"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"gorm.io/gorm"
)

// Read-side operations exposed to API routes and scanner workflows. Traces
// are lock-free: genealogy rows never change in place, so a stale snapshot is
// harmless.

// ForwardTrace lists descendants of an LP (what it became).
func ForwardTrace(ctx context.Context, lpId int, maxDepth int, includeReversed bool) (*models.TraceResult, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := models.GetLicensePlate(ctx, orgId, lpId); err != nil {
		return nil, err
	}
	return models.ForwardTrace(ctx, orgId, lpId, maxDepth, includeReversed)
}

// BackwardTrace lists ancestors of an LP (what it came from).
func BackwardTrace(ctx context.Context, lpId int, maxDepth int, includeReversed bool) (*models.TraceResult, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := models.GetLicensePlate(ctx, orgId, lpId); err != nil {
		return nil, err
	}
	return models.BackwardTrace(ctx, orgId, lpId, maxDepth, includeReversed)
}

// LinksForReference groups a work order's links into consume/output sets.
func LinksForReference(ctx context.Context, reference string) (*models.ReferenceLinks, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	return models.LinksForReference(ctx, orgId, reference)
}

// ReverseLink flags a genealogy link as reversed, removing it from default
// traces and cycle checks. It does not touch quantities; undoing a
// consumption's stock effects is ReverseConsumption.
func ReverseLink(ctx context.Context, linkId int, reason string) (*models.GenealogyLink, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var link *models.GenealogyLink
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.GenealogyLink
		if err := tx.Where("org_id = ? AND id = ?", orgId, linkId).First(&existing).Error; err == nil && existing.Reversed {
			link = &existing
			return nil // already reversed, nothing to audit
		}
		var err error
		link, err = models.ReverseGenealogyLink(tx, orgId, linkId, reason)
		if err != nil {
			return err
		}
		return models.PublishAudit(ctx, tx, orgId, entityGenealogyLink, link.ID, models.AuditActionUpdate, link, nil)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// History pages an LP's ledger newest-first; beforeId=0 starts at the head.
func History(ctx context.Context, lpId int, beforeId int, limit int) ([]*models.StockMove, error) {
	orgId, _, _, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := models.GetLicensePlate(ctx, orgId, lpId); err != nil {
		return nil, err
	}
	return models.StockMoveHistoryDesc(ctx, orgId, lpId, beforeId, limit)
}
