package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GenealogyLink is a directed hyper-edge: ordered source LPs contributed to
// ordered target LPs via consumption, split, or merge. Rows are insert-only;
// reversal sets a flag, never deletes.
type GenealogyLink struct {
	ID             int          `gorm:"primary_key" json:"id"`
	OrgId          string       `gorm:"size:64;not null;index" json:"org_id"`
	Relation       LinkRelation `gorm:"type:varchar(3);not null" json:"relation"`
	Reference      string       `gorm:"size:100;index" json:"reference"`
	Reversed       bool         `gorm:"not null;default:false;index" json:"reversed"`
	ReversedReason string       `gorm:"size:255" json:"reversed_reason"`
	ReversedAt     *time.Time   `json:"reversed_at"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`

	Entries []GenealogyLinkEntry `gorm:"foreignKey:LinkId" json:"entries"`
}

// GenealogyLinkEntry pins one LP to one side of a link. Position preserves
// the caller's ordering; Qty is the quantity contributed (sources) or
// produced (targets), used for conservation checks.
type GenealogyLinkEntry struct {
	ID       int             `gorm:"primary_key" json:"id"`
	OrgId    string          `gorm:"size:64;not null;index" json:"org_id"`
	LinkId   int             `gorm:"not null;index:idx_gle_link_role,priority:1" json:"link_id"`
	LpId     int             `gorm:"not null;index:idx_gle_lp_role,priority:1" json:"lp_id"`
	Role     LinkRole        `gorm:"type:varchar(1);not null;index:idx_gle_link_role,priority:2;index:idx_gle_lp_role,priority:2" json:"role"`
	Position int             `gorm:"not null;default:0" json:"position"`
	Qty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
}

// LinkEndpoint is one LP's participation in a new link.
type LinkEndpoint struct {
	LpId int
	Qty  decimal.Decimal
}

// AddGenealogyLink inserts one link after verifying the active link set stays
// acyclic. The check is a bounded backward walk from each source: if any
// target is a transitive ancestor of a source, the new edge would close a
// loop. Rejection writes nothing.
func AddGenealogyLink(tx *gorm.DB, orgId string, relation LinkRelation, sources []LinkEndpoint, targets []LinkEndpoint, reference string) (*GenealogyLink, error) {
	if len(sources) == 0 || len(targets) == 0 {
		return nil, utils.NewDomainError(utils.CodeValidation, "genealogy link needs at least one source and one target")
	}

	targetSet := make(map[int]bool, len(targets))
	for _, t := range targets {
		targetSet[t.LpId] = true
	}
	for _, s := range sources {
		if targetSet[s.LpId] {
			return nil, utils.NewDomainError(utils.CodeCycleDetected, "lp %d cannot be both source and target", s.LpId)
		}
	}

	includeReversed := config.CycleCheckIncludeReversed()
	maxDepth := config.TraceMaxDepthCap()
	for _, s := range sources {
		ancestors, err := collectAncestors(tx, orgId, s.LpId, maxDepth, includeReversed)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if ancestors[t.LpId] {
				return nil, utils.NewDomainError(utils.CodeCycleDetected,
					"lp %d is already an ancestor of lp %d", t.LpId, s.LpId)
			}
		}
	}

	link := GenealogyLink{
		OrgId:     orgId,
		Relation:  relation,
		Reference: reference,
	}
	if err := tx.Create(&link).Error; err != nil {
		return nil, err
	}
	entries := make([]GenealogyLinkEntry, 0, len(sources)+len(targets))
	for i, s := range sources {
		entries = append(entries, GenealogyLinkEntry{
			OrgId: orgId, LinkId: link.ID, LpId: s.LpId, Role: LinkRoleSource, Position: i, Qty: s.Qty,
		})
	}
	for i, t := range targets {
		entries = append(entries, GenealogyLinkEntry{
			OrgId: orgId, LinkId: link.ID, LpId: t.LpId, Role: LinkRoleTarget, Position: i, Qty: t.Qty,
		})
	}
	if err := tx.Create(&entries).Error; err != nil {
		return nil, err
	}
	link.Entries = entries
	return &link, nil
}

// collectAncestors walks source->target edges backwards from lpId.
func collectAncestors(tx *gorm.DB, orgId string, lpId int, maxDepth int, includeReversed bool) (map[int]bool, error) {
	visited := map[int]bool{lpId: true}
	frontier := []int{lpId}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next, err := adjacentLps(tx, orgId, frontier, LinkRoleTarget, includeReversed)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, n := range next {
			if !visited[n.LpId] {
				visited[n.LpId] = true
				frontier = append(frontier, n.LpId)
			}
		}
	}
	delete(visited, lpId)
	return visited, nil
}

// adjacency holds one neighbor discovered through a link.
type adjacency struct {
	LpId      int
	LinkId    int
	Relation  LinkRelation
	Reference string
	Reversed  bool
}

// adjacentLps finds, for each LP in frontier appearing with fromRole, the LPs
// on the opposite side of those links. fromRole=Target walks backwards
// (ancestors), fromRole=Source walks forwards (descendants).
func adjacentLps(tx *gorm.DB, orgId string, frontier []int, fromRole LinkRole, includeReversed bool) ([]adjacency, error) {
	toRole := LinkRoleSource
	if fromRole == LinkRoleSource {
		toRole = LinkRoleTarget
	}
	q := tx.Table("genealogy_link_entries AS fe").
		Joins("JOIN genealogy_links AS l ON l.id = fe.link_id").
		Joins("JOIN genealogy_link_entries AS te ON te.link_id = fe.link_id AND te.role = ?", toRole).
		Where("fe.org_id = ? AND fe.role = ? AND fe.lp_id IN ?", orgId, fromRole, frontier).
		Order("l.id ASC, te.position ASC")
	if !includeReversed {
		q = q.Where("l.reversed = ?", false)
	}
	var rows []adjacency
	err := q.Select("te.lp_id AS lp_id, l.id AS link_id, l.relation AS relation, l.reference AS reference, l.reversed AS reversed").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TraceNode is one LP reached by a trace, annotated with the link that
// connected it to the walk.
type TraceNode struct {
	LpId      int          `json:"lp_id"`
	Depth     int          `json:"depth"`
	Relation  LinkRelation `json:"relation"`
	Reference string       `json:"reference"`
	LinkId    int          `json:"link_id"`
	Reversed  bool         `json:"reversed"`
}

// TraceResult is a breadth-first slice of the genealogy around a root LP.
// HasMoreLevels reports depth truncation; Truncated reports a deadline hit.
// Either way the nodes returned are complete up to the last finished level.
type TraceResult struct {
	Root          int         `json:"root"`
	Nodes         []TraceNode `json:"nodes"`
	HasMoreLevels bool        `json:"has_more_levels"`
	Truncated     bool        `json:"truncated"`
}

// ForwardTrace walks descendants of lpId (what this LP became).
func ForwardTrace(ctx context.Context, orgId string, lpId int, maxDepth int, includeReversed bool) (*TraceResult, error) {
	return trace(ctx, orgId, lpId, LinkRoleSource, maxDepth, includeReversed)
}

// BackwardTrace walks ancestors of lpId (what this LP came from).
func BackwardTrace(ctx context.Context, orgId string, lpId int, maxDepth int, includeReversed bool) (*TraceResult, error) {
	return trace(ctx, orgId, lpId, LinkRoleTarget, maxDepth, includeReversed)
}

// trace is an iterative, deduplicated BFS. An explicit worklist bounds stack
// depth; the visited set keeps merge diamonds from blowing up the walk.
func trace(ctx context.Context, orgId string, lpId int, fromRole LinkRole, maxDepth int, includeReversed bool) (*TraceResult, error) {
	depthCap := config.TraceMaxDepthCap()
	if maxDepth < 0 {
		maxDepth = 10
	}
	if maxDepth > depthCap {
		maxDepth = depthCap
	}

	db := config.GetDB()
	result := &TraceResult{Root: lpId, Nodes: []TraceNode{}}
	visited := map[int]bool{lpId: true}
	frontier := []int{lpId}

	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			result.Truncated = true
			return result, nil
		}
		next, err := adjacentLps(db.WithContext(ctx), orgId, frontier, fromRole, includeReversed)
		if err != nil {
			return nil, err
		}
		if depth >= maxDepth {
			// One lookahead past the cutoff only to report truncation.
			for _, n := range next {
				if !visited[n.LpId] {
					result.HasMoreLevels = true
					break
				}
			}
			return result, nil
		}
		frontier = frontier[:0]
		for _, n := range next {
			if visited[n.LpId] {
				continue
			}
			visited[n.LpId] = true
			frontier = append(frontier, n.LpId)
			result.Nodes = append(result.Nodes, TraceNode{
				LpId:      n.LpId,
				Depth:     depth + 1,
				Relation:  n.Relation,
				Reference: n.Reference,
				LinkId:    n.LinkId,
				Reversed:  n.Reversed,
			})
		}
	}
	return result, nil
}

// ReferenceLinks groups a work order's links into what it consumed and what
// it produced.
type ReferenceLinks struct {
	Reference string          `json:"reference"`
	Links     []GenealogyLink `json:"links"`
	InputLps  []int           `json:"input_lps"`
	OutputLps []int           `json:"output_lps"`
}

// LinksForReference returns the consume/output sets recorded under one
// reference (e.g. a work-order id).
func LinksForReference(ctx context.Context, orgId string, reference string) (*ReferenceLinks, error) {
	db := config.GetDB()
	var links []GenealogyLink
	err := db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("org_id = ? AND reference = ?", orgId, reference).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}

	out := &ReferenceLinks{Reference: reference, Links: links}
	seenIn := map[int]bool{}
	seenOut := map[int]bool{}
	for _, l := range links {
		for _, e := range l.Entries {
			switch e.Role {
			case LinkRoleSource:
				if !seenIn[e.LpId] {
					seenIn[e.LpId] = true
					out.InputLps = append(out.InputLps, e.LpId)
				}
			case LinkRoleTarget:
				if !seenOut[e.LpId] {
					seenOut[e.LpId] = true
					out.OutputLps = append(out.OutputLps, e.LpId)
				}
			}
		}
	}
	return out, nil
}

// ReverseGenealogyLink flags a link as reversed. Reversing an already
// reversed link is a no-op.
func ReverseGenealogyLink(tx *gorm.DB, orgId string, linkId int, reason string) (*GenealogyLink, error) {
	var link GenealogyLink
	err := tx.Where("org_id = ? AND id = ?", orgId, linkId).First(&link).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.NewDomainError(utils.CodeNotFound, "genealogy link %d not found", linkId)
	}
	if err != nil {
		return nil, err
	}
	if link.Reversed {
		return &link, nil
	}
	now := time.Now().UTC()
	if err := tx.Model(&GenealogyLink{}).
		Where("org_id = ? AND id = ?", orgId, linkId).
		Updates(map[string]interface{}{
			"reversed":        true,
			"reversed_reason": reason,
			"reversed_at":     &now,
		}).Error; err != nil {
		return nil, err
	}
	link.Reversed = true
	link.ReversedReason = reason
	link.ReversedAt = &now
	return &link, nil
}
