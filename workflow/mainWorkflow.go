package workflow

import (
	"context"

	"github.com/mmdatafocus/wms_backend/utils"
)

// Every operation in this package follows the same mutual-exclusion recipe:
// acquire the per-LP lock(s) in ascending id order, then inside one DB
// transaction: read current state -> validate -> append ledger entries ->
// update cached quantity/status -> write genealogy link -> write audit outbox
// record. The transaction commits before the locks release, so ledger,
// genealogy and cache are never partially visible.

const (
	entityLicensePlate  = "LICENSE_PLATE"
	entityReservation   = "RESERVATION"
	entityBackorder     = "BACKORDER"
	entityGenealogyLink = "GENEALOGY_LINK"
)

// scope extracts the org and actor identity every call must carry.
func scope(ctx context.Context) (orgId string, actorId int, actorName string, err error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return "", 0, "", utils.NewDomainError(utils.CodeValidation, "org scope is required")
	}
	actorId, _ = utils.GetUserIdFromContext(ctx)
	actorName, _ = utils.GetUserNameFromContext(ctx)
	return orgId, actorId, actorName, nil
}
