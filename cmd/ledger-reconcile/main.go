// ledger-reconcile replays every LP's stock move history for one org and
// reports rows whose cached quantity drifted from the ledger sum. Read-only.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/ledger-reconcile --org-id <org>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/mmdatafocus/wms_backend/workflow"
)

func main() {
	orgID := flag.String("org-id", "", "Required: org id")
	flag.Parse()

	if strings.TrimSpace(*orgID) == "" {
		fmt.Fprintln(os.Stderr, "--org-id is required")
		os.Exit(1)
	}

	_ = godotenv.Load()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (set DB_* env vars)")
		os.Exit(1)
	}

	ctx := utils.SetOrgIdInContext(context.Background(), strings.TrimSpace(*orgID))
	drifts, checked, err := workflow.ReconcileLedger(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("checked %d license plates, %d drifted\n", checked, len(drifts))
	for _, d := range drifts {
		fmt.Printf("  lp=%d number=%s cached=%s ledger=%s diff=%s\n",
			d.LpId, d.LpNumber, d.CachedQty, d.LedgerQty, d.Diff)
	}
	if len(drifts) > 0 {
		os.Exit(2)
	}
}
