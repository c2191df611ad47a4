// reservation-sweeper flips LPs whose reservations have all expired back to
// Available. Availability math ignores expired reservations on its own; the
// sweep only corrects the cached status column. Run it on a schedule.
//
// Usage:
//   DB_* env vars set, then:
//     go run ./cmd/reservation-sweeper --org-id <org>            one pass
//     go run ./cmd/reservation-sweeper --org-id <org> --interval 60  loop
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/mmdatafocus/wms_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	orgID := flag.String("org-id", "", "Required: org id")
	intervalSec := flag.Int("interval", 0, "Optional: seconds between sweeps (0 = single pass)")
	flag.Parse()

	if strings.TrimSpace(*orgID) == "" {
		fmt.Fprintln(os.Stderr, "--org-id is required")
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		logger.Fatal("database not initialized (set DB_* env vars)")
	}
	// Redis extends the per-LP lock scope across instances. Optional: without
	// it the sweeper must run single-instance.
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetOrgIdInContext(ctx, strings.TrimSpace(*orgID))

	for {
		swept, err := workflow.SweepExpiredReservations(ctx)
		if err != nil {
			logger.WithField("org_id", *orgID).Error("sweep failed: " + err.Error())
			if *intervalSec <= 0 {
				os.Exit(1)
			}
		} else if swept > 0 {
			logger.WithFields(logrus.Fields{"org_id": *orgID, "swept": swept}).Info("released expired reservation holds")
		}
		if *intervalSec <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(*intervalSec) * time.Second):
		}
	}
}
