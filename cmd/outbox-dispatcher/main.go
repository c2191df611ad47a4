// outbox-dispatcher runs the audit outbox publisher loop: claims pending
// audit records, publishes them to Pub/Sub and records the outcome. Safe to
// run multiple instances.
//
// Usage:
//   DB_* and PUBSUB_* env vars set, then: go run ./cmd/outbox-dispatcher
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		logger.Fatal("database not initialized (set DB_* env vars)")
	}
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := workflow.NewOutboxDispatcher(db, logger)
	logger.WithField("dispatcher_id", d.DispatcherID).Info("outbox dispatcher starting")
	d.Run(ctx)
	logger.Info("outbox dispatcher stopped")
}
