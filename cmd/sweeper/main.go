package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/credit"
	"github.com/printglide/renderqueue/internal/lifecycle"
	"github.com/printglide/renderqueue/internal/membership"
	"github.com/printglide/renderqueue/internal/provider"
	"github.com/printglide/renderqueue/internal/queue"
	"github.com/printglide/renderqueue/internal/storage/postgres"
	"github.com/printglide/renderqueue/internal/sweeper"
)

func main() {
	log.Println("Starting sweeper...")

	ctx := context.Background()

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load database config:", err)
	}
	queueCfg, err := config.LoadQueueConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load queue config:", err)
	}
	providerCfg, err := provider.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load provider config:", err)
	}
	membershipCfg, err := membership.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load membership config:", err)
	}

	db, err := postgres.ConnectDB(dbCfg)
	if err != nil {
		log.Fatal("Connection failed:", err)
	}

	jobRepo := postgres.NewJobRepository(db)
	creditRepo := postgres.NewCreditRepository(db)

	ledger := credit.NewLedger(creditRepo)
	members := membership.NewClient(membershipCfg)
	renderer := provider.NewClient(providerCfg)

	manager := queue.NewManager(jobRepo, ledger, queueCfg)
	retry := queue.NewRetryPolicy(queueCfg)
	machine := lifecycle.NewMachine(jobRepo, ledger, manager, renderer, members, retry, queueCfg)

	interval := 30 * time.Second
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	sw := sweeper.New(machine, jobRepo, interval)
	sw.Start()
	log.Println("Sweeper active. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sw.Stop()
	log.Println("Shutdown complete.")
}
