package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/credit"
	"github.com/printglide/renderqueue/internal/job"
	"github.com/printglide/renderqueue/internal/lifecycle"
	"github.com/printglide/renderqueue/internal/membership"
	"github.com/printglide/renderqueue/internal/models"
	"github.com/printglide/renderqueue/internal/provider"
	"github.com/printglide/renderqueue/internal/queue"
	"github.com/printglide/renderqueue/internal/storage/postgres"
	"github.com/printglide/renderqueue/internal/webhook"
	"github.com/printglide/renderqueue/middleware"
)

func main() {
	log.Println("Starting API...")

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

	if err := postgres.MigrateModels(db,
		&models.Job{},
		&models.UserQueueState{},
		&models.CreditBalance{},
		&models.CreditReservation{},
		&models.LedgerEntry{},
		&models.WebhookEvent{},
	); err != nil {
		log.Fatal("Migration failed:", err)
	}

	jobRepo := postgres.NewJobRepository(db)
	creditRepo := postgres.NewCreditRepository(db)
	eventRepo := postgres.NewWebhookEventRepository(db)

	ledger := credit.NewLedger(creditRepo)
	members := membership.NewClient(membershipCfg)
	renderer := provider.NewClient(providerCfg)

	manager := queue.NewManager(jobRepo, ledger, queueCfg)
	retry := queue.NewRetryPolicy(queueCfg)
	machine := lifecycle.NewMachine(jobRepo, ledger, manager, renderer, members, retry, queueCfg)

	handler := job.NewJobHandler(manager, machine, jobRepo, members, ledger)
	ingress := webhook.NewIngress(jobRepo, eventRepo, machine)

	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	router.POST("/jobs", handler.Submit)
	router.GET("/jobs", handler.List)
	router.GET("/jobs/:id", handler.Get)
	router.DELETE("/jobs/:id", handler.Cancel)
	router.GET("/queue/stats", handler.Stats)
	router.GET("/users/:id/credits", handler.Credits)
	router.POST("/users/:id/credits/grant", handler.Grant)
	router.POST("/webhooks/render", ingress.Handle)

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed:", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete.")
}
