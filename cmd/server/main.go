package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"registrar-backend/internal/admin"
	"registrar-backend/internal/catalog"
	"registrar-backend/internal/config"
	"registrar-backend/internal/engine"
	"registrar-backend/internal/instrument"
	"registrar-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s:%d/%s)", cfg.Server.Port, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Load the catalog into the registry
	registry := catalog.NewRegistry()
	if err := catalog.LoadAll(ctx, db, registry); err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	// 5. Wire the engine
	exceptions := engine.NewSQLExceptionStore(db)
	results := engine.NewSQLResultStore(db)
	cycles := engine.NewSQLCycleStore(db)
	validator := engine.NewValidator(registry, exceptions, results)
	workflow := engine.NewOverrideEngine(exceptions)
	checker := engine.NewCycleChecker(registry, cycles)

	// Initial integrity scan so cycle flags are set before the first request.
	if _, err := checker.RunCheck(ctx); err != nil {
		log.Printf("WARN: initial integrity scan failed: %v", err)
	}

	// 6. Instrumentation buffer
	var eventBuffer *instrument.EventBuffer
	if cfg.Instrumentation.Enabled {
		eventBuffer = instrument.NewEventBuffer(db.DB, db.Dialect,
			cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer eventBuffer.Stop()
	}

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(cfg.Instrumentation, eventBuffer))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Register admin routes
	adminHandler := admin.NewHandler(db, registry, checker, cycles)
	admin.RegisterAdminRoutes(app, adminHandler)

	// 10. Register validation and exception routes
	engineHandler := engine.NewHandler(validator, workflow, results, exceptions)
	engine.RegisterRoutes(app, engineHandler)

	// 11. Start the cycle scan scheduler
	scheduler := engine.NewCycleScheduler(checker,
		time.Duration(cfg.Catalog.CycleCheckIntervalSec)*time.Second)
	scheduler.Start()
	defer scheduler.Stop()

	// 12. Background sweeps: override expirations and event retention
	go runMaintenance(db, cfg, workflow)

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

// runMaintenance expires overdue overrides every minute and prunes old
// instrumentation events once a day.
func runMaintenance(db *store.Store, cfg *config.Config, workflow *engine.OverrideEngine) {
	expiry := time.NewTicker(60 * time.Second)
	cleanup := time.NewTicker(24 * time.Hour)
	defer expiry.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-expiry.C:
			workflow.ProcessExpirations(context.Background())
		case <-cleanup.C:
			instrument.CleanupOldEvents(context.Background(), db.DB, db.Dialect,
				cfg.Instrumentation.RetentionDays)
		}
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: engine.NewAppError("INTERNAL_ERROR", code, err.Error()),
	})
}
