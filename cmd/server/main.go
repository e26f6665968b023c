/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and TOML config
  2. Initialize SQLite store
  3. Wire coordinator, reversal engine, notifier, and API handler
  4. Start the expiration scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config path (optional; flags override)
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: points.db)
           Use ":memory:" for an in-memory database
  -seed    Seed a demo buyer/company pair on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and notification workers
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/points.db"

  # Run with in-memory database and demo accounts
  ./server -db=":memory:" -seed

  # Run with a config file
  ./server -config=points.toml

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: TOML schema and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/notify"
	"github.com/warp/points-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML config path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seed := flag.Bool("seed", false, "seed demo accounts on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// The directory normally lives in the surrounding identity service;
	// the demo server registers parties for every known account plus a
	// standing admin.
	directory := ledger.NewMemoryDirectory()
	directory.Register(ledger.Party{ID: "admin", Role: ledger.RoleAdmin, Active: true})

	if *seed {
		if err := seedDemo(context.Background(), store); err != nil {
			log.Fatalf("Failed to seed demo accounts: %v", err)
		}
	}
	if err := registerAccounts(context.Background(), store, directory); err != nil {
		log.Fatalf("Failed to load accounts into directory: %v", err)
	}

	// Notification workers, log-backed for the demo server
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	dispatcher := notify.NewDispatcher(notify.LogSender{Logger: logger}, 2, logger)
	defer dispatcher.Close()

	// Engine wiring
	coordinator := ledger.NewCoordinator(store, directory)
	coordinator.MaxAttempts = cfg.Engine.MaxAttempts
	coordinator.Notifier = dispatcher

	reversals := ledger.NewReversalEngine(store, directory)
	reversals.MaxAttempts = cfg.Engine.MaxAttempts
	reversals.Notifier = dispatcher
	reversals.Windows = ledger.ReversalWindows{
		Buyer:  time.Duration(cfg.Engine.BuyerReversalHours) * time.Hour,
		Seller: time.Duration(cfg.Engine.SellerReversalHours) * time.Hour,
		Admin:  time.Duration(cfg.Engine.AdminReversalHours) * time.Hour,
	}

	handler := api.NewHandler(store, coordinator, reversals)
	handler.Runs = store
	handler.DefaultCashbackRate = cfg.Engine.DefaultCashbackRate

	// Expiration scheduler
	scheduler := api.NewExpirationScheduler(store, handler)
	scheduler.CheckInterval = cfg.Scheduler.Interval()
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// registerAccounts mirrors every stored account into the demo directory.
// Buyers act as buyers; company accounts act through their sellers.
func registerAccounts(ctx context.Context, store *sqlite.Store, directory *ledger.MemoryDirectory) error {
	accounts, err := store.ListAccounts(ctx, "")
	if err != nil {
		return err
	}
	for _, account := range accounts {
		role := ledger.RoleBuyer
		if account.Kind == ledger.AccountCompany {
			role = ledger.RoleSeller
		}
		directory.Register(ledger.Party{ID: account.ID, Role: role, Active: true})
	}
	return nil
}

// seedDemo creates one buyer and one funded company for local testing.
func seedDemo(ctx context.Context, store *sqlite.Store) error {
	accounts := []ledger.Account{
		{ID: "buyer-1", Kind: ledger.AccountBuyer, Balance: ledger.ZeroAmount()},
		{
			ID:             "acme",
			Kind:           ledger.AccountCompany,
			Balance:        ledger.NewAmountFromInt(10000),
			FundingCeiling: ledger.NewAmountFromInt(10000),
		},
	}
	for _, account := range accounts {
		if _, err := store.GetAccount(ctx, account.ID); err == nil {
			continue
		}
		if err := store.PutAccount(ctx, account); err != nil {
			return err
		}
	}
	return nil
}
