/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock engine server. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve    Run the HTTP API (and the order listener when Kafka is configured)
  migrate  Create or upgrade the SQLite schema and exit

STARTUP SEQUENCE (serve):
  1. Load config (defaults, --config YAML, .env, environment, flags)
  2. Build zap logger
  3. Open store (sqlite or memory)
  4. Create engine, ledger and API handler
  5. Start order listener if brokers are set
  6. Start HTTP server with graceful shutdown

FLAGS:
  --config  YAML config file
  --port    HTTP server port (serve)
  --db      SQLite database path, or "memory" for the in-memory store

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the order listener
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server serve --db=./data/stock.db
  ./server serve --db=memory --port=3000
  ./server migrate --db=./data/stock.db

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/events"
	"github.com/warp/stock-engine/inventory"
	memstore "github.com/warp/stock-engine/inventory/store"
	"github.com/warp/stock-engine/logger"
	"github.com/warp/stock-engine/store/sqlite"
)

type rootOptions struct {
	configPath string
	port       int
	dbPath     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "stock-engine",
		Short:         "Inventory transaction engine",
		Long:          "Records sales and purchases and keeps product stock consistent with the ledger.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", `SQLite database path, or "memory"`)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	serve.Flags().IntVar(&opts.port, "port", 0, "HTTP server port")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "sqlite" {
				return errors.New("migrate requires the sqlite driver")
			}
			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.Database.Path)
			return store.Close()
		},
	}

	cmd.AddCommand(serve, migrate)
	return cmd
}

// loadConfig applies flags that were set explicitly on top of the loaded config.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("db") {
		if opts.dbPath == "memory" {
			cfg.Database.Driver = "memory"
		} else {
			cfg.Database.Driver = "sqlite"
			cfg.Database.Path = opts.dbPath
		}
	}
	return cfg, cfg.Validate()
}

func openStore(cfg *config.Config) (inventory.Backend, func() error, error) {
	if cfg.Database.Driver == "memory" {
		return memstore.NewMemory(), func() error { return nil }, nil
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, store.Close, nil
}

func runServe(cfg *config.Config) error {
	log, err := logger.New(cfg.Logger, cfg.IsDevelopment())
	if err != nil {
		return err
	}
	defer log.Sync()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return err
	}
	defer closeStore()

	engine := inventory.NewEngine(store,
		inventory.WithConfig(cfg.EngineConfig()),
		inventory.WithLogger(log.Named("engine")),
	)
	ledger := inventory.NewLedger(store, cfg.Engine.LedgerPageSize)
	handler := api.NewHandler(store, engine, ledger, log.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		reader := events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		listener := events.NewOrderListener(reader, engine, log.Named("orders"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Start(ctx)
		}()
		defer listener.Close()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db_driver", cfg.Database.Driver),
			zap.String("db_path", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	wg.Wait()

	log.Info("server stopped")
	return nil
}
