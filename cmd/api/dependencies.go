package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/ledger-intake/internal/domain/currency"
	"github.com/FACorreiaa/ledger-intake/internal/domain/currency/ratesource"
	"github.com/FACorreiaa/ledger-intake/internal/domain/duplicate"
	piecehandler "github.com/FACorreiaa/ledger-intake/internal/domain/piece/handler"
	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/repository"
	pieceservice "github.com/FACorreiaa/ledger-intake/internal/domain/piece/service"

	"github.com/FACorreiaa/ledger-intake/pkg/config"
	"github.com/FACorreiaa/ledger-intake/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	PieceRepo repository.PieceRepository

	// Services
	RateEngine    *currency.Engine
	Detector      *duplicate.Detector
	PieceService  *pieceservice.PieceService
	ProcessorPool *pieceservice.Pool
	Janitor       *pieceservice.Janitor

	// Handlers
	PieceHandler *piecehandler.PieceHandler

	stopJanitor context.CancelFunc
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.PieceRepo = repository.NewPostgresPieceRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	d.RateEngine = currency.NewEngine(
		d.rateSource(),
		currency.Config{LookupTimeout: d.Config.Rates.LookupTimeout},
		d.Logger,
	)
	d.Detector = duplicate.NewDetector(d.PieceRepo, duplicate.Config{Tolerance: d.Config.Duplicate.Tolerance}, d.Logger)
	d.PieceService = pieceservice.NewPieceService(d.PieceRepo, d.RateEngine, d.Detector, d.Logger)

	d.ProcessorPool = pieceservice.NewPool(context.Background(), d.PieceService, pieceservice.PoolConfig{
		Workers:   d.Config.Processing.Workers,
		QueueSize: d.Config.Processing.QueueSize,
	}, d.Logger)

	d.Janitor = pieceservice.NewJanitor(d.PieceRepo, pieceservice.JanitorConfig{
		StaleAfter: d.Config.Processing.StaleAfter,
		Interval:   d.Config.Processing.SweepInterval,
	}, d.Logger)
	janitorCtx, cancel := context.WithCancel(context.Background())
	d.stopJanitor = cancel
	go d.Janitor.Run(janitorCtx)

	d.Logger.Info("services initialized",
		"workers", d.Config.Processing.Workers,
		"queue_size", d.Config.Processing.QueueSize,
	)
	return nil
}

// rateSource chains the stored rates, then the rates API when configured,
// behind an in-memory cache.
func (d *Dependencies) rateSource() ratesource.Source {
	sources := []ratesource.Source{ratesource.NewPostgres(d.DB.Pool)}
	if d.Config.Rates.APIURL != "" {
		sources = append(sources, ratesource.NewHTTP(ratesource.HTTPConfig{
			BaseURL:           d.Config.Rates.APIURL,
			APIKey:            d.Config.Rates.APIKey,
			Timeout:           d.Config.Rates.LookupTimeout,
			RequestsPerSecond: d.Config.Rates.RequestsPerSecond,
		}))
	} else {
		d.Logger.Warn("RATES_API_URL not set; using stored and static rates only")
	}
	return ratesource.NewCached(ratesource.FirstOf(sources...), d.Config.Rates.CacheTTL)
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.PieceHandler = piecehandler.NewPieceHandler(d.ProcessorPool, d.PieceService, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup drains the worker pool and closes all resources
func (d *Dependencies) Cleanup() {
	if d.stopJanitor != nil {
		d.stopJanitor()
	}
	if d.ProcessorPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.ProcessorPool.Shutdown(ctx); err != nil {
			d.Logger.Warn("processing pool did not drain", "error", err)
		}
		cancel()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
