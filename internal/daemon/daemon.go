package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/synapse-grid/synapse/internal/api"
	"github.com/synapse-grid/synapse/internal/health"
	_ "github.com/synapse-grid/synapse/internal/infra/metrics" // Register Prometheus metrics
	"github.com/synapse-grid/synapse/internal/infra/sqlite"
	"github.com/synapse-grid/synapse/internal/infra/store"
	"github.com/synapse-grid/synapse/internal/orchestrator"
)

// Daemon is the orchestrator runtime. It wires together all services.
type Daemon struct {
	Config       Config
	Logger       *zap.Logger
	DB           *sqlite.DB
	Store        *store.Buffered
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server
	Health       *health.Checker
	cancel       context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	// Open SQLite
	db, err := sqlite.Open(synapseHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Write-behind persistence
	buffered := store.NewBuffered(db, store.DefaultConfig(), logger)

	// Orchestrator core
	orchCfg := orchestrator.Config{
		TickInterval:     parseDuration(cfg.Orchestrator.TickInterval, 500*time.Millisecond),
		HeartbeatTimeout: parseDuration(cfg.Orchestrator.HeartbeatTimeout, 300*time.Second),
		UnmetDemandGrace: parseDuration(cfg.Orchestrator.UnmetDemandGrace, 60*time.Second),
		TaskRetention:    parseDuration(cfg.Orchestrator.TaskRetention, 24*time.Hour),
		Distributor: orchestrator.DistributorConfig{
			MaxTasksPerModule: cfg.Orchestrator.MaxTasksPerModule,
		},
		Scoring: orchestrator.ScoringConfig{
			DecayRate:        cfg.Scoring.DecayRate,
			CrossDomainBonus: cfg.Scoring.CrossDomainBonus,
			LatencyRefSecs:   cfg.Scoring.LatencyRefSecs,
		},
	}
	orch := orchestrator.New(orchCfg, buffered, logger)
	orch.Restore()

	// Health checker
	checker := health.NewChecker(db, orch, orchCfg.TickInterval)

	// API server
	srv := api.NewServer(orch)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Store:        buffered,
		Orchestrator: orch,
		Server:       srv,
		Health:       checker,
	}, nil
}

// Serve starts the tick loop and HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Orchestrator.Run(ctx)
	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.Store.Flush(time.Now())
		_ = d.DB.Close()
	}()

	d.Logger.Info("synapse serving",
		zap.String("addr", addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))
	fmt.Printf("Synapse serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Store != nil {
		_ = d.Store.Flush(time.Now())
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}

// newLogger builds the zap logger from config. An empty file logs to stderr.
func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	}
	return zc.Build()
}
