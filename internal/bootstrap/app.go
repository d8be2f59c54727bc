// Package bootstrap wires configuration, venues and loops into a runnable process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedged_mm/internal/alert"
	"hedged_mm/internal/config"
	"hedged_mm/internal/core"
	"hedged_mm/internal/exchange/backpack"
	"hedged_mm/internal/exchange/lighter"
	"hedged_mm/internal/infrastructure/health"
	"hedged_mm/internal/infrastructure/metrics"
	"hedged_mm/internal/journal"
	"hedged_mm/internal/trading/order"
	"hedged_mm/internal/trading/orchestrator"
	"hedged_mm/pkg/concurrency"
	"hedged_mm/pkg/logging"
	"hedged_mm/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const serviceName = "hedged_mm"

// App represents the application context and holds core dependencies.
type App struct {
	Cfg    *config.Config
	Logger *logging.ZapLogger

	telemetry *telemetry.Telemetry
	pool      *concurrency.WorkerPool
	alerts    *alert.AlertManager
	journal   *journal.Journal
	health    *health.HealthManager

	Primary   core.IPrimaryVenue
	Secondary core.ISecondaryVenue

	executor *order.OrderExecutor
	updates  *orchestrator.OrderUpdateLog
	Maker    *orchestrator.MarketMaker
	Hedger   *orchestrator.Hedger
	server   *metrics.Server
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// NewApp creates a new App instance by bootstrapping all dependencies.
// Anything it fails on is reported before any order is sent.
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Cfg
	logger := a.Logger

	a.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  cfg.Concurrency.AlertPoolSize,
		MaxCapacity: cfg.Concurrency.AlertPoolBuffer,
		IdleTimeout: time.Minute,
		NonBlocking: true,
	}, logger)

	a.alerts = alert.NewAlertManager(a.pool, logger)
	if cfg.Alert.SlackWebhook.IsSet() {
		a.alerts.AddChannel(alert.NewSlackChannel(cfg.Alert.SlackWebhook.Reveal()))
	}
	if cfg.Alert.TelegramBotToken.IsSet() {
		a.alerts.AddChannel(alert.NewTelegramChannel(cfg.Alert.TelegramBotToken.Reveal(), cfg.Alert.TelegramChatID))
	}

	primary, err := backpack.NewExchange(backpack.Config{
		APIKey:     cfg.Venues.Primary.APIKey.Reveal(),
		SecretKey:  cfg.Venues.Primary.SecretKey.Reveal(),
		BaseURL:    cfg.Venues.Primary.BaseURL,
		WSURL:      cfg.Venues.Primary.WSURL,
		Quote:      cfg.Venues.Primary.Quote,
		MarketType: cfg.Venues.Primary.MarketType,
		Window:     time.Duration(cfg.Venues.Primary.WindowMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return a.startupFailure("primary venue", err)
	}
	a.Primary = primary
	logger.Info("Primary venue ready", "api_key", cfg.Venues.Primary.APIKey.Hint())

	if cfg.RunsHedger() {
		secondary, err := lighter.NewExchange(lighter.Config{
			BaseURL:      cfg.Venues.Secondary.BaseURL,
			AccountIndex: cfg.Venues.Secondary.AccountIndex,
			APIKeyIndex:  cfg.Venues.Secondary.APIKeyIndex,
			SignerURL:    cfg.Venues.Secondary.SignerURL,
			MaxSlippage:  cfg.Venues.Secondary.MaxSlippage,
		}, nil, logger)
		if err != nil {
			return a.startupFailure("secondary venue", err)
		}
		a.Secondary = secondary
	}

	tel, err := telemetry.SetupWithOptions(serviceName, telemetry.Options{})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = tel

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return a.startupFailure("journal", err)
		}
		a.journal = j
	}

	a.health = health.NewHealthManager(logger)
	if cfg.RunsMaker() {
		a.buildMaker()
	}
	if cfg.RunsHedger() {
		a.buildHedger()
	}

	if a.journal != nil {
		a.health.Register("journal", a.journal.Ping)
	}

	if cfg.Telemetry.EnableMetrics {
		a.server = metrics.NewServer(cfg.Telemetry.MetricsPort, a.health, a.status, logger)
	}
	return nil
}

func (a *App) buildMaker() {
	cfg := a.Cfg

	a.executor = order.NewOrderExecutor(a.Primary, a.Logger)
	a.executor.SetRateLimit(cfg.RateLimit.OrdersPerSecond, cfg.RateLimit.Burst)
	a.updates = orchestrator.NewOrderUpdateLog(0, a.Logger)

	opts := []orchestrator.MakerOption{
		orchestrator.WithMakerAlerter(a.alerts),
		orchestrator.WithOrderUpdates(a.updates),
		orchestrator.WithCancelOnExit(cfg.System.CancelsOnExit()),
	}
	if a.journal != nil {
		opts = append(opts, orchestrator.WithMakerJournal(a.journal))
	}
	a.Maker = orchestrator.NewMarketMaker(cfg.TradingParams(), a.Primary, a.executor, a.Logger, opts...)

	staleAfter := 10*cfg.Trading.WaitTime + time.Minute
	a.health.Register("maker", func() error { return a.Maker.CheckHealth(staleAfter) })
	a.health.Register("order_executor", a.executor.CheckHealth)
}

func (a *App) buildHedger() {
	cfg := a.Cfg

	opts := []orchestrator.HedgerOption{
		orchestrator.WithHedgerAlerter(a.alerts),
		orchestrator.WithHedgeInterval(cfg.Hedge.Interval),
		orchestrator.WithSkipOnPartial(cfg.Hedge.SkipOnPartial()),
	}
	if a.journal != nil {
		opts = append(opts, orchestrator.WithHedgerJournal(a.journal))
	}
	a.Hedger = orchestrator.NewHedger(a.Primary, a.Secondary, cfg.Hedge.MinActionQuantity, a.Logger, opts...)

	staleAfter := 10*cfg.Hedge.Interval + time.Minute
	a.health.Register("hedger", func() error { return a.Hedger.CheckHealth(staleAfter) })
}

func (a *App) startupFailure(what string, err error) error {
	a.Logger.Error("Startup failed", "component", what, "error", err)
	a.alerts.Alert(context.Background(), "hedged_mm failed to start", err.Error(), core.AlertCritical,
		map[string]string{"component": what})
	return fmt.Errorf("%s: %w", what, err)
}

// Runners lists the loops enabled by app.mode plus the ops server.
func (a *App) Runners() []Runner {
	var runners []Runner
	if a.Maker != nil {
		runners = append(runners, a.Maker)
	}
	if a.Hedger != nil {
		runners = append(runners, a.Hedger)
	}
	if a.server != nil {
		runners = append(runners, a.server)
	}
	return runners
}

// Start runs every configured runner until a signal arrives or one of them fails.
func (a *App) Start() error {
	defer a.Close()
	return a.Run(a.Runners()...)
}

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.runWithContext(ctx, runners...)
}

func (a *App) runWithContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "mode", a.Cfg.App.Mode, "runners", len(runners))

	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	// errgroup cancels the others once any runner fails.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases everything NewApp acquired. Safe to call more than once.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Stop()
		a.pool = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.Logger.Warn("Failed to close journal", "error", err)
		}
		a.journal = nil
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.Logger.Warn("Failed to shut down telemetry", "error", err)
		}
		cancel()
		a.telemetry = nil
	}
	_ = a.Logger.Sync()
}
