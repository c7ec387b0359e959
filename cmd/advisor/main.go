// Command advisor watches short option positions, records versioned
// recommendation snapshots, notifies on material changes and reconciles
// realized trades against past advice.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/config"
	"github.com/eddiefleurent/wheel_watcher/internal/evaluator"
	"github.com/eddiefleurent/wheel_watcher/internal/history"
	"github.com/eddiefleurent/wheel_watcher/internal/indicators"
	"github.com/eddiefleurent/wheel_watcher/internal/marketdata"
	"github.com/eddiefleurent/wheel_watcher/internal/mock"
	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/notify"
	"github.com/eddiefleurent/wheel_watcher/internal/reconcile"
	"github.com/eddiefleurent/wheel_watcher/internal/scheduler"
	"github.com/eddiefleurent/wheel_watcher/internal/scorer"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	var once bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single evaluation cycle and exit")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("loading config")
	}
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if cfg.IsPaper() {
		logger.Info("starting advisor in paper mode")
	} else {
		logger.Info("starting advisor in live mode")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("opening store")
	}
	defer store.Close()

	// Providers in config order; the gateway falls through on failure.
	var providers []marketdata.Provider
	var tradier *marketdata.TradierProvider
	for _, pc := range cfg.Providers {
		switch pc.Name {
		case "tradier":
			tp := marketdata.NewTradierProvider(pc.APIKey, pc.Sandbox, pc.RatePerMinute)
			if tradier == nil {
				tradier = tp
			}
			providers = append(providers,
				marketdata.NewBreakerProvider(tp, marketdata.DefaultBreakerSettings, logger))
		case "mock":
			providers = append(providers, mock.NewProvider())
		}
	}
	gateway := marketdata.NewGateway(logger, 5*time.Minute, providers...)

	var bars indicators.BarSource = mock.NewBarSource()
	if tradier != nil {
		bars = tradier
	}
	reader := indicators.NewTalibReader(bars)

	sc := scorer.New(gateway, reader, scorer.Config{
		MaxWeeksOut: cfg.Scorer.MaxWeeksOut,
		MaxDebit:    cfg.Scorer.MaxDebit,
	}, logger)

	// Paper mode runs on synthetic books; live mode reads the accounts.
	var positions evaluator.PositionFeed
	var trades reconcile.TradeSource
	if cfg.IsPaper() || tradier == nil {
		positions = mock.NewPositionFeed(mock.DemoPositions(cfg.Accounts...)...)
		trades = mock.NewTradeFeed()
	} else {
		feed := marketdata.NewAccountFeed(tradier, cfg.Accounts, logger)
		positions = feed
		trades = feed
	}

	var channels []notify.Channel
	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID != "" {
		channels = append(channels, notify.NewTelegramChannel(
			cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID))
	}
	if cfg.Notify.Webhook != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.Webhook))
	}
	if cfg.Notify.Console {
		channels = append(channels, notify.NewConsoleChannel(logger))
	}
	dispatcher := notify.NewDispatcher(channels, store, logger)
	policy := notify.NewPolicy(cfg.Cooldown())

	var earnings evaluator.EarningsCalendar
	if cfg.Evaluator.EarningsAware {
		earnings = mock.NewEarningsCalendar(cfg.Evaluator.EarningsSymbols...)
	}

	eval := evaluator.New(gateway, sc, reader, earnings, store, policy, dispatcher, positions,
		evaluator.Config{
			Workers:          cfg.Evaluator.Workers,
			ProfitThreshold:  cfg.Evaluator.ProfitThreshold,
			EarningsAware:    cfg.Evaluator.EarningsAware,
			RollDTEThreshold: cfg.Evaluator.RollDTEThreshold,
			Cadences:         cadences(cfg.Notify.Cadence),
		}, logger)

	reconciler := reconcile.New(store, reconcile.Config{
		Window:          cfg.ReconcileWindow(),
		StrikeTolerance: cfg.Reconcile.StrikeTolerance,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if once {
		if _, err := eval.RunCycle(ctx); err != nil {
			logger.WithError(err).Fatal("evaluation cycle failed")
		}
		return
	}

	sched := scheduler.New(cfg.Location(), logger)

	evaluateJob := scheduler.JobFunc{JobName: "evaluate", Fn: func(ctx context.Context) error {
		if !cfg.IsMarketHours(time.Now()) {
			logger.Debug("outside market hours, skipping evaluation")
			return nil
		}
		_, err := eval.RunCycle(ctx)
		return err
	}}
	if err := sched.AddJob(cfg.Schedule.EvaluateCron, evaluateJob); err != nil {
		logger.WithError(err).Fatal("registering evaluate job")
	}

	// Reconciliation picks up where the previous pass left off.
	var reconcileMu sync.Mutex
	lastReconcile := time.Now().Add(-cfg.ReconcileWindow())
	reconcileJob := scheduler.JobFunc{JobName: "reconcile", Fn: func(ctx context.Context) error {
		reconcileMu.Lock()
		since := lastReconcile
		reconcileMu.Unlock()

		now := time.Now()
		if err := reconciler.Run(ctx, trades, since, now); err != nil {
			return err
		}
		reconcileMu.Lock()
		lastReconcile = now
		reconcileMu.Unlock()
		return nil
	}}
	if err := sched.AddJob(cfg.Schedule.ReconcileCron, reconcileJob); err != nil {
		logger.WithError(err).Fatal("registering reconcile job")
	}

	var histServer *history.Server
	if cfg.History.Enabled {
		histServer = history.NewServer(history.Config{
			Port:      cfg.History.Port,
			AuthToken: cfg.History.AuthToken,
		}, store, logger)
		go func() {
			if err := histServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("history server stopped")
			}
		}()
	}

	sched.Start()

	// First evaluation right away so a restart does not wait for the cron.
	if err := sched.RunNow(ctx, evaluateJob); err != nil {
		logger.WithError(err).Warn("initial evaluation cycle failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	sched.Stop()
	if histServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := histServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("history server shutdown")
		}
	}
	logger.Info("advisor stopped")
}

// cadences maps the config cadence selector onto the dispatch list.
func cadences(mode string) []models.Cadence {
	switch mode {
	case "continuous":
		return []models.Cadence{models.CadenceContinuous}
	case "both":
		return []models.Cadence{models.CadenceContinuous, models.CadenceDeduplicated}
	default:
		return []models.Cadence{models.CadenceDeduplicated}
	}
}
