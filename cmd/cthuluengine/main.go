// Package main is the entry point for the Cthulu autonomous MT5 trading
// engine. It wires every package's concrete implementation into a
// TradingLoop and runs it until stopped, following the same "create X, wrap
// with resilience, assign to bot struct" shape as the teacher's cmd/bot
// run(), generalized from one broker+strategy+storage trio to the full
// eleven-package pipeline this engine composes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cthuluengine/internal/adoption"
	"cthuluengine/internal/broker"
	"cthuluengine/internal/config"
	"cthuluengine/internal/engine"
	"cthuluengine/internal/exitcoord"
	"cthuluengine/internal/health"
	"cthuluengine/internal/indicators"
	"cthuluengine/internal/lifecycle"
	"cthuluengine/internal/lockfile"
	"cthuluengine/internal/metrics"
	"cthuluengine/internal/risk"
	"cthuluengine/internal/storage"
	"cthuluengine/internal/strategy"
	"cthuluengine/internal/tracker"
	"cthuluengine/internal/watchdog"
)

// Exit codes, per spec.md §6.
const (
	exitOK            = 0
	exitFatal         = 1
	exitConfig        = 2
	exitBrokerUnavail = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cthuluengine", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dryRun := fs.Bool("dry-run", false, "Force dry_run=true regardless of config")
	fs.Bool("skip-setup", false, "Disable interactive setup prompts (headless operation)")
	fs.Bool("no-prompt", false, "Disable interactive prompts (headless operation)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "cthuluengine: --config PATH is required")
		return exitConfig
	}

	// Load .env into the process environment before config.Load resolves any
	// FROM_ENV: references; a missing .env file is not an error, since
	// credentials may already be set in the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "cthuluengine: loading .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cthuluengine: %v\n", err)
		return exitConfig
	}
	if *dryRun {
		cfg.DryRun = true
	}

	log := newLogger(cfg)

	lock, err := lockfile.Acquire(cfg.LockFilePath)
	if err != nil {
		log.WithError(err).Error("failed to acquire singleton lock")
		return exitFatal
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to release lock file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	loop, healthSrv, wd, tradeDB, metricsWorker, err := bootstrap(cfg, log)
	if err != nil {
		if errors.Is(err, errBrokerUnavailable) {
			log.WithError(err).Error("broker unavailable after startup retries")
			return exitBrokerUnavail
		}
		log.WithError(err).Error("bootstrap failed")
		return exitFatal
	}
	defer func() { _ = tradeDB.Close() }()

	loop.OnCycleComplete(wd.Kick)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return loop.Run(gctx) })
	group.Go(func() error { wd.Run(gctx); return nil })
	group.Go(func() error { return metricsWorker.Run(gctx) })
	group.Go(func() error {
		if err := healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		loop.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("engine exited with error")
		return exitFatal
	}

	log.Info("engine stopped cleanly")
	return exitOK
}

// newLogger builds a logrus.Logger per spec.md §6's log_level, writing
// JSON to stdout in every mode; an unparsable level falls back to info.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

var errBrokerUnavailable = errors.New("broker unavailable after startup retries")

// bootstrap wires L1-L11 from cfg, in the order the teacher's run() creates
// its broker, storage, and strategy before assigning them onto Bot.
func bootstrap(cfg *config.Config, log *logrus.Logger) (*engine.TradingLoop, *health.Server, *watchdog.Watchdog, *storage.TradeDB, *metrics.Worker, error) {
	client := broker.NewClient(cfg.MT5.Host, cfg.MT5.Port, cfg.MT5.Password, broker.DefaultRetryConfig)
	br := broker.Broker(broker.NewCircuitBreakerBroker(client))

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer healthCancel()
	if _, err := br.Health(healthCtx); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("%w: %v", errBrokerUnavailable, err)
	}

	snapStore, err := storage.NewSnapshotStore(cfg.StatePath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	tradeDB, err := storage.OpenTradeDB(cfg.TradeDBPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening trade database: %w", err)
	}

	trk := tracker.New(cfg.MagicNumber, log)
	ad := adoption.New(br, adoptionConfig(cfg), log)
	lc := lifecycle.New(br, lifecycle.Config{Log: log})
	ec := exitcoord.New(exitCoordConfig(cfg))
	riskEval := risk.New(riskConfig(cfg))
	sel := engine.NewSelector(cfg.Strategy)

	collector := metrics.New()
	metricsWorker := metrics.NewWorker(collector, metrics.WriterConfig{
		CSVPath:        cfg.Metrics.CSVPath,
		PrometheusPath: cfg.Metrics.PrometheusPath,
		Interval:       cfg.MetricsInterval(),
	}, log)

	loop := engine.New(engine.Deps{
		Broker:          br,
		Tracker:         trk,
		Adoption:        ad,
		Selector:        sel,
		StrategyConfig:  strategyConfig(cfg),
		StrategyIDs:     cfg.Strategy.Strategies,
		IndicatorConfig: indicators.DefaultConfig(),
		RiskEvaluator:   riskEval,
		Lifecycle:       lc,
		ExitCoordinator: ec,
		MetricsWorker:   metricsWorker,
		SnapshotStore:   snapStore,
		TradeDB:         tradeDB,
		Config:          cfg,
		Log:             log,
	})

	healthSrv := health.NewServer(health.Config{Port: cfg.HealthPort}, func() health.Status {
		st := loop.Status()
		return health.Status{Alive: st.Alive, Degraded: st.Degraded, LastCycleEnd: st.LastCycleEnd, OpenCount: st.OpenCount}
	}, log)

	wd := watchdog.New(cfg.WatchdogTimeout(), log)

	return loop, healthSrv, wd, tradeDB, metricsWorker, nil
}

// adoptionConfig overlays cfg's adoption fields onto adoption.DefaultConfig,
// following the engine test suite's pattern of starting from a package
// default and overriding only the scalars an operator's config names.
func adoptionConfig(cfg *config.Config) adoption.Config {
	ac := adoption.DefaultConfig()
	ac.UseATRBasedSLTP = cfg.Adoption.UseATRBasedSLTP
	if cfg.Adoption.EmergencySLATRMult > 0 {
		ac.EmergencySLATRMult = cfg.Adoption.EmergencySLATRMult
	}
	if cfg.Adoption.EmergencyTPATRMult > 0 {
		ac.EmergencyTPATRMult = cfg.Adoption.EmergencyTPATRMult
	}
	if cfg.Adoption.EmergencySLPoints > 0 {
		ac.FallbackPoints = cfg.Adoption.EmergencySLPoints
	}
	if cfg.Adoption.MaxAdoptAge > 0 {
		ac.MaxAdoptAge = cfg.Adoption.MaxAdoptAge
	}
	return ac
}

func exitCoordConfig(cfg *config.Config) exitcoord.Config {
	ec := exitcoord.DefaultConfig()
	if cfg.Risk.EmergencyStopLossPct > 0 {
		ec.FreeMarginThreshold = cfg.Risk.EmergencyStopLossPct
	}
	return ec
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	if cfg.Risk.MaxDailyLoss > 0 {
		rc.MaxDailyLoss = cfg.Risk.MaxDailyLoss
	}
	if cfg.Risk.MaxPositionsPerSymbol > 0 {
		rc.MaxPositionsPerSymbol = cfg.Risk.MaxPositionsPerSymbol
	}
	if cfg.Risk.MaxTotalPositions > 0 {
		rc.MaxTotalPositions = cfg.Risk.MaxTotalPositions
	}
	if cfg.Risk.LiquidityTrapDetection.MaxSpreadATRMult > 0 {
		rc.MaxSpreadThreshold = cfg.Risk.LiquidityTrapDetection.MaxSpreadATRMult
	}
	if cfg.Risk.LiquidityTrapDetection.MinVolumeThreshold > 0 {
		rc.MinVolumeThreshold = cfg.Risk.LiquidityTrapDetection.MinVolumeThreshold
	}
	if cfg.Risk.LiquidityTrapDetection.MaxGapThreshold > 0 {
		rc.MaxGapThreshold = cfg.Risk.LiquidityTrapDetection.MaxGapThreshold
	}
	if len(cfg.Risk.AdaptiveAccountManager.Thresholds) > 0 {
		rc.RecoveryThresholdPct = cfg.Risk.AdaptiveAccountManager.Thresholds[0]
	}
	return rc
}

func strategyConfig(cfg *config.Config) strategy.Config {
	sc := strategy.DefaultConfig()
	for _, ind := range cfg.Indicators {
		if ind.Name == "atr" {
			if period, ok := ind.Params["period"].(float64); ok {
				sc.ATRPeriod = int(period)
			}
		}
	}
	return sc
}
