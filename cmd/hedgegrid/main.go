// Command hedgegrid runs the hedge-grid engine: two exchange sessions, one
// shared ATR-derived grid plan, and a GridExecutor per direction supervised
// by a SyncController.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedgegrid/internal/atrchannel"
	"hedgegrid/internal/config"
	"hedgegrid/internal/dualaccount"
	"hedgegrid/internal/eventlog"
	"hedgegrid/internal/exchange/binance"
	"hedgegrid/internal/gridexec"
	"hedgegrid/internal/gridplan"
	"hedgegrid/internal/metrics"
	"hedgegrid/internal/model"
	"hedgegrid/internal/synccontroller"
	"hedgegrid/pkg/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/hedgegrid.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hedgegrid version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting hedgegrid", "version", version, "symbol", cfg.Symbol.Symbol)
	logger.Debug("resolved configuration", "config", cfg.String())

	metricsServer := metrics.NewServer(cfg.System.MetricsPort, logger)
	metricsServer.Start()

	longSession := binance.New(binance.Config{
		APIKey:    string(cfg.Long.APIKey),
		APISecret: string(cfg.Long.APISecret),
		BaseURL:   cfg.Long.BaseURL,
	}, logger.WithField("account", "long"))
	shortSession := binance.New(binance.Config{
		APIKey:    string(cfg.Short.APIKey),
		APISecret: string(cfg.Short.APISecret),
		BaseURL:   cfg.Short.BaseURL,
	}, logger.WithField("account", "short"))

	accounts := dualaccount.New(longSession, shortSession, cfg.Symbol.Symbol, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbolRules, err := longSession.SymbolRules(ctx, cfg.Symbol.Symbol)
	if err != nil {
		logger.Error("failed to fetch symbol rules", "error", err)
		os.Exit(1)
	}

	execCfg := gridexec.Config{
		MaxOpenOrders:       cfg.Grid.MaxOpenOrders,
		MaxOrdersPerBatch:   cfg.Grid.MaxOrdersPerBatch,
		OrderFrequency:      secondsToDuration(cfg.Grid.OrderFrequencySeconds),
		ActivationBoundsPct: cfg.Grid.ActivationBoundsPct,
		UpperLowerRatio:     cfg.Grid.UpperLowerRatio,
		OrderTimeout:        time.Duration(cfg.Grid.OrderTimeoutSeconds) * time.Second,
		SafeExtraSpread:     symbolRules.TickSize,
	}

	longExec := gridexec.New(model.Long, longSession, cfg.Symbol.Symbol, symbolRules, execCfg, logger)
	shortExec := gridexec.New(model.Short, shortSession, cfg.Symbol.Symbol, symbolRules, execCfg, logger)

	var eventSink *eventlog.Sink
	if cfg.System.EventLogPath != "" {
		eventSink, err = eventlog.Open(cfg.System.EventLogPath)
		if err != nil {
			logger.Error("failed to open event log", "path", cfg.System.EventLogPath, "error", err)
			os.Exit(1)
		}
		defer eventSink.Close()
		longExec.SetEvents(eventSink)
		shortExec.SetEvents(eventSink)
	}

	atrCfg := atrchannel.Config{
		Length:     cfg.Symbol.ATRLength,
		Multiplier: cfg.Symbol.ATRMultiplier,
		Lookback:   cfg.Symbol.ATRLookback,
	}
	gridCfg := gridplan.Config{
		SpacingMultiplier: cfg.Grid.SpacingMultiplier,
		MaxOpenOrders:     cfg.Grid.MaxOpenOrders,
		SafetyFactor:      cfg.Grid.SafetyFactor,
		MaxLeverageLimit:  cfg.Grid.MaxLeverageLimit,
		UtilizationRatio:  cfg.Grid.UtilizationRatio,
	}
	riskCfg := synccontroller.Config{
		RiskCheckInterval:      secondsToDuration(cfg.Risk.RiskCheckIntervalSeconds),
		MaxMarginRatio:         cfg.Risk.MaxMarginRatio,
		MaxDrawdownPct:         cfg.Risk.MaxDrawdownPct,
		BalanceTolerancePct:    cfg.Risk.BalanceTolerancePct,
		DisconnectGrace:        30 * time.Second,
		ForceFlattenOnStart:    cfg.Risk.ForceFlattenOnStart,
		ResetOnChannelBreakout: cfg.Risk.ResetOnChannelBreakout,
	}

	controller := synccontroller.New(
		accounts, longExec, shortExec,
		cfg.Symbol.Symbol, cfg.Symbol.QuoteAsset,
		riskCfg, atrCfg, gridCfg, cfg.Symbol.ATRTimeframe, cfg.Symbol.ATRLookback+10,
		logger,
	)
	controller.SetEvents(eventSink)

	errCh := make(chan error, 1)
	go func() { errCh <- controller.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal, draining")
		controller.Stop()
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("controller stopped with error", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping metrics server", "error", err)
	}

	logger.Info("hedgegrid stopped")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
