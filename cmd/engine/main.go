package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riskGate/config"
	"riskGate/internal/adapters/binancevenue"
	"riskGate/internal/adapters/eventbus"
	"riskGate/internal/adapters/logger"
	"riskGate/internal/adapters/simvenue"
	"riskGate/internal/adapters/sqlite"
	"riskGate/internal/domain"
	"riskGate/internal/gateway"
	"riskGate/internal/ledger"
	"riskGate/internal/monitoring"
	"riskGate/internal/ports"
	"riskGate/internal/risk"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize zap logger: %v", err)
		}
		defer zl.Sync()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Audit Sink (Database Adapter)
	audit, err := sqlite.NewAuditSink(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize audit sink")
		log.Fatalf("FATAL: Failed to initialize audit sink: %v", err)
	}
	defer func() {
		if err := audit.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing audit sink")
		}
	}()

	// 4. Initialize Event Bus
	bus, err := eventbus.New(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize event bus")
		log.Fatalf("FATAL: Failed to initialize event bus: %v", err)
	}
	defer bus.Close()

	// 5. Initialize Execution Venue
	var venue ports.ExecutionVenue
	switch cfg.Venue {
	case config.VenueBinance:
		venue, err = binancevenue.New(binancevenue.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance venue")
			log.Fatalf("FATAL: Failed to initialize Binance venue: %v", err)
		}
	case config.VenueSim:
		venue, err = simvenue.New(simvenue.Config{Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize simulated venue")
			log.Fatalf("FATAL: Failed to initialize simulated venue: %v", err)
		}
	case config.VenueNone:
		venue = nil // Pure in-memory mode
	}
	appLogger.Info(ctx, "Execution venue initialized", map[string]interface{}{"venue": string(cfg.Venue)})

	// 6. Initialize Risk Evaluator
	evaluator, err := risk.New(risk.Config{
		TotalCapital:          cfg.TotalCapital,
		MaxTotalPositionRatio: cfg.MaxTotalPositionRatio,
		MaxSingleStockRatio:   cfg.MaxSingleStockRatio,
		MaxSectorRatio:        cfg.MaxSectorRatio,
		MaxOrderToVolumeRatio: cfg.MaxOrderToVolumeRatio,
		DailyLossLimitRatio:   cfg.DailyLossLimitRatio,
		StopLossRatio:         cfg.StopLossRatio,
		TakeProfitRatio:       cfg.TakeProfitRatio,
		SectorResolver:        risk.SectorResolver(cfg.SectorResolver()),
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk evaluator")
		log.Fatalf("FATAL: Failed to initialize risk evaluator: %v", err)
	}

	// 7. Initialize Order Ledger
	book, err := ledger.New(ledger.Config{
		Evaluator: evaluator,
		Venue:     venue,
		Audit:     audit,
		Bus:       bus,
		Logger:    appLogger,
		RoundLot:  cfg.RoundLotSize,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize order ledger")
		log.Fatalf("FATAL: Failed to initialize order ledger: %v", err)
	}

	// Confirmed fills flow back into the portfolio; nothing mutates it
	// during admission checks.
	book.OnStatusChange(func(order *domain.Order) {
		if order.Status != domain.StatusFilled || order.FilledQuantity <= 0 {
			return
		}
		applyFill(ctx, evaluator, order)
	})

	// 8. Initialize Risk Gateway
	gw, err := gateway.New(gateway.Config{
		Ledger:      book,
		Evaluator:   evaluator,
		Bus:         bus,
		Logger:      appLogger,
		AutoProtect: cfg.AutoProtect,
		RoundLot:    cfg.RoundLotSize,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk gateway")
		log.Fatalf("FATAL: Failed to initialize risk gateway: %v", err)
	}
	appLogger.Info(ctx, "Risk gateway initialized", map[string]interface{}{"autoProtect": cfg.AutoProtect})

	// 9. Metrics Endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", monitoring.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(ctx, err, "Metrics endpoint stopped", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 10. Periodic Sweeps and Retention
	go gw.RunSweeps(ctx, cfg.SweepInterval)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := book.CleanupOrders(cfg.OrderRetention)
				pruned := gw.PruneAlerts(cfg.AlertRetention) + gw.PruneActions(cfg.AlertRetention)
				appLogger.Debug(ctx, "Retention sweep complete", map[string]interface{}{
					"ordersRemoved": removed, "recordsPruned": pruned,
				})
			}
		}
	}()

	// 11. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	cancel()

	appLogger.Info(context.Background(), "Engine stopped.")
}

// applyFill folds a confirmed fill into the evaluator's portfolio.
func applyFill(ctx context.Context, evaluator *risk.Evaluator, order *domain.Order) {
	var existing *domain.Position
	for _, pos := range evaluator.OpenPositions() {
		if pos.Symbol == order.Symbol {
			p := pos
			existing = &p
			break
		}
	}

	switch order.Side {
	case domain.Buy:
		if existing == nil {
			evaluator.UpdatePosition(ctx, domain.Position{
				Symbol:       order.Symbol,
				Quantity:     order.FilledQuantity,
				CostBasis:    order.AvgFillPrice,
				CurrentPrice: order.AvgFillPrice,
				Strategy:     order.Strategy,
			})
			return
		}
		newQty := existing.Quantity + order.FilledQuantity
		newBasis := (existing.CostBasis*existing.Quantity + order.AvgFillPrice*order.FilledQuantity) / newQty
		existing.Quantity = newQty
		existing.CostBasis = newBasis
		existing.CurrentPrice = order.AvgFillPrice
		evaluator.UpdatePosition(ctx, *existing)
	case domain.Sell:
		if existing == nil {
			return
		}
		realized := (order.AvgFillPrice - existing.CostBasis) * order.FilledQuantity
		evaluator.UpdateDailyPnL(ctx, realized)
		existing.Quantity -= order.FilledQuantity
		existing.CurrentPrice = order.AvgFillPrice
		evaluator.UpdatePosition(ctx, *existing) // Non-positive quantity closes the position
	}
}
