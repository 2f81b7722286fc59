package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradegate/internal/account"
	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/httpapi"
	"tradegate/internal/idempotency"
	"tradegate/internal/ledger"
	"tradegate/internal/risk"
	"tradegate/internal/router"
	"tradegate/internal/util"
	"tradegate/internal/venue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the routing HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := ledger.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	quotes := venue.NewQuoteSource(cfg.Quotes)

	staged := venue.NewStagedAdapter("staged", venue.StagedConfig{
		Ratios:   cfg.Venues.Staged.Ratios,
		DriftBps: cfg.Venues.Staged.DriftBps,
	}, quotes)

	adapters := []venue.Adapter{
		venue.NewInstantAdapter("instant", quotes),
		staged,
	}
	liveVenues := map[string]bool{}
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		adapters = append(adapters, venue.NewAlpacaAdapter(
			"alpaca", cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, 200))
		liveVenues["alpaca"] = true
	}
	registry := venue.NewRegistry(adapters...)

	loc := time.UTC
	if cfg.Trading.ResetTimezone != "" {
		loc, err = time.LoadLocation(cfg.Trading.ResetTimezone)
		if err != nil {
			return fmt.Errorf("loading reset timezone: %w", err)
		}
	}
	accounts := account.NewManager(cfg.Trading.ResetHour, loc)

	state := router.NewStateHandle(domain.OperatingState{
		Mode:               domain.OperatingMode(cfg.Trading.Mode),
		DailyNotionalLimit: cfg.Trading.DailyNotionalLimit,
	})

	rules, err := buildRules(cfg, state)
	if err != nil {
		return err
	}

	idem := idempotency.NewStore(cfg.Trading.IdempotencyTTL)

	rt := router.New(router.Options{
		Registry:       registry,
		Engine:         risk.NewEngine(rules...),
		Accounts:       accounts,
		Idem:           idem,
		Ledger:         store,
		Quotes:         quotes,
		State:          state,
		Log:            logger,
		LiveVenues:     liveVenues,
		AdapterTimeout: cfg.Trading.AdapterTimeout,
	})
	staged.OnFill = rt.HandleVenueFill

	api := httpapi.NewServer(rt, registry, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Expired idempotency entries are swept in the background.
	go idem.Run(ctx, time.Hour)

	go func() {
		logger.Info("tradegate listening",
			"addr", httpServer.Addr, "mode", cfg.Trading.Mode, "venues", registry.Names())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		// No config file: run with defaults (paper mode, simulated venues).
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// buildRules assembles the risk rule chain in the configured order.
func buildRules(cfg *config.Config, state *router.StateHandle) ([]risk.Rule, error) {
	var rules []risk.Rule
	for _, name := range cfg.Risk.Rules {
		switch name {
		case "max_notional":
			rules = append(rules, &risk.MaxNotionalRule{
				SymbolCaps: cfg.Risk.SymbolCaps,
				DefaultCap: state.DailyNotionalLimit,
				WarnRatio:  cfg.Risk.WarnRatio,
			})
		case "daily_loss":
			rules = append(rules, &risk.DailyLossRule{
				DefaultStopLoss: cfg.Risk.DefaultStopLoss,
			})
		default:
			return nil, fmt.Errorf("unknown risk rule %q", name)
		}
	}
	return rules, nil
}
