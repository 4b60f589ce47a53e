package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/futures/binance"
	"github.com/rustyeddy/futures/config"
	"github.com/rustyeddy/futures/engine"
	"github.com/rustyeddy/futures/journal"
	"github.com/rustyeddy/futures/pkg/logger"
	"github.com/rustyeddy/futures/statestore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engines against Binance futures",
	Long: `Run the configured strategy engines against the Binance USD-M
futures venue. Credentials are read from the BINANCE_API_KEY and
BINANCE_API_SECRET environment variables (a .env file in the working
directory is loaded if present).

Example:
  futures run -f futures.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Engine.Debug); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	// A missing .env is fine; the variables may already be exported.
	godotenv.Load()

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}

	tickInterval, err := cfg.Engine.ParseTickInterval()
	if err != nil {
		return fmt.Errorf("engine.tick_interval: %w", err)
	}
	lockTTL, err := cfg.Engine.ParseLockTTL()
	if err != nil {
		return fmt.Errorf("engine.lock_ttl: %w", err)
	}

	client := binance.NewClient(creds, cfg.Exchange)
	streams := binance.NewStreams(client, cfg.Symbol, "1m", klineHistory(cfg))

	var j journal.Journal
	switch cfg.Journal.Type {
	case "csv":
		j, err = journal.NewCSV(cfg.Journal.TradesFile)
	case "sqlite":
		j, err = journal.NewSQLite(cfg.Journal.DBPath)
	}
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	if j != nil {
		defer j.Close()
	}

	newStore := func(strategy string) (*statestore.Store, error) {
		if !cfg.State.Enabled {
			return nil, nil
		}
		flush, err := cfg.State.ParseFlushInterval()
		if err != nil {
			return nil, fmt.Errorf("state.flush_interval: %w", err)
		}
		return statestore.New(cfg.State.Dir, strategy, cfg.Symbol, flush), nil
	}

	type stoppable interface{ Stop() }
	var engines []stoppable

	if cfg.Trend.Enabled {
		store, err := newStore("trend")
		if err != nil {
			return err
		}
		t := engine.NewTrend(cfg.Trend, engine.Options{
			Symbol:       cfg.Symbol,
			Transport:    client,
			Streams:      streams,
			Journal:      j,
			Store:        store,
			TickInterval: tickInterval,
			LockTTL:      lockTTL,
			LogCapacity:  cfg.Engine.LogCapacity,
		})
		t.Start()
		engines = append(engines, t)
		logger.Info("trend engine started symbol=%s qty=%g loss_limit=%g",
			cfg.Symbol, cfg.Trend.Quantity, cfg.Trend.LossLimit)
	}

	if cfg.Maker.Enabled {
		store, err := newStore("maker")
		if err != nil {
			return err
		}
		m := engine.NewMaker(cfg.Maker, engine.Options{
			Symbol:       cfg.Symbol,
			Transport:    client,
			Streams:      streams,
			Journal:      j,
			Store:        store,
			TickInterval: tickInterval,
			LockTTL:      lockTTL,
			LogCapacity:  cfg.Engine.LogCapacity,
		})
		m.Start()
		engines = append(engines, m)
		logger.Info("maker engine started symbol=%s qty=%g offset=%g",
			cfg.Symbol, cfg.Maker.Quantity, cfg.Maker.QuoteOffset)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		logger.Info("metrics on %s/metrics", cfg.Metrics.Listen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamErr := make(chan error, 1)
	go func() { streamErr <- streams.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("received %v, shutting down", s)
	case err := <-streamErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("market streams stopped: %v", err)
		}
	}

	cancel()
	for _, e := range engines {
		e.Stop()
	}
	logger.Info("shutdown complete")
	return nil
}

// klineHistory sizes the kline buffer to cover the SMA window with room
// for the forming candle.
func klineHistory(cfg *config.Config) int {
	period := cfg.Trend.KlinePeriod
	if period <= 0 {
		period = 30
	}
	return period*2 + 1
}
