// Command bookkeeper streams BitMEX tables, maintains local order books and account state,
// and periodically reports depth and balance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/bookkeeper/internal/adapters/bitmex"
	"github.com/coachpo/bookkeeper/internal/balance"
	"github.com/coachpo/bookkeeper/internal/book"
	"github.com/coachpo/bookkeeper/internal/bus"
	"github.com/coachpo/bookkeeper/internal/config"
	"github.com/coachpo/bookkeeper/internal/dispatcher"
	"github.com/coachpo/bookkeeper/internal/schema"
	"github.com/coachpo/bookkeeper/internal/snapshot"
	"github.com/coachpo/bookkeeper/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "bookkeeper "
	walletCurrency           = "XBt"
	seedTimeout              = 15 * time.Second
	shutdownTimeout          = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	appCfg, err := config.LoadOrDefault(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, symbol=%s, tables=%v, authenticated=%t",
		appCfg.Environment, appCfg.Bitmex.Symbol, appCfg.Bitmex.Tables, appCfg.Bitmex.Credentials.Authenticated())

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	queue := bus.NewQueue(bus.Config{WarnBacklog: appCfg.Queue.WarnBacklog, Logger: logger})
	books := book.NewRegistry(logger)
	balances := balance.NewAggregator(logger)
	router := dispatcher.NewRouter(books, balances, snapshot.NewStore(logger), logger)
	logger.Printf("routes registered: %v", router.Routes().Tables())

	var account *bitmex.Client
	if appCfg.Bitmex.Credentials.Authenticated() {
		account, err = newAccountClient(logger, appCfg.Bitmex)
		if err != nil {
			logger.Printf("warn: account client unavailable: %v", err)
		} else if err := seedAccount(ctx, logger, account, appCfg.Bitmex.Symbol, balances); err != nil {
			logger.Printf("warn: account seed skipped: %v", err)
		}
	}
	leverage := newLeverageCheck(appCfg.Bitmex, balances, account, logger)

	stream, err := bitmex.NewStream(bitmex.StreamConfigFrom(appCfg.Bitmex), queue)
	if err != nil {
		logger.Fatalf("initialise stream: %v", err)
	}
	logger.Printf("subscribing to %v", stream.Topics())

	rep := &reporter{
		books:    books,
		balances: balances,
		symbol:   appCfg.Bitmex.Symbol,
		depth:    appCfg.Report.Depth,
		interval: appCfg.Report.Interval,
		logger:   logger,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := stream.Run(ctx); err != nil {
			logger.Printf("error: stream stopped: %v", err)
		}
	})

	var exitCode atomic.Int32
	lifecycle.Go(func() {
		if err := consume(ctx, queue, router, rep, leverage); err != nil {
			logger.Printf("error: consumer stopped: %v", err)
			exitCode.Store(1)
			cancel()
		}
	})

	logger.Print("bookkeeper started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		queue:      queue,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))

	if code := exitCode.Load(); code != 0 {
		os.Exit(int(code))
	}
}

// consume applies queued frames in arrival order, stepping the leverage check after each
// one. Only an undecodable envelope stops it. A nil check is skipped.
func consume(ctx context.Context, queue *bus.Queue, router *dispatcher.Router, rep *reporter, leverage *leverageCheck) error {
	err := queue.Run(ctx, func(msg bus.Message) error {
		if err := router.Dispatch(msg.Payload); err != nil {
			return fmt.Errorf("dispatch frame received at %s: %w", msg.Received.Format(time.RFC3339Nano), err)
		}
		leverage.step(ctx)
		rep.maybeReport(msg.Received)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newAccountClient(logger *log.Logger, cfg config.BitmexConfig) (*bitmex.Client, error) {
	clientCfg := bitmex.ClientConfigFrom(cfg)
	clientCfg.Logger = logger
	client, err := bitmex.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}
	return client, nil
}

// seedAccount loads wallet and positions over REST so the first report has account state
// before the stream's partials arrive.
func seedAccount(ctx context.Context, logger *log.Logger, client *bitmex.Client, symbol string, balances *balance.Aggregator) error {
	seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()

	wallet, err := client.Wallet(seedCtx, walletCurrency)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	positions, err := client.Positions(seedCtx, symbol)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	balances.ApplyWallet(schema.ActionPartial, []schema.WalletRow{wallet})
	balances.ApplyPosition(schema.ActionPartial, positions)
	limits := client.RateLimit()
	logger.Printf("account seeded: positions=%d, rate limit remaining=%d/%d", len(positions), limits.Remaining, limits.Limit)
	return nil
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// telemetryConfigFrom layers the application config over the OTEL_* environment defaults.
// Boolean switches set by either side stay on.
func telemetryConfigFrom(env config.Environment, cfg config.TelemetryConfig) telemetry.Config {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || cfg.OTLPInsecure
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.Enabled
	return telemetryCfg
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetryConfigFrom(env, cfg)
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

type gracefulShutdownConfig struct {
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	queue      *bus.Queue
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.queue != nil {
		logger.Printf("shutdown: closing queue, discarding %d pending messages", cfg.queue.Len())
		cfg.queue.Close()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return filepath.Clean(defaultConfigPath)
}
