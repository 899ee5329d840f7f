package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/uptimebatch/internal/config"
	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/engine"
	"github.com/hamed0406/uptimebatch/internal/host"
	"github.com/hamed0406/uptimebatch/internal/httpapi"
	apimw "github.com/hamed0406/uptimebatch/internal/httpapi/middleware"
	"github.com/hamed0406/uptimebatch/internal/logging"
	"github.com/hamed0406/uptimebatch/internal/notify"
	"github.com/hamed0406/uptimebatch/internal/probe"
	"github.com/hamed0406/uptimebatch/internal/scheduler"
	"github.com/hamed0406/uptimebatch/internal/source"
	"github.com/hamed0406/uptimebatch/internal/state"
)

var (
	serveAddr  string
	serveStore string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if serveAddr != "" {
				cfg.Addr = serveAddr
			}
			if serveStore != "" {
				cfg.StoreURL = serveStore
			}
			return serve(cmd.Context(), cfg)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "API bind address (overrides API_ADDR)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "state store URL (overrides STORE_URL)")
}

// newChecker builds the probe stack: retries around a single GET, with DNS
// diagnosis of network failures on top.
func newChecker(cfg config.Config) probe.Checker {
	return &probe.DiagnosingChecker{
		Inner:    probe.NewRetryChecker(probe.NewHTTPChecker(cfg.HTTPTimeout), cfg.RetryAttempts, cfg.RetryBackoff),
		Resolver: net.DefaultResolver,
	}
}

func serve(parent context.Context, cfg config.Config) error {
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := state.OpenBackend(ctx, cfg.StoreURL, logger)
	if err != nil {
		return err
	}
	store := state.New(kv, logger, cfg.StateDebounce)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(cctx); err != nil {
			logger.Warn("store_close_failed", zap.Error(err))
		}
	}()

	checker := newChecker(cfg)
	var notifier notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifier = notify.NewSlack(cfg.SlackWebhookURL)
	}

	var eng *engine.Engine
	hst := host.New(logger.Named("host"), host.HandlerFuncs{
		Resume:  func() { eng.OnResume() },
		Suspend: func() { eng.OnSuspend() },
	})
	eng = engine.New(engine.Options{
		Logger:                 logger.Named("engine"),
		Store:                  store,
		Runner:                 scheduler.NewRunner(logger.Named("runner"), checker, cfg.MaxJitter),
		Dispatcher:             notify.NewDispatcher(logger.Named("dispatch"), cfg.DispatchTimeout, version),
		Source:                 source.NewClient(logger.Named("source"), 0),
		Notifier:               notifier,
		Host:                   hst,
		HistoryCap:             cfg.HistoryCap,
		HealthInterval:         cfg.HealthInterval,
		FailureThreshold:       cfg.FailureThreshold,
		RestartDelay:           cfg.RestartDelay,
		SyncInterval:           cfg.SyncInterval,
		DefaultReceiver:        domain.ReceiverConfig{Name: cfg.ReceiverName, URL: cfg.ReceiverURL},
		DefaultIntervalMinutes: cfg.IntervalMinutes,
		DefaultSourceEndpoint:  cfg.SourceURL,
	})

	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	api := httpapi.NewServer(logger.Named("api"), eng, checker, hst)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return hst.Run(gctx) })
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("shutdown_complete", zap.Error(err))
	return err
}
