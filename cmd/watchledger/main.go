package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/config"
	"github.com/kailas-cloud/watchledger/internal/metrics"
	chiTransport "github.com/kailas-cloud/watchledger/internal/transport/chi"
	healthuc "github.com/kailas-cloud/watchledger/internal/usecase/health"
	"github.com/kailas-cloud/watchledger/internal/version"
)

var env string

func main() {
	rootCmd := &cobra.Command{
		Use:           "watchledger",
		Short:         "Ledger of tracked entities reconciled against an external source",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&env, "env", config.GetEnv(), "config environment (config/<env>.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, env)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	metrics.Register()

	if cfg.Scheduler.Disabled {
		logger.Info("Scheduler disabled by config")
	} else if a.scheduler.Start(ctx) {
		logger.Info("Scheduler started",
			zap.Strings("times", a.scheduler.Schedule().Times()),
			zap.Duration("poll_interval", cfg.Scheduler.PollInterval()),
		)
	}

	// A disabled scheduler is not reported as stopped.
	var schedStatus healthuc.SchedulerStatus
	if !cfg.Scheduler.Disabled {
		schedStatus = a.scheduler
	}
	healthSvc := healthuc.New(a.store, a.source, schedStatus)
	server := chiTransport.NewServer(a.ledger, a.engine, a.scheduler, a.budget, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.HTTP.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
			_ = a.scheduler.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := a.scheduler.Close(); err != nil {
		logger.Warn("Scheduler did not stop in time", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			report, passErr := a.engine.Reconcile(cmd.Context())
			if err := printYAML(cmd.OutOrStdout(), reportView(report)); err != nil {
				return err
			}
			return passErr
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the persisted ledger to the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInfra(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer in.Close()

			res, err := in.migrate(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), migrationView{
				From:    res.From,
				To:      res.To,
				Applied: res.Applied,
				Backups: res.Backups,
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var days, history int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print ledger statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer a.Close()

			return printYAML(cmd.OutOrStdout(), statsOutput(a.ledger.Stats(), a.ledger.DailyStats(days), a.ledger.History(history)))
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days in the daily breakdown")
	cmd.Flags().IntVar(&history, "history", 10, "number of history entries")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the allowed run times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInfra(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer in.Close()

			sched := in.newScheduler(cmd.Context())
			return printYAML(cmd.OutOrStdout(), scheduleView(sched.Schedule()))
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set HH:MM [HH:MM...]",
		Short: "Replace the allowed run times",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInfra(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer in.Close()

			sched := in.newScheduler(cmd.Context())
			cfg, err := sched.SetScheduleTimes(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), scheduleView(cfg))
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "watchledger", version.String())
		},
	}
}
