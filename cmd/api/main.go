package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"creatorlink.payments/internal/api"
	"creatorlink.payments/internal/auth"
	"creatorlink.payments/internal/config"
	"creatorlink.payments/internal/ledger"
	"creatorlink.payments/internal/lock"
	"creatorlink.payments/internal/payments"
	"creatorlink.payments/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "payments",
	Short:         "Creator payouts and ledger reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sweep recent ledger transfers and withdrawals into local records",
	RunE:  runReconcile,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	reconcileCmd.Flags().Duration("since", 24*time.Hour, "how far back to list ledger objects")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("payments exited")
	}
}

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *logrus.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	service *payments.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, pool: pool}

	var locker lock.Locker = lock.Nop
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		locker = lock.NewRedis(a.redis)
	} else {
		logger.Warn("REDIS_ADDRESS not set, payment locks are disabled")
	}

	lc := ledger.NewHTTPClient(ledger.Config{
		BaseURL: cfg.Ledger.BaseURL,
		APIKey:  cfg.Ledger.APIKey,
		Timeout: cfg.Ledger.Timeout,
	})

	a.service = payments.New(store.New(pool), lc, locker, logger, payments.Config{
		PlatformAccountID:     cfg.Ledger.PlatformAccountID,
		AppURL:                cfg.AppURL,
		MinWithdrawal:         cfg.MinWithdrawal,
		LedgerEnforcesMinimum: cfg.Ledger.EnforcesMinimum,
	})
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	srv := api.NewServer(a.service, auth.NewVerifier(a.cfg.JWTSecret), a.cfg.Ledger.WebhookSecret, a.logger)

	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctxShutdown)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	since, err := cmd.Flags().GetDuration("since")
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.service.Reconcile(cmd.Context(), time.Now().Add(-since))
	if err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"transfers":   report.Transfers,
		"withdrawals": report.Withdrawals,
		"applied":     report.Applied,
		"failed":      report.Failed,
	}).Info("reconcile finished")
	return nil
}
