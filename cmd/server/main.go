/*
main.go - Application entry point

PURPOSE:
  Command line for the dormitory tenancy engine. Loads configuration,
  wires the engines to SQLite, slip storage and LINE notifications, and
  runs the HTTP server or a one-off maintenance command.

COMMANDS:
  serve          HTTP API, fine scheduler and notification delivery
  worker         Notification delivery only, from the redis event stream
  seed           Load a demo scenario into the database
  refresh-fines  Recompute overdue fines once
  token          Issue a bearer token (staff tooling)

STARTUP SEQUENCE (serve):
  1. Load .env and environment, apply flag overrides, validate
  2. Initialize logger, SQLite store and slip storage
  3. Wire notifications (dispatcher, optional redis stream)
  4. Build engines, API handler (PromptPay QR when configured) and router
  5. Start fine scheduler and HTTP server
  6. Wait for SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the fine scheduler
  4. Drain notification delivery
  5. Close database and redis connections

EXAMPLES:
  # Run with the configuration in .env
  ./tenancy-server serve

  # Run on a different port against a scratch database
  ./tenancy-server serve --port 3000 --db ./data/scratch.db

  # Staff token valid for 30 days
  ./tenancy-server token --subject U1234 --role staff --ttl 720h

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/api"
	"github.com/smartdorm/tenancy-engine/config"
	"github.com/smartdorm/tenancy-engine/promptpay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tenancy-server",
		Short:         "Dormitory tenancy lifecycle and billing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().String("db", "", "SQLite database path, overrides DB_PATH")

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		seedCmd(),
		refreshFinesCmd(),
		tokenCmd(),
	)
	return root
}

// loadConfig reads configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var files []string
	if f, _ := cmd.Flags().GetString("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	return cfg, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port, _ = cmd.Flags().GetInt("port")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP server port, overrides HTTP_PORT")
	return cmd
}

func serve(cfg *config.Config) error {
	a, err := newApp(cfg, appOptions{notifications: true})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notifications
	stopNotifications := a.startNotifications(ctx)
	defer stopNotifications()

	// HTTP
	auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	handler := api.NewHandler(a.services, a.slips, a.engineCfg.Location, logger)
	handler.LineChannelSecret = cfg.Line.ChannelSecret
	if cfg.PromptPay.ID != "" {
		handler.QR = promptpay.New(cfg.PromptPay.BaseURL, cfg.PromptPay.ID)
	}
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Auth:           auth,
		Logger:         logger,
		Ready:          a.store.Ping,
	})

	// Fine scheduler
	scheduler := api.NewFineScheduler(a.services.Billing, logger)
	scheduler.CheckInterval = cfg.FineRefreshInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", cfg.Timezone),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// =============================================================================
// WORKER
// =============================================================================

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver notifications from the redis event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("worker needs REDIS_ADDR")
			}
			a, err := newApp(cfg, appOptions{notifications: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("notification worker started", zap.String("stream", cfg.Redis.Stream))
			stopNotifications := a.startNotifications(ctx)
			<-ctx.Done()
			stopNotifications()
			a.logger.Info("notification worker stopped")
			return nil
		},
	}
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, _ := cmd.Flags().GetBool("list")
			if list {
				for _, s := range api.Scenarios() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", s.ID, s.Description)
				}
				return nil
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			scenario, _ := cmd.Flags().GetString("scenario")
			now := time.Now().In(a.engineCfg.Location)
			if err := api.LoadScenario(cmd.Context(), a.services, scenario, now); err != nil {
				return fmt.Errorf("failed to load scenario %s: %w", scenario, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded scenario %s into %s\n", scenario, cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().String("scenario", "small-dorm", "scenario to load")
	cmd.Flags().Bool("list", false, "list scenarios and exit")
	return cmd
}

func refreshFinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-fines",
		Short: "Recompute overdue fines on open bills once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.services.Billing.RefreshFines(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d bills\n", n)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			auth, err := api.NewAuthenticator(cfg.Auth.JWTSecret)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tok, err := auth.Issue(subject, api.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "LINE user id of the caller")
	cmd.Flags().String("role", string(api.RoleStaff), "staff or tenant")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
