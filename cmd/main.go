package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mifi/in-app-subscription-example/internal/config"
	"github.com/mifi/in-app-subscription-example/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "subsd",
	Short:        "In-app subscription receipt reconciliation service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic reconciliation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-validate every active subscription once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context())
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a bearer token for a user (development)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return printToken(cmd.OutOrStdout(), cfg, args[0], tokenTTL)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $CONFIG_PATH)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadApp(ctx context.Context, component string) (*application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Format:    cfg.Log.Format,
		Level:     cfg.Log.Level,
		Component: component,
	}, os.Stderr)

	return initializeApp(ctx, cfg, logger)
}

func runServe(ctx context.Context) error {
	app, err := loadApp(ctx, "subsd")
	if err != nil {
		return err
	}
	defer app.close()

	if app.tokens == nil {
		return errors.New("JWT_SECRET is required to serve the API")
	}

	srv := &http.Server{
		Addr:         app.cfg.Server.Address,
		ErrorLog:     log.New(app.logger.Writer(), "", 0),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		startReconciler(gctx, app)
		<-gctx.Done()

		app.logger.Infof("shutting down")
		stopReconciler(app)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
