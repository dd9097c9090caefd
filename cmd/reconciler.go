package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mifi/in-app-subscription-example/internal/config"
	"github.com/mifi/in-app-subscription-example/utils"
)

func startReconciler(ctx context.Context, app *application) {
	if app.scheduler == nil {
		return
	}
	app.logger.Infof("reconcile: sweeping every %s", app.cfg.Reconcile.Interval)
	app.scheduler.Start(ctx)
}

// stopReconciler blocks until a running sweep has finished.
func stopReconciler(app *application) {
	if app.scheduler == nil {
		return
	}
	app.scheduler.Stop()
}

func runReconcile(ctx context.Context) error {
	app, err := loadApp(ctx, "reconcile")
	if err != nil {
		return err
	}
	defer app.close()

	started := time.Now()
	app.scheduler.RunOnce(context.WithoutCancel(ctx))
	app.logger.Infof("reconcile: finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

func printToken(w io.Writer, cfg config.Config, userID string, ttl time.Duration) error {
	tokens, err := utils.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	token, err := tokens.NewJWT(userID, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
