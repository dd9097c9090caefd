package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.authenticate)

	mux := pat.New()

	// In-app purchases
	mux.Post("/iap/purchase", authMiddleware.ThenFunc(app.iapHandler.SubmitPurchase))
	mux.Get("/iap/subscription/:app", authMiddleware.ThenFunc(app.iapHandler.GetSubscription))

	// Ops
	mux.Get("/healthz", standardMiddleware.ThenFunc(app.healthz))
	mux.Get("/metrics", alice.New(app.recoverPanic).Then(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(mux)
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		app.logger.Errorf("healthz: %v", err)
		http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
