package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/apiclient"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/config"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/router"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/sessionstore/repo"
	"github.com/ovaphlow/pitchfork/service-review-web/internal/web"
	"github.com/ovaphlow/pitchfork/service-review-web/pkg/database"
	"github.com/ovaphlow/pitchfork/service-review-web/pkg/utilities"
)

// purger is implemented by both session stores.
type purger interface {
	Purge(ctx context.Context, prefix string, before time.Time) (int64, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.InitLogger(cfg.Log())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-review-web", "api", cfg.APIBaseURL, "listen", cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, sugar)
	defer closeStore()

	col := metrics.NewCollector("reviewweb")
	client := apiclient.New(apiclient.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Breaker: apiclient.BreakerConfig{
			MaxRequests:  cfg.BreakerMaxReqs,
			Interval:     cfg.BreakerWindow,
			Timeout:      cfg.BreakerCooloff,
			FailureRatio: cfg.BreakerRatio,
		},
		Logger:   sugar.Named("api"),
		Observer: col,
	})
	reg := web.NewRegistry(web.RegistryOptions{
		Client:    client,
		Store:     store,
		LoginPath: cfg.LoginPath,
		Logger:    sugar.Named("web"),
		Recorder:  col,
	})
	handler := router.RegisterRoutes(router.Options{
		Logger:         sugar,
		Handler:        web.NewHandler(reg, catalog.NewService(client.For(nil), sugar.Named("catalog")), sugar.Named("web")),
		Registry:       reg,
		Cookies:        web.CookieOptions{Secure: cfg.CookieSecure},
		AllowedOrigins: cfg.AllowedOrigins,
		Observer:       col,
		Metrics:        col.Handler(),
	})

	go sweep(ctx, cfg.TabStateTTL, reg, store, sugar)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
}

// openStore uses Postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (sessionstore.Store, func()) {
	if cfg.DatabaseURL == "" {
		sugar.Warn("DATABASE_URL not set; client state is kept in memory and lost on restart")
		return sessionstore.NewMemoryStore(), func() {}
	}
	db, err := database.Connect(ctx, cfg.Database())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	r := repo.NewStateRepo(db)
	if err := r.EnsureTable(ctx); err != nil {
		sugar.Fatalf("db schema: %v", err)
	}
	return r, func() {
		if err := db.Close(); err != nil {
			sugar.Warnf("db close: %v", err)
		}
	}
}

// sweep drops idle tab state in memory and in the store. Browser scopes hold
// the credential token and are left alone.
func sweep(ctx context.Context, ttl time.Duration, reg *web.Registry, store sessionstore.Store, sugar *zap.SugaredLogger) {
	if ttl <= 0 {
		return
	}
	tick := time.NewTicker(ttl / 24)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			before := now.Add(-ttl)
			evicted := reg.Sweep(before)
			var purged int64
			if p, ok := store.(purger); ok {
				n, err := p.Purge(ctx, sessionstore.TabScope(""), before)
				if err != nil {
					sugar.Warnw("purge tab state", "err", err)
				}
				purged = n
			}
			if evicted > 0 || purged > 0 {
				sugar.Debugw("swept idle tabs", "evicted", evicted, "purged", purged)
			}
		}
	}
}
