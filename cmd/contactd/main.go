package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/contact-relay/internal/api"
	"github.com/LeventeLantos/contact-relay/internal/cache"
	"github.com/LeventeLantos/contact-relay/internal/client"
	"github.com/LeventeLantos/contact-relay/internal/config"
	"github.com/LeventeLantos/contact-relay/internal/logging"
	"github.com/LeventeLantos/contact-relay/internal/queue"
	"github.com/LeventeLantos/contact-relay/internal/repo"
	"github.com/LeventeLantos/contact-relay/internal/scheduler"
	"github.com/LeventeLantos/contact-relay/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		logging.Fatal("invalid configuration", "error", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logging.Fatal("database connection failed", "error", err)
	}
	defer pool.Close()

	store := repo.NewPostgresMessageRepo(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logging.Fatal("schema setup failed", "error", err)
	}

	q := queue.New(cfg.Queue.Path, cfg.Queue.DeadLetterPath, logger)
	if err := q.Ensure(); err != nil {
		logging.Fatal("queue setup failed", "error", err)
	}

	probes := []service.ProbeTarget{{Name: "postgres", Pinger: store}}

	drainer := service.NewDrainer(q, store, logger).
		WithMaxAttempts(cfg.Drain.MaxAttempts).
		WithWriteTimeout(cfg.Drain.WriteTimeout)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		drainer.WithCache(rc)
		probes = append(probes, service.ProbeTarget{Name: "redis", Pinger: rc})
	}

	email := client.NewEmailClient(client.EmailConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.User,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
	})

	var notifiers service.MultiNotifier
	if cfg.Email.Enabled {
		notifiers = append(notifiers, email)
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, client.NewWebhookClient(cfg.Webhook.URL))
	}
	if len(notifiers) > 0 {
		drainer.WithNotifier(notifiers)
	} else {
		logger.Warn("no notification channel configured")
	}

	drainSched, err := scheduler.New("drain", cfg.Drain.Interval, drainer.Tick, logger)
	if err != nil {
		logging.Fatal("drain scheduler setup failed", "error", err)
	}
	prober := service.NewProber(logger, 10*time.Second, probes...)
	probeSched, err := scheduler.New("probe", cfg.Probe.Interval, prober.Tick, logger)
	if err != nil {
		logging.Fatal("probe scheduler setup failed", "error", err)
	}

	h := api.NewHandler(api.Deps{
		Contact: service.NewContactService(q, logger),
		Drainer: drainer,
		Sched:   drainSched,
		Queue:   q,
		Store:   store,
		Email:   email,
		Env:     cfg.Redacted(),
		Logger:  logger,
	})

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(h, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AdminToken:     cfg.Server.AdminToken,
		})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drainSched.Start()
	probeSched.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("contact relay starting",
			"addr", cfg.Server.Address,
			"drain_interval", cfg.Drain.Interval.String(),
			"probe_interval", cfg.Probe.Interval.String(),
			"email", cfg.Email.Enabled,
			"webhook", cfg.Webhook.Enabled,
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		drainSched.Stop()
		probeSched.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("contact relay stopped with error", "error", err)
		return
	}
	logger.Info("contact relay stopped")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
