package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/realtime-service/internal/api"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/kafka"
	"github.com/fathima-sithara/realtime-service/internal/logger"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(logger.Config{Development: cfg.Development(), Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []hub.Option{hub.WithObserver(m), hub.WithQueueSize(cfg.WS.HubQueueSize)}
	deps := api.Deps{Metrics: m.Handler(), Log: lg}

	// Redis presence
	var (
		rdb      *redis.Client
		notifier *presence.Notifier
	)
	if cfg.PresenceEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			lg.Warnw("redis ping failed, presence writes will retry per event", "addr", cfg.Redis.Addr, "err", err)
		}
		cancel()

		store := presence.NewStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		notifier = presence.NewNotifier(store, cfg.Redis.QueueSize, cfg.PresenceTTL/2, lg)
		go notifier.Run()
		opts = append(opts, hub.WithPresence(notifier))
		deps.Presence = store
		lg.Infow("presence enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}

	// Kafka activity stream
	var producer *kafka.Producer
	if cfg.ActivityEnabled() {
		producer = kafka.NewProducer(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicActivity), cfg.Kafka.QueueSize, lg)
		go producer.Run()
		opts = append(opts, hub.WithActivity(producer))
		lg.Infow("activity stream enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.TopicActivity)
	}

	if cfg.AuthEnabled() {
		var jv *auth.JWTValidator
		if cfg.JWT.Algorithm == "RS256" {
			jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
		} else {
			jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
		}
		if err != nil {
			lg.Fatalw("jwt validator init", "err", err)
		}
		deps.Auth = jv
	}

	h := hub.New(lg, opts...)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go h.Run(hubCtx)

	deps.Hub = h
	deps.WS = ws.NewHandler(h, ws.Options{
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		WriteDeadline:   cfg.WriteDeadline,
		MaxMessageSize:  cfg.WS.MaxMessageSizeBytes,
		SendBuffer:      cfg.WS.SendBuffer,
		RateLimitPerSec: cfg.WS.RateLimitPerSec,
	}, lg)
	app := api.NewServer(deps)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.PortString()
		lg.Infow("starting realtime service", "addr", addr, "env", cfg.App.Env)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Errorw("server error", "err", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		lg.Warnw("fiber shutdown", "err", err)
	}
	stopHub()
	select {
	case <-h.Done():
	case <-ctx.Done():
		lg.Warnw("hub did not stop before deadline")
	}
	if notifier != nil {
		if err := notifier.Close(ctx); err != nil {
			lg.Warnw("presence notifier close", "err", err)
		}
	}
	if producer != nil {
		if err := producer.Close(ctx); err != nil {
			lg.Warnw("activity producer close", "err", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	lg.Info("shutdown complete")
}
