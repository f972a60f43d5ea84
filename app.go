package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/astroskulture/checkout/config"
	"github.com/astroskulture/checkout/events"
	"github.com/astroskulture/checkout/gateway"
	"github.com/astroskulture/checkout/orders"
	"github.com/astroskulture/checkout/reconcile"
	"github.com/astroskulture/checkout/store"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	store  *store.Store
	orders *orders.Service
	job    *reconcile.Job
	events events.Publisher
	redis  *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := store.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DB.Path, err)
	}
	a := &app{store: st, events: events.Nop{}}

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.close()
			return nil, err
		}
		a.events = k
		log.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var locker reconcile.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = reconcile.NewRedisLocker(a.redis, cfg.Redis.LockKey, cfg.Reconcile.LockTTL)
	}

	gw := gateway.NewRazorpay(gateway.RazorpayConfig{
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		BaseURL:   cfg.Gateway.BaseURL,
		Timeout:   cfg.Gateway.Timeout,
		MaxTries:  cfg.Gateway.MaxTries,
	})

	a.orders = orders.NewService(st, gw, orders.Options{
		Currency: cfg.Gateway.Currency,
		Logger:   log,
		Events:   a.events,
	})
	a.job = reconcile.New(st, gw, a.orders, locker, reconcile.Config{
		Interval:  cfg.Reconcile.Interval,
		Grace:     cfg.Reconcile.Grace,
		CallDelay: cfg.Reconcile.CallDelay,
	}, log)
	return a, nil
}

func (a *app) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			slog.Warn("closing event publisher", "err", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
}
