package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/farmmarket/go-farm-orders/internal/config"
	kafkax "github.com/farmmarket/go-farm-orders/internal/kafka"
	"github.com/farmmarket/go-farm-orders/internal/notify"
	"github.com/farmmarket/go-farm-orders/internal/orders"
	"github.com/farmmarket/go-farm-orders/internal/postgres"
	"github.com/farmmarket/go-farm-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logrus.StandardLogger()
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Store:       &notify.PGStore{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-notifier",
		Log:         log,
	}

	topics := []string{
		orders.TopicOrderPlaced,
		orders.TopicOrderStatusChanged,
		orders.TopicOrderCancelled,
	}
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topic, cfg.NotifierWorkers)
		go func(topic string) {
			log.WithFields(logrus.Fields{
				"group":   cfg.NotifierGroup,
				"topic":   topic,
				"workers": cfg.NotifierWorkers,
			}).Info("notifier consumer started")
			if err := cons.Start(ctx, svc.HandleEvent); err != nil {
				log.WithError(err).WithField("topic", topic).Error("consumer exit")
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
