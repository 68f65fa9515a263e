package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/farmmarket/go-farm-orders/internal/catalog"
	"github.com/farmmarket/go-farm-orders/internal/config"
	"github.com/farmmarket/go-farm-orders/internal/httpx"
	kafkax "github.com/farmmarket/go-farm-orders/internal/kafka"
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

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	placed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	placed.Start(ctx)
	statusChanged := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	statusChanged.Start(ctx)
	cancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024)
	cancelled.Start(ctx)

	catalogStore := &catalog.Store{DB: db}
	svc := &orders.Service{
		Ledger:        &orders.Store{DB: db},
		Catalog:       catalogStore,
		Placed:        placed,
		StatusChanged: statusChanged,
		Cancelled:     cancelled,
		Pricing: orders.Pricing{
			TaxRateBps:        cfg.TaxRateBps,
			ShippingFlatCents: cfg.ShippingFlatCents,
		},
		Name: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Service: svc, Redis: rdb, Log: log}
	oh.Register(router)
	ph := &httpx.ProductsHandler{Store: catalogStore, Log: log}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	// close inboxes -> flush & close writers, then wait for the drain
	placed.Close()
	statusChanged.Close()
	cancelled.Close()
	cancel()
	placed.WaitClosed()
	statusChanged.WaitClosed()
	cancelled.WaitClosed()
}
