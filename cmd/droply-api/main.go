// README: Entry point; loads config, wires services, starts HTTP server and event dispatcher.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"droply/internal/config"
	"droply/internal/events"
	httptransport "droply/internal/http"
	"droply/internal/infra"
	"droply/internal/maps"
	"droply/internal/modules/delivery"
	"droply/internal/modules/matching"
	"droply/internal/modules/partner"
	"droply/internal/modules/pricing"
	"droply/internal/modules/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var estimator maps.Estimator
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		estimator = routeSvc
	} else {
		log.Println("DROPLY_MAPS_API_KEY not set, using haversine estimates")
		estimator = maps.HaversineEstimator{}
	}

	bus := events.NewBus()
	if cfg.AMQP.URL != "" {
		dispatcher, err := events.NewAMQPDispatcher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatalf("amqp init: %v", err)
		}
		go dispatcher.Run(ctx, bus.Subscribe())
	}

	pricingSvc := pricing.NewService()

	partnerStore := partner.NewPostgresStore(dbPool)
	deliveryStore := delivery.NewPostgresStore(dbPool)
	settlementStore := settlement.NewPostgresStore(dbPool)
	geoStore := matching.NewRedisGeoStore(redisClient)

	deliverySvc := delivery.NewService(deliveryStore, partnerStore, pricingSvc, estimator, bus)
	matchingSvc := matching.NewService(deliveryStore, partnerStore, geoStore, bus)
	partnerSvc := partner.NewService(partnerStore, geoStore, deliverySvc, deliverySvc)
	settlementSvc := settlement.NewService(settlementStore, deliveryStore, bus)

	deliverySvc.SetSettler(settlementSvc)
	deliverySvc.SetRequestIndex(matchingSvc)

	handler := httptransport.NewRouter(deliverySvc, partnerSvc, matchingSvc, settlementSvc)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.HTTP.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
