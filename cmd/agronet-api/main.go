// README: Entry point; loads config, wires stores and services, starts the
// HTTP server and the dispatch watcher.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agronet/internal/config"
	httptransport "agronet/internal/http"
	"agronet/internal/infra"
	"agronet/internal/logger"
	"agronet/internal/maps"
	"agronet/internal/modules/delivery"
	"agronet/internal/modules/dispatch"
	"agronet/internal/modules/driver"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if cfg.Firebase.ProjectID == "" {
		log.Fatal("AGRONET_FIREBASE_PROJECT_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatal("firebase init", zap.Error(err))
	}
	defer func() { _ = fb.Close() }()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var geocoder delivery.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal("maps init", zap.Error(err))
		}
		geocoder = g
	}

	deliveryStore := delivery.NewFirestoreStore(fb.Firestore)
	eventLog := delivery.NewEventLog(dbPool)
	deliverySvc := delivery.NewService(deliveryStore, eventLog, geocoder, log)

	driverStore := driver.NewStore(fb.Firestore)

	notifier := dispatch.NewFCMNotifier(fb.Messaging)
	dispatchLog := dispatch.NewRedisLog(redisClient)
	dispatcher := dispatch.NewService(driverStore, notifier, dispatchLog, cfg.Dispatch.RadiusMeters, log)

	watcher := dispatch.NewWatcher(fb.Firestore, dispatcher.HandleCreated, log)
	go watcher.Run(ctx)

	handler := httptransport.NewRouter(deliverySvc, driverStore, deliveryStore)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Info("agronet api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server", zap.Error(err))
	}
}
