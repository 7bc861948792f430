package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/vkotelev/nearchat/internal/access"
	"github.com/vkotelev/nearchat/internal/config"
	"github.com/vkotelev/nearchat/internal/es"
	"github.com/vkotelev/nearchat/internal/handlers"
	"github.com/vkotelev/nearchat/internal/hub"
	"github.com/vkotelev/nearchat/internal/logging"
	"github.com/vkotelev/nearchat/internal/middleware"
	"github.com/vkotelev/nearchat/internal/mykafka"
	"github.com/vkotelev/nearchat/internal/reconciler"
	"github.com/vkotelev/nearchat/internal/repo"
	"github.com/vkotelev/nearchat/internal/service/search"
	httpserver "github.com/vkotelev/nearchat/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LogLevel)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	store := repo.NewStore(db)
	guard := access.NewGuard(store)

	jwtSecret := []byte(configuration.JWT_SECRET)
	refreshSecret := []byte(configuration.REFRESH_SECRET)

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Fatal(err)
	}

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Fatal(err)
	}

	pushHub := hub.NewHub(jwtSecret, store, guard, logger)

	rec := reconciler.New(store, configuration.ProximityRadius, configuration.GracePeriod, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	go rec.Run(bgCtx, configuration.ReconcileInterval)
	go pushHub.RunHeartbeat(bgCtx, configuration.HeartbeatInterval)

	e := echo.New()
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(logger))

	deps := httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{
			Store:         store,
			JWTSecret:     jwtSecret,
			RefreshSecret: refreshSecret,
			Issuer:        configuration.TOKEN_ISSUER,
			AccessTTL:     configuration.AccessTTL,
			RefreshTTL:    configuration.RefreshTTL,
			Producer:      prod,
		},
		ChatHandler: &handlers.ChatHandler{
			Store:    store,
			Guard:    guard,
			Hub:      pushHub,
			ES:       esClient,
			Index:    search.Index,
			Producer: prod,
		},
		LocationHandler: &handlers.LocationHandler{Store: store},
		Hub:             pushHub,
		Auth:            middleware.NewAuth(jwtSecret, store),
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:        ":8080",
		Handler:     e,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
