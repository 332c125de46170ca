package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roomstay/coupon-issuer/internal/api"
	"github.com/roomstay/coupon-issuer/internal/api/middleware"
	"github.com/roomstay/coupon-issuer/internal/cache"
	"github.com/roomstay/coupon-issuer/internal/config"
	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/repository"
	"github.com/roomstay/coupon-issuer/internal/service"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
	"github.com/roomstay/coupon-issuer/pkg/db"
	"github.com/roomstay/coupon-issuer/pkg/redisconn"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	dbCfg, _ := db.LoadPostgresConfig()
	conn, err := db.NewPostgresConnection(dbCfg)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer conn.Close()

	rdb, err := redisconn.New(redisconn.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer rdb.Close()

	// repositories & external stores
	catalogRepo := repository.NewCouponRepo(conn)
	inventoryRepo := repository.NewInventoryRepo(conn)
	grantRepo := repository.NewGrantRepo(conn)
	counter := fastpath.NewRedisCounterStore(rdb)
	members := fastpath.NewRedisMembershipStore(rdb)
	issueQueue := queue.NewRedisIssueQueue(rdb)
	readCache := cache.NewUserCouponCache()

	// services
	strictGuard := !cfg.SkipDuplicateCheck && !cfg.AsyncEnabled
	guard := service.NewIssuanceGuard(members, grantRepo, strictGuard)
	issuance := service.NewIssuanceService(catalogRepo, inventoryRepo, grantRepo, counter, guard, issueQueue, readCache, cfg)
	grants := service.NewGrantService(grantRepo, readCache)
	reset := service.NewResetService(inventoryRepo, counter, members)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var drainer *service.Drainer
	if cfg.AsyncEnabled {
		drainer = service.NewDrainer(issueQueue, grantRepo, inventoryRepo, counter, readCache, cfg.DrainBatchSize, cfg.DrainDelay)
		drainer.Start(rootCtx)
	}

	handler := api.NewRouter(issuance, grants, reset, issueQueue)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", handler)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			telemetry.L().Error("http server shutdown", "err", err)
		}
		if drainer != nil {
			drainer.Stop()
		}
		close(idleConnsClosed)
	}()

	telemetry.L().Info("starting coupon-issuer", "addr", cfg.HTTPAddr, "async", cfg.AsyncEnabled)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %s\n", err)
	}

	<-idleConnsClosed
	telemetry.L().Info("server stopped")
}
