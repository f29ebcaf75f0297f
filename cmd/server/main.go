package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comandapos/internal/config"
	"comandapos/internal/events"
	"comandapos/internal/httpapi"
	"comandapos/internal/idempotency"
	"comandapos/internal/service"
	"comandapos/internal/store"
	"comandapos/internal/store/memory"
	pgstore "comandapos/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.DefaultTenantID)
		log.Println("repository: in-memory")
	}

	var responseCache idempotency.ResponseCache = idempotency.NewLocalCache(cfg.IdempotencyCacheSize)
	if cfg.RedisAddr != "" {
		redisCache := idempotency.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using local idempotency cache", err)
		} else {
			responseCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("idempotency cache: redis")
		}
	} else {
		log.Println("idempotency cache: local")
	}
	guard := idempotency.NewGuard(responseCache, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second)

	var tickets events.TicketPublisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTicketTopic)
		tickets = kafka
		closers = append(closers, kafka.Close)
		log.Printf("kitchen tickets: kafka topic %s", cfg.KafkaTicketTopic)
	} else {
		log.Println("kitchen tickets: log only")
	}

	svc := service.New(repo, tickets, service.Config{
		BusinessDayCutoffHour: cfg.BusinessDayCutoffHour,
		OverpayTolerancePct:   cfg.OverpayTolerancePct,
		MaxPaymentsPerCall:    cfg.MaxPaymentsPerCall,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, guard, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("back office listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
