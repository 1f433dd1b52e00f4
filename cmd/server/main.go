package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtrntr/auction/internal/api"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/notify"
	"github.com/xtrntr/auction/internal/projection"
	"github.com/xtrntr/auction/internal/questions"
	"github.com/xtrntr/auction/internal/registry"
	"github.com/xtrntr/auction/internal/sanitize"
	"github.com/xtrntr/auction/internal/storage/backend"
	"github.com/xtrntr/auction/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Main entry point: wires storage, the bid engine, event fan-out and the
// HTTP and gRPC health servers, then serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "auction")
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage, err)
	}
	log.Printf("Using %s storage", cfg.Storage)

	sanitizer := sanitize.New(cfg.ProfanityWords)

	reg := registry.New(store, sanitizer)
	bidLedger := ledger.New(store)
	hub := notify.NewHub()

	// Without Redis the hub is fed directly. With Redis every instance
	// relays the shared channel into its own hub instead.
	var (
		publishers notify.Multi
		async      []*notify.Async
		closers    []func() error
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, config.Connect)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		closers = append(closers, rdb.Close)

		a := notify.NewAsync(notify.NewRedisPublisher(rdb), cfg.EventQueueSize, config.EventPublish)
		async = append(async, a)
		publishers = append(publishers, a)
		go func() {
			if err := notify.Relay(ctx, rdb, hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Redis relay stopped: %v", err)
			}
		}()
		log.Printf("Relaying bid events through Redis at %s", cfg.RedisAddr)
	} else {
		publishers = append(publishers, hub)
	}
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, config.Connect)
		natsPub, err := notify.NewNATSPublisher(connectCtx, cfg.NATSURL)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		closers = append(closers, natsPub.Close)

		a := notify.NewAsync(natsPub, cfg.EventQueueSize, config.EventPublish)
		async = append(async, a)
		publishers = append(publishers, a)
		log.Printf("Archiving bid events to JetStream stream %s", notify.StreamName)
	}

	engine := auction.NewEngine(reg, bidLedger, publishers)
	handler := api.NewHandler(
		auth.NewAuthService(store, cfg.JWTSecret, cfg.TokenTTL),
		reg,
		engine,
		projection.New(store, bidLedger),
		questions.New(reg, store, sanitizer),
		hub,
	)

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "X-Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: config.ReadHeader,
	}

	// gRPC health endpoint for orchestrators
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		log.Printf("Health server listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("Health server failed: %v", err)
		}
	}()
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	for _, a := range async {
		a.Close()
	}
	for _, c := range closers {
		if err := c(); err != nil {
			log.Printf("Close: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Printf("Failed to close storage: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Failed to flush traces: %v", err)
	}
}
