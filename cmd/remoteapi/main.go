package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/workoutsync/internal/auth"
	"example.com/workoutsync/internal/config"
	"example.com/workoutsync/internal/logging"
	"example.com/workoutsync/internal/remote/postgres"
	"example.com/workoutsync/internal/remoteapi"
	httptransport "example.com/workoutsync/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logCloser := logging.Setup(cfg.LogFile)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	api := http.NewServeMux()
	remoteapi.NewHandler(repo).RegisterRoutes(api)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	requestLog := log.New(log.Writer(), "[http] ", log.LstdFlags)

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", authMiddleware.Wrap(httptransport.LogRequests(requestLog, api)))

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.RemoteHTTPAddress), root)
	if err := httptransport.Serve(ctx, server, "remoteapi"); err != nil {
		log.Printf("server error: %v", err)
	}
}
