package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/workoutsync/internal/api"
	"example.com/workoutsync/internal/auth"
	"example.com/workoutsync/internal/config"
	"example.com/workoutsync/internal/connectivity"
	"example.com/workoutsync/internal/engine"
	"example.com/workoutsync/internal/logging"
	"example.com/workoutsync/internal/persistence/sqlite"
	"example.com/workoutsync/internal/remote/httpremote"
	"example.com/workoutsync/internal/remote/kafkaremote"
	"example.com/workoutsync/internal/remote/postgres"
	"example.com/workoutsync/internal/status"
	"example.com/workoutsync/internal/syncer"
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

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}

	remote, check, closeRemote, err := buildRemote(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to set up %s remote: %v", cfg.RemoteMode, err)
	}
	defer closeRemote()

	sw := connectivity.NewSwitch(false)
	proberOpts := []connectivity.ProberOption{connectivity.WithInterval(cfg.ConnectivityProbeInterval)}
	if check != nil {
		proberOpts = append(proberOpts, connectivity.WithCheck(cfg.RemoteMode, check))
	}
	prober := connectivity.NewProber(cfg.RemoteURL, sw, proberOpts...)
	prober.Probe(ctx)
	go prober.Run(ctx)

	eng := engine.New(store, remote, sw, engine.WithSyncOptions(
		syncer.WithInterval(cfg.SyncInterval),
		syncer.WithBatchSize(cfg.SyncBatchSize),
		syncer.WithMaxRetries(cfg.SyncMaxRetries),
		syncer.WithBackoff(cfg.SyncBaseBackoff, cfg.SyncMaxBackoff),
	))
	defer eng.Close()

	if n, err := eng.Bootstrap(ctx, cfg.UserID); err != nil {
		log.Printf("bootstrap skipped: %v", err)
	} else if n > 0 {
		log.Printf("bootstrapped %d sessions from remote", n)
	}

	unsubscribe := eng.Status.Subscribe(func(s status.Status) {
		log.Printf("sync status %s (pending=%d)", s.State, s.Pending)
	})
	defer unsubscribe()
	unsubscribeFailures := eng.Status.SubscribeFailures(func(f status.Failure) {
		log.Printf("gave up syncing %s for session %s: %s", f.ItemID, f.SessionID, f.Reason)
	})
	defer unsubscribeFailures()

	eng.Start(ctx)

	handler := api.NewHandler(eng.Service, eng.Status, eng.Processor, sw)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.LogRequests(log.New(log.Writer(), "[http] ", log.LstdFlags), mux))
	if err := httptransport.Serve(ctx, server, "syncd"); err != nil {
		log.Printf("server error: %v", err)
		stop()
	}

	eng.Wait()
	log.Println("syncd stopped")
}

// buildRemote returns the remote for the configured mode, an optional
// reachability check replacing the HTTP health probe, and a cleanup func.
func buildRemote(ctx context.Context, cfg config.Config) (syncer.Remote, func(context.Context) error, func(), error) {
	switch cfg.RemoteMode {
	case config.RemoteModeHTTP:
		var tokens httpremote.TokenSource
		if cfg.RemoteToken != "" {
			tokens = httpremote.StaticToken(cfg.RemoteToken)
		} else {
			tokens = httpremote.SignedToken(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, "syncd", cfg.UserID)
		}
		return httpremote.NewClient(cfg.RemoteURL, httpremote.WithTokenSource(tokens)), nil, func() {}, nil

	case config.RemoteModeKafka:
		producer := kafkaremote.NewProducer(cfg.KafkaBrokers)
		check := func(ctx context.Context) error {
			conn, err := kafka.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
			if err != nil {
				return err
			}
			return conn.Close()
		}
		closeFn := func() {
			if err := producer.Close(); err != nil {
				log.Printf("close kafka producer: %v", err)
			}
		}
		return kafkaremote.NewPublisher(producer), check, closeFn, nil

	case config.RemoteModePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		repo := postgres.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Printf("postgres schema not applied yet: %v", err)
		}
		return repo, pool.Ping, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown remote mode %q", cfg.RemoteMode)
	}
}
