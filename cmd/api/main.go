package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"openbot.social/internal/httpapi"
	"openbot.social/internal/identity"
	"openbot.social/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("OPENBOT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	secret := os.Getenv("OPENBOT_AUTH_SECRET")
	if secret == "" {
		log.Fatal("OPENBOT_AUTH_SECRET is required")
	}

	// With a DSN the store is PostgreSQL and /readyz pings it; without one
	// everything lives in process memory (single-instance deployments only).
	var db *sql.DB
	var store identity.Store
	if dsn := os.Getenv("OPENBOT_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = identity.NewPGStore(db)
	} else {
		log.Print("OPENBOT_PG_DSN not set, using in-memory store")
		store = identity.NewMemStore()
	}

	opts := []identity.ServiceOption{identity.WithTokenSecret(secret)}
	if iss := os.Getenv("OPENBOT_ISSUER"); iss != "" {
		opts = append(opts, identity.WithIssuer(iss))
	}
	svc, err := identity.NewService(store, opts...)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	limiter := identity.NewLimiter(store.RateLimits())

	stopSweepers := svc.StartSweepers(context.Background())
	defer stopSweepers()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, limiter)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting openbot-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
