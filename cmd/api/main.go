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

	"clinigate.org/internal/audit"
	"clinigate.org/internal/auth"
	"clinigate.org/internal/config"
	"clinigate.org/internal/httpapi"
	"clinigate.org/internal/obs"
	"clinigate.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := auth.NewTokenCodec(cfg.Security.TokenSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// Without a DSN the service runs against in-memory state with a
	// JSON-line audit trail. Useful for local development and demos.
	var (
		authStore  auth.Store
		auditStore audit.Store
		patients   httpapi.PatientDirectory
		db         *sql.DB
	)
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		if cfg.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
		authStore = store
		auditStore = store.Audit()
		patients = store
	} else {
		log.Print("no database.dsn configured, using in-memory store")
		authStore = auth.NewMemoryStore()
		auditStore = audit.LogStore{}
	}

	svc, err := auth.NewService(authStore, codec, auth.Defaults{
		SessionTTL:       cfg.Security.SessionTTL,
		LockoutThreshold: cfg.Security.LockoutThreshold,
		LockoutDuration:  cfg.Security.LockoutDuration,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	auditLog := audit.New(auditStore)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, codec, auditLog, patients, httpapi.Options{
		Version:         version,
		GracePeriod:     cfg.Security.GracePeriod,
		LoginRateBurst:  cfg.Security.LoginRateBurst,
		LoginRatePerSec: cfg.Security.LoginRatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Expired sessions are swept in the background.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := svc.PruneSessions(sweepCtx); err == nil && n > 0 {
					log.Printf("pruned %d expired sessions", n)
				}
			}
		}
	}()

	log.Printf("Starting clinigate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	auditLog.Wait()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
