package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/crocdentist/internal/auth"
	"github.com/robalobadob/crocdentist/internal/config"
	"github.com/robalobadob/crocdentist/internal/croc"
	"github.com/robalobadob/crocdentist/internal/delegation"
	"github.com/robalobadob/crocdentist/internal/httpserver"
	"github.com/robalobadob/crocdentist/internal/oracle"
	"github.com/robalobadob/crocdentist/internal/store"
)

const (
	devSessionSecret = "dev_secret_change_me"
	devOracleSecret  = "dev_oracle_secret_change_me"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, using development secret")
		cfg.JWTSecret = devSessionSecret
	}
	if cfg.Croc.OracleSecret == "" {
		log.Warn().Msg("CROC_ORACLE_SECRET not set, using development secret")
		cfg.Croc.OracleSecret = devOracleSecret
	}

	db, err := openDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("open database")
	}
	defer db.Close()

	router := delegation.New(
		store.NewSQLiteStore(db, delegation.EnvBase),
		store.NewSQLiteStore(db, delegation.EnvEphemeral),
	)
	users := auth.NewUsers(db)
	oracleKey := []byte(cfg.Croc.OracleSecret)
	guard := auth.NewGuard(auth.GuardConfig{
		SessionSecret:    []byte(cfg.JWTSecret),
		SessionTTL:       cfg.SessionTTL(),
		OracleKey:        oracleKey,
		OracleIdentities: cfg.Croc.OracleIDs,
	}, users)
	vrf := oracle.NewLocal(oracleKey, cfg.Croc.OracleIDs[0], oracle.Config{
		Workers:   cfg.Croc.OracleWorkers,
		QueueSize: cfg.Croc.OracleQueue,
		Delay:     cfg.Croc.OracleDelay,
	})
	svc := croc.New(router, vrf, guard, croc.Options{
		Namespace:      cfg.Croc.Namespace,
		TotalTeeth:     cfg.Croc.TotalTeeth,
		PendingTimeout: cfg.Croc.PendingTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	oracleDone := make(chan struct{})
	go func() {
		vrf.Run(ctx, svc)
		close(oracleDone)
	}()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpserver.New(svc, users, guard, httpserver.Options{
			ClientOrigin: cfg.ClientOrigin,
			CookieName:   cfg.CookieName,
			Production:   cfg.Production(),
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("port", cfg.Port).
		Uint8("teeth", cfg.Croc.TotalTeeth).
		Str("namespace", cfg.Croc.Namespace).
		Msg("starting crocdentist")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exited")
	}
	<-oracleDone
	log.Info().Msg("shut down")
}
