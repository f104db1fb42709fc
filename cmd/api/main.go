package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/app"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/bridge"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/config"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/email"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp/clerk"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/idp/gotrue"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/session"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/store"
	"github.com/PatmosEducationGroup/patmosllm-sub004/internal/webhook"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	legacy := clerk.NewClient(cfg.ClerkAPIURL, cfg.ClerkSecretKey, providerClient)
	next := gotrue.NewClient(cfg.SupabaseAuthURL, cfg.SupabaseServiceKey, cfg.SupabaseJWTSecret, providerClient)

	verifier, err := webhook.NewVerifier(cfg.ClerkWebhookSecret)
	if err != nil {
		log.Fatalf("webhook secret invalid: %v", err)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, invitation emails disabled")
	}

	ledger := bridge.NewLedger(dataStore)
	provisioner := bridge.NewProvisioner(legacy, next, ledger, dataStore)
	deps := app.Deps{
		Store:       dataStore,
		Router:      bridge.NewRouter(legacy, next, ledger, dataStore, provisioner),
		Provisioner: provisioner,
		Completion:  bridge.NewCompletion(legacy, next, ledger, dataStore),
		Linker:      bridge.NewLinker(dataStore),
		Inviter:     bridge.NewInviter(dataStore, cfg.InviteTTL),
		Lifecycle:   bridge.NewLifecycle(ledger),
		Verifier:    verifier,
		Mailer:      mailer,
	}

	// Refresh tokens live in Redis when available, Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Refresh = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		deps.Refresh = app.PostgresRefreshStore{Store: dataStore}
	}

	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PatmosLLM auth bridge listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
