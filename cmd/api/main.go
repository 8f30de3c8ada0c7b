package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceconnect/internal/auth"
	"voiceconnect/internal/calls"
	"voiceconnect/internal/config"
	"voiceconnect/internal/httpapi"
	"voiceconnect/internal/messaging"
	"voiceconnect/internal/presence"
	"voiceconnect/internal/reporting"
	"voiceconnect/internal/signaling"
	"voiceconnect/internal/storage"
	"voiceconnect/internal/synthesis"
	"voiceconnect/internal/telephony"
	"voiceconnect/internal/transport"
	"voiceconnect/internal/voiceinject"
	"voiceconnect/internal/wire"
	"voiceconnect/pkg/logger"
	"voiceconnect/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := storage.NewPostgres(db)

	manager := calls.NewManager(store, calls.Options{
		RingTimeout: cfg.Signaling.RingTimeout,
		Logger:      log,
	})
	// Release the per-identity gateway slot on every path into a terminal
	// state: webhook status, ring timeout, origination failure, disconnect.
	manager.SetTerminalHandler(func(call calls.Call) {
		if call.Kind != calls.KindGateway {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(ctx, rdb, httpapi.GatewayCapKey(call.InitiatorID)); err != nil {
			log.Warn("gateway cap release failed", "call_id", call.CallID, "err", err)
		}
	})

	registry := presence.NewRegistry()
	signals := signaling.NewRelay(registry, manager, log)
	messages := messaging.NewRelay(registry, store, log)

	synth, err := synthesis.NewElevenLabs(synthesis.ElevenLabsConfig{
		APIKey:         cfg.Synthesis.APIKey,
		BaseURL:        cfg.Synthesis.BaseURL,
		DefaultVoiceID: cfg.Synthesis.DefaultVoiceID,
		RequestTimeout: cfg.Synthesis.RequestTimeout,
	})
	if err != nil {
		log.Error("synthesis init failed", "err", err)
		os.Exit(1)
	}
	injector := voiceinject.NewService(manager, synth, store, log)

	hub := transport.NewHub(registry, signals, messages, injector, transport.TokenAuthenticator{
		Tokens: authManager,
		Users:  store,
	}, cfg.Signaling, log)

	var provider telephony.Provider
	if cfg.GatewayEnabled() {
		p, err := telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID: cfg.Gateway.AccountSID,
			AuthToken:  cfg.Gateway.AuthToken,
			FromNumber: cfg.Gateway.FromNumber,
		})
		if err != nil {
			log.Error("telephony init failed", "err", err)
			os.Exit(1)
		}
		provider = p
	}

	handlers := httpapi.Handlers{
		Auth:            authManager,
		Store:           store,
		Manager:         manager,
		Injector:        injector,
		Voices:          synth,
		Reports:         reporting.NewService(reporting.StoreRepo{Store: store}),
		Provider:        provider,
		Redis:           rdb,
		MaxCallsPerUser: cfg.Gateway.MaxCallsPerUser,
		PublicBaseURL:   cfg.App.PublicBaseURL,
	}

	webhooks := telephony.WebhookHandler{
		Manager: manager,
		Notify: func(identity string, ev wire.Event) {
			signals.Dispatch(toIdentity(registry, identity, ev))
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, webhooks, hub, auth.RequireAccessToken(authManager))

	// No Read/WriteTimeout: /ws connections are long-lived and keepalive is
	// handled at the websocket layer.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func toIdentity(registry *presence.Registry, identity string, ev wire.Event) []presence.Outbound {
	conns := registry.Resolve(identity)
	outs := make([]presence.Outbound, 0, len(conns))
	for _, c := range conns {
		outs = append(outs, presence.Outbound{Conn: c, Event: ev})
	}
	return outs
}
