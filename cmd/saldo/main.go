package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/authority"
	"saldo/internal/authority/httpapi"
	"saldo/internal/authority/local"
	"saldo/internal/config"
	"saldo/internal/core"
	"saldo/internal/directory"
	"saldo/internal/events"
	apphttp "saldo/internal/http"
	"saldo/internal/identity"
	applog "saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/service"
	"saldo/internal/storage"
)

func main() {
	// Load .env for local development; absent in production is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	roster, err := cfg.ParseMembers()
	if err != nil {
		logger.Error("Invalid member roster", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		auth authority.Authority
		dir  directory.Directory
	)

	switch cfg.Backend {
	case config.BackendSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		for i, m := range roster {
			if err := repo.UpsertMember(ctx, core.Member{ID: m.ID, Name: m.Name}, i); err != nil {
				logger.Error("Failed to register member", "error", err, "member_id", m.ID)
				os.Exit(1)
			}
		}
		auth, dir = repo, repo
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath, "members", len(roster))

	case config.BackendMemory:
		static := directory.NewStatic(rosterMembers(roster)...)
		auth, dir = local.New(static), static
		logger.Info("Initialized memory backend", "members", len(roster))

	case config.BackendRemote:
		static := directory.NewStatic(rosterMembers(roster)...)
		client := httpapi.New(cfg.AuthorityURL, httpapi.WithToken(cfg.AuthorityToken))
		ctrl := reconcile.NewController(client, static)
		if err := ctrl.Load(ctx); err != nil {
			logger.Error("Failed to load ledger from record keeper", "error", err, "url", cfg.AuthorityURL)
			os.Exit(1)
		}
		auth, dir = reconcile.NewAdapter(ctrl, client), static
		logger.Info("Initialized remote backend", "url", cfg.AuthorityURL, "members", len(roster))
	}

	var publisher service.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect event broker", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("Connected event broker", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Event broker disabled, clearing events will not be published")
	}

	svc := service.NewLedgerService(auth, dir, publisher)
	tokens := identity.NewManager(cfg.JWTSecret, cfg.TokenDuration)
	srv := apphttp.NewServer(":"+cfg.Port, svc, tokens)
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting saldo server", "port", cfg.Port, "backend", cfg.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

func rosterMembers(roster []config.RosterEntry) []core.Member {
	out := make([]core.Member, 0, len(roster))
	for _, m := range roster {
		out = append(out, core.Member{ID: m.ID, Name: m.Name})
	}
	return out
}
