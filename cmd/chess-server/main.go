package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/auth"
	appcfg "github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/server"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
)

var requiredMessages = []string{
	"notify.joined", "notify.moved", "notify.left", "notify.resigned", "notify.check", "notify.checkmate", "notify.stalemate",
	"error.malformed", "error.unauthorized", "error.not_found", "error.observer_move", "error.observer_resign",
	"error.game_over", "error.already_over", "error.not_your_turn", "error.invalid_move", "error.storage", "error.internal",
}

// backends holds every open connection so shutdown can close them together.
type backends struct {
	rdb *redis.Client
	db  *sql.DB
}

func (b *backends) Close() error {
	var result error
	if b.rdb != nil {
		if err := b.rdb.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}
	if err := cat.Require(requiredMessages...); err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	ctx := context.Background()
	var be backends
	games, resolver, err := openBackends(ctx, cfg, &be)
	if err != nil {
		_ = be.Close()
		log.Fatalf("storage init error: %v", err)
	}

	opts := []session.Option{
		session.WithWriteTimeout(cfg.WriteTimeout),
		session.WithReleaseSeatOnDisconnect(cfg.ReleaseSeatOnDisconnect),
	}
	srvOpts := []server.Option{
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithOriginPatterns(cfg.AllowedOrigins),
		server.WithAdminClear(cfg.AdminClear),
	}
	if cfg.ArchiveResults {
		if be.db == nil {
			if be.db, err = store.OpenPostgres(ctx, cfg.DatabaseURL); err == nil {
				err = store.EnsureSchema(ctx, be.db)
			}
			if err != nil {
				_ = be.Close()
				log.Fatalf("archive init error: %v", err)
			}
		}
		repo := archive.NewRepository(be.db)
		opts = append(opts, session.WithResultSink(repo))
		srvOpts = append(srvOpts, server.WithResultLookup(repo))
	}

	coord := session.NewCoordinator(games, resolver, cat, opts...)
	srv := server.New(cfg.ListenAddr, coord, lobby.NewService(games, resolver), srvOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	obslog.L().Info("server_start",
		zap.String("addr", cfg.ListenAddr),
		zap.String("backend", string(cfg.Backend)),
		zap.Bool("archive", cfg.ArchiveResults),
		zap.Bool("release_seat_on_disconnect", cfg.ReleaseSeatOnDisconnect),
		zap.Bool("admin_clear", cfg.AdminClear),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var result error
	select {
	case sig := <-sigCh:
		obslog.L().Info("server_stop", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}
	if err := be.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		obslog.L().Error("shutdown_errors", zap.Error(result))
		obslog.Sync()
		os.Exit(1)
	}
}

func openBackends(ctx context.Context, cfg *appcfg.AppConfig, be *backends) (store.GameStore, auth.Registry, error) {
	switch cfg.Backend {
	case appcfg.BackendRedis:
		rdb, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		be.rdb = rdb
		resolver := auth.NewRedisResolver(rdb)
		for tok, user := range cfg.AuthTokens {
			if err := resolver.Register(ctx, tok, user); err != nil {
				return nil, nil, err
			}
		}
		return store.NewRedisStore(rdb), resolver, nil
	case appcfg.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		be.db = db
		if err := store.EnsureSchema(ctx, db); err != nil {
			return nil, nil, err
		}
		resolver := auth.NewPostgresResolver(db)
		for tok, user := range cfg.AuthTokens {
			if err := resolver.Register(ctx, tok, user); err != nil {
				return nil, nil, err
			}
		}
		return store.NewPostgresStore(db), resolver, nil
	default:
		return store.NewMemoryStore(), auth.NewMemoryResolver(cfg.AuthTokens), nil
	}
}
