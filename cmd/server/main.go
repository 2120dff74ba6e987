package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobby-matchmaker/internal/config"
	"github.com/DoyleJ11/lobby-matchmaker/internal/httpapi"
	"github.com/DoyleJ11/lobby-matchmaker/internal/hub"
	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
	"github.com/DoyleJ11/lobby-matchmaker/internal/logging"
	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
	"github.com/DoyleJ11/lobby-matchmaker/internal/metrics"
	"github.com/DoyleJ11/lobby-matchmaker/internal/store"
	"github.com/DoyleJ11/lobby-matchmaker/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := lobbyFactory(cfg, log)
	if err != nil {
		return err
	}

	// The hub outlives the signal context so lobbies close during shutdown, not before.
	h := hub.NewHub(context.Background(), factory, log)
	if h.Ensure(ctx, cfg.DefaultLobby) == nil {
		return fmt.Errorf("create default lobby %q", cfg.DefaultLobby)
	}
	handler := httpapi.SetupRoutes(h, ws.Options{
		DefaultLobby:   cfg.DefaultLobby,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		OriginPatterns: cfg.OriginPatterns,
	}, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Inbox() <- hub.ShutdownHub{}
		<-h.Done()
		return err
	})
	return g.Wait()
}

func lobbyFactory(cfg config.Config, log *zap.Logger) (hub.Factory, error) {
	opts := func(code string) lobby.Options {
		return lobby.Options{
			Code:               code,
			Logger:             log,
			Rules:              matchmaking.Rules{MaxRenameAttempts: cfg.MaxRenameAttempts},
			InboxSize:          cfg.InboxSize,
			BroadcastOpenGames: cfg.BroadcastOpenGames,
			PruneOrphans:       cfg.PruneOnStart,
			Hooks: lobby.Hooks{
				OnOpenGameAdded: func(owner string) {
					metrics.RecordGameOpened(code)
					log.Info("open game added", zap.String("lobby", code), zap.String("owner", owner))
				},
				OnMatchedGame: func(owner, guest string) {
					metrics.RecordGameMatched(code)
					log.Info("game ready", zap.String("lobby", code), zap.String("owner", owner), zap.String("guest", guest))
				},
			},
		}
	}

	if cfg.DatabaseURL == "" {
		log.Info("using in-memory lobby store")
		return func(ctx context.Context, code string) (*lobby.Lobby, error) {
			return lobby.NewLobby(ctx, store.NewMemory(), opts(code))
		}, nil
	}

	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("using postgres lobby store")
	return func(ctx context.Context, code string) (*lobby.Lobby, error) {
		return lobby.NewLobby(ctx, store.NewGorm(db, code), opts(code))
	}, nil
}
