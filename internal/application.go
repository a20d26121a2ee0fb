package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/config"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-sessions/transport/rest"
	"github.com/rocketscienceinc/tictactoe-sessions/transport/websocket"
)

const memoryCleanupInterval = time.Minute

// RunApp - runs the application until a signal arrives or a server fails.
func RunApp(ctx context.Context, logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	gameRepo, closeRepo, err := newGameRepository(ctx, conf)
	if err != nil {
		return err
	}
	defer closeRepo()

	manager := usecase.NewGameManager(logger, usecase.Options{
		DisconnectPolicy: entity.DisconnectPolicy(conf.Game.DisconnectPolicy),
		ReconnectTimeout: conf.Game.ReconnectTimeout,
		IdleTimeout:      conf.Game.IdleTimeout,
		LockTimeout:      conf.Game.LockTimeout,
		MaxGames:         conf.Game.MaxGames,
	}, gameRepo, usecase.NewDispatcher(logger))

	wsServer := websocket.New(logger, manager, websocket.Options{
		JoinPolicy:     conf.Game.JoinPolicy,
		MoveRouting:    conf.Game.MoveRouting,
		MaxMessageSize: conf.Socket.MaxMessageSize,
		SendBuffer:     conf.Socket.SendBuffer,
	})

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if err := rest.Start(ctx, logger, conf.HTTPPort, gameRepo); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if err := wsServer.Start(ctx, conf.SocketPort); err != nil {
			return fmt.Errorf("WebSocket server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		manager.RunReaper(ctx, conf.Game.ReaperInterval)
		return nil
	})

	if err = group.Wait(); err != nil {
		return err
	}

	log.Info("Application context canceled, shut down")

	return nil
}

// newGameRepository - snapshot mirror in Redis when enabled, in memory otherwise.
func newGameRepository(ctx context.Context, conf *config.Config) (repository.GameRepository, func(), error) {
	if !conf.Redis.Enabled {
		return repository.NewMemoryGameRepository(conf.Redis.SnapshotTTL, memoryCleanupInterval), func() {}, nil
	}

	client, err := storage.New(ctx, conf.Redis.GetRedisAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeClient := func() {
		_ = client.Close()
	}

	return repository.NewGameRepository(client, conf.Redis.SnapshotTTL), closeClient, nil
}
