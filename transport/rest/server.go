package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

type gameRepo interface {
	GetByID(ctx context.Context, id string) (*entity.GameState, error)
}

// NewRouter - builds the HTTP surface: liveness probes and read-only game snapshots.
func NewRouter(logger *slog.Logger, gameRepo gameRepo) *gin.Engine {
	h := &handlers{
		logger:   logger.With("component", "rest"),
		gameRepo: gameRepo,
	}

	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/ping", h.ping)
	router.GET("/health", h.health)
	router.GET("/games/:id", h.getGame)

	return router
}

// Start - serves the router on port until ctx is done.
func Start(ctx context.Context, logger *slog.Logger, port string, gameRepo gameRepo) error {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(logger, gameRepo),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
