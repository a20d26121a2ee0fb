package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

type handlers struct {
	logger   *slog.Logger
	gameRepo gameRepo
}

func (that *handlers) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (that *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (that *handlers) getGame(c *gin.Context) {
	log := that.logger.With("method", "getGame", "gameID", c.Param("id"))

	state, err := that.gameRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, apperror.ErrGameNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": apperror.Code(err), "message": "game not found"})
		return
	}

	if err != nil {
		log.Error("failed to read game", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": apperror.CodeInternal, "message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, state)
}

func (that *handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		that.logger.Debug("request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
