package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/config"
)

// handleMessage - decodes and dispatches one inbound message. Returns false when the
// connection has to be closed.
func (that *Server) handleMessage(ctx context.Context, c *client, data []byte) (keep bool) {
	log := that.logger.With("method", "handleMessage", "connID", c.id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", r)
			keep = that.reportError(c, fmt.Errorf("handler panicked: %v", r))
		}
	}()

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return that.reportError(c, fmt.Errorf("%w: invalid JSON", apperror.ErrMalformedMessage))
	}

	handler, ok := that.handlers[req.Type]
	if !ok {
		return that.reportError(c, fmt.Errorf("%w: unknown message type %q", apperror.ErrMalformedMessage, req.Type))
	}

	return that.reportError(c, handler(ctx, c, &req))
}

// reportError - sends err to the originating connection only. Rejections keep the
// connection open; internal faults close it.
func (that *Server) reportError(c *client, err error) bool {
	if err == nil {
		return true
	}

	log := that.logger.With("method", "reportError", "connID", c.id, "gameID", c.gameID)

	if sendErr := c.enqueue(errorResponse(err)); sendErr != nil {
		log.Warn("failed to send error", "error", sendErr)
	}

	if apperror.IsRejection(err) {
		log.Info("request rejected", "code", apperror.Code(err), "error", err)
		return true
	}

	log.Error("internal fault, closing connection", "error", err)

	return false
}

func (that *Server) handleCreate(ctx context.Context, c *client, _ *Request) error {
	log := that.logger.With("method", "handleCreate", "connID", c.id)

	that.depart(ctx, c)

	seat, err := that.manager.Create(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	c.gameID = seat.GameID

	log.Info("game created", "gameID", seat.GameID)

	return nil
}

func (that *Server) handleJoin(ctx context.Context, c *client, req *Request) error {
	log := that.logger.With("method", "handleJoin", "connID", c.id)

	if req.GameID == "" && that.opts.JoinPolicy == config.JoinPolicyExplicit {
		return fmt.Errorf("%w: game_id is required", apperror.ErrMalformedMessage)
	}

	if req.GameID == "" || req.GameID != c.gameID {
		that.depart(ctx, c)
	}

	seat, err := that.manager.Join(ctx, c, req.GameID, req.PlayerToken)
	if err != nil {
		return fmt.Errorf("failed to join game: %w", err)
	}

	c.gameID = seat.GameID

	log.Info("joined game", "gameID", seat.GameID, "mark", seat.Mark)

	return nil
}

func (that *Server) handleMove(ctx context.Context, c *client, req *Request) error {
	if req.Cell == nil {
		return fmt.Errorf("%w: cell is required", apperror.ErrMalformedMessage)
	}

	gameID := req.GameID
	if gameID == "" {
		if that.opts.MoveRouting == config.MoveRoutingExplicit {
			return fmt.Errorf("%w: game_id is required", apperror.ErrMalformedMessage)
		}

		if c.gameID == "" {
			return fmt.Errorf("%w: no game joined", apperror.ErrNotInGame)
		}

		gameID = c.gameID
	}

	if _, err := that.manager.Move(ctx, c, gameID, *req.Cell); err != nil {
		return fmt.Errorf("failed to make move: %w", err)
	}

	return nil
}

// depart - detaches the connection from its current session, if any.
func (that *Server) depart(ctx context.Context, c *client) {
	if c.gameID == "" {
		return
	}

	log := that.logger.With("method", "depart", "connID", c.id, "gameID", c.gameID)

	err := that.manager.Leave(ctx, c, c.gameID)
	c.gameID = ""

	switch {
	case err == nil:
		log.Info("left game")
	case errors.Is(err, apperror.ErrGameNotFound), errors.Is(err, apperror.ErrNotInGame):
		log.Debug("game already gone", "error", err)
	default:
		log.Warn("failed to leave game", "error", err)
	}
}
