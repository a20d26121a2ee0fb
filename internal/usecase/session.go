package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const (
	EventGameCreated = "game_created"
	EventGameJoined  = "game_joined"
	EventGameState   = "game_state"
)

// Event is an outbound notification produced by a session operation.
type Event struct {
	Type  string
	State *entity.GameState
	Mark  string
	Token string
}

// Conn is a live client connection. Deliver must not block; Close must not call back
// into the GameManager synchronously.
type Conn interface {
	ID() string
	Deliver(event *Event) error
	Close()
}

// Session guards one game and the connections attached to it. Every mutation of game
// and conns happens while holding the session lock.
type Session struct {
	seq   uint64
	sem   *semaphore.Weighted
	game  *entity.Game
	conns map[string]Conn

	removed bool
}

func newSession(seq uint64, game *entity.Game) *Session {
	return &Session{
		seq:   seq,
		sem:   semaphore.NewWeighted(1),
		game:  game,
		conns: make(map[string]Conn, entity.MaxPlayers),
	}
}

func (that *Session) ID() string {
	return that.game.ID
}

// lock - acquires the session exclusively, giving up after timeout.
func (that *Session) lock(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := that.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: game %s", apperror.ErrSessionBusy, that.ID())
		}
		return fmt.Errorf("failed to lock game %s: %w", that.ID(), err)
	}

	return nil
}

func (that *Session) unlock() {
	that.sem.Release(1)
}
