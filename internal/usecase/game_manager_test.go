package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

var errConnGone = errors.New("connection gone")

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []*Event
	closed bool
	broken bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (that *fakeConn) ID() string {
	return that.id
}

func (that *fakeConn) Deliver(event *Event) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.broken {
		return errConnGone
	}

	that.events = append(that.events, event)

	return nil
}

func (that *fakeConn) Close() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closed = true
}

func (that *fakeConn) last() *Event {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.events) == 0 {
		return nil
	}

	return that.events[len(that.events)-1]
}

func (that *fakeConn) types() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	types := make([]string, 0, len(that.events))
	for _, event := range that.events {
		types = append(types, event.Type)
	}

	return types
}

type mockSnapshotRepo struct {
	mock.Mock
}

func (that *mockSnapshotRepo) CreateOrUpdate(ctx context.Context, state *entity.GameState) error {
	return that.Called(ctx, state).Error(0)
}

func (that *mockSnapshotRepo) DeleteByID(ctx context.Context, id string) error {
	return that.Called(ctx, id).Error(0)
}

func newTestManager(t *testing.T, opts Options) (*GameManager, *mockSnapshotRepo) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	repo := &mockSnapshotRepo{}
	repo.On("CreateOrUpdate", mock.Anything, mock.Anything).Return(nil)
	repo.On("DeleteByID", mock.Anything, mock.Anything).Return(nil)

	if opts.LockTimeout == 0 {
		opts.LockTimeout = time.Second
	}

	return NewGameManager(logger, opts, repo, NewDispatcher(logger)), repo
}

// startGame - x creates, o joins by id.
func startGame(ctx context.Context, t *testing.T, manager *GameManager, x, o Conn) string {
	t.Helper()

	seat, err := manager.Create(ctx, x)
	require.NoError(t, err)

	_, err = manager.Join(ctx, o, seat.GameID, "")
	require.NoError(t, err)

	return seat.GameID
}

func play(ctx context.Context, t *testing.T, manager *GameManager, gameID string, x, o Conn, cells ...int) *entity.GameState {
	t.Helper()

	var state *entity.GameState
	for i, cell := range cells {
		mover := x
		if i%2 == 1 {
			mover = o
		}

		var err error
		state, err = manager.Move(ctx, mover, gameID, cell)
		require.NoError(t, err)
	}

	return state
}

func TestGameManager_CreateAndJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("Create then auto-join pairs two connections", func(t *testing.T) {
		// Given: a manager and two connections
		manager, repo := newTestManager(t, Options{})
		c1, c2 := newFakeConn("c1"), newFakeConn("c2")

		// When: c1 creates and c2 joins without a game id
		created, err := manager.Create(ctx, c1)
		require.NoError(t, err)
		joined, err := manager.Join(ctx, c2, "", "")
		require.NoError(t, err)

		// Then: both sit in the same game as X and O and the game is in progress
		assert.Equal(t, created.GameID, joined.GameID)
		assert.Equal(t, entity.PlayerX, created.Mark)
		assert.Equal(t, entity.PlayerO, joined.Mark)
		assert.NotEmpty(t, joined.Token)

		assert.Equal(t, []string{EventGameCreated, EventGameState}, c1.types())
		assert.Equal(t, []string{EventGameJoined}, c2.types())

		state := c1.last().State
		assert.Equal(t, entity.StatusInProgress, state.Status)
		assert.Equal(t, entity.PlayerX, state.CurrentTurn)
		assert.Equal(t, 2, state.PlayerCount)
		assert.Equal(t, created.GameID, state.GameID)

		assert.Empty(t, manager.Waiting())
		repo.AssertCalled(t, "CreateOrUpdate", mock.Anything, mock.Anything)
	})

	t.Run("Created game waits with one player", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		c1 := newFakeConn("c1")

		seat, err := manager.Create(ctx, c1)
		require.NoError(t, err)

		event := c1.last()
		require.NotNil(t, event)
		assert.Equal(t, EventGameCreated, event.Type)
		assert.Equal(t, entity.StatusWaiting, event.State.Status)
		assert.Equal(t, 1, event.State.PlayerCount)
		assert.Equal(t, []string{seat.GameID}, manager.Waiting())
	})

	t.Run("Auto-match is first come first served", func(t *testing.T) {
		// Given: two waiting games, W1 older than W2
		manager, _ := newTestManager(t, Options{})
		w1, err := manager.Create(ctx, newFakeConn("c1"))
		require.NoError(t, err)
		w2, err := manager.Create(ctx, newFakeConn("c2"))
		require.NoError(t, err)

		// When: three connections auto-join
		first, err := manager.Join(ctx, newFakeConn("c3"), "", "")
		require.NoError(t, err)
		second, err := manager.Join(ctx, newFakeConn("c4"), "", "")
		require.NoError(t, err)
		c5 := newFakeConn("c5")
		third, err := manager.Join(ctx, c5, "", "")
		require.NoError(t, err)

		// Then: W1 fills first, then W2, then a new game is created
		assert.Equal(t, w1.GameID, first.GameID)
		assert.Equal(t, w2.GameID, second.GameID)
		assert.NotEqual(t, w1.GameID, third.GameID)
		assert.NotEqual(t, w2.GameID, third.GameID)
		assert.Equal(t, entity.PlayerX, third.Mark)
		assert.Equal(t, EventGameJoined, c5.last().Type)
		assert.Equal(t, 3, manager.Count())
		assert.Equal(t, []string{third.GameID}, manager.Waiting())
	})

	t.Run("Error on joining an unknown game", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})

		_, err := manager.Join(ctx, newFakeConn("c1"), "missing", "")

		require.ErrorIs(t, err, apperror.ErrGameNotFound)
		assert.Zero(t, manager.Count())
	})

	t.Run("Error on joining a full game", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		gameID := startGame(ctx, t, manager, newFakeConn("c1"), newFakeConn("c2"))

		_, err := manager.Join(ctx, newFakeConn("c3"), gameID, "")

		require.ErrorIs(t, err, apperror.ErrGameNotJoinable)
	})

	t.Run("Error on joining own game again", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		c1 := newFakeConn("c1")
		seat, err := manager.Create(ctx, c1)
		require.NoError(t, err)

		_, err = manager.Join(ctx, c1, seat.GameID, "")

		require.ErrorIs(t, err, apperror.ErrGameNotJoinable)
	})

	t.Run("Capacity limit rejects new games", func(t *testing.T) {
		// Given: a manager limited to one game which is already waiting
		manager, _ := newTestManager(t, Options{MaxGames: 1})
		seat, err := manager.Create(ctx, newFakeConn("c1"))
		require.NoError(t, err)

		// When: another game is created
		_, err = manager.Create(ctx, newFakeConn("c2"))

		// Then: it is rejected, but auto-join still fills the waiting game
		require.ErrorIs(t, err, apperror.ErrAllGamesFull)

		joined, err := manager.Join(ctx, newFakeConn("c3"), "", "")
		require.NoError(t, err)
		assert.Equal(t, seat.GameID, joined.GameID)

		_, err = manager.Join(ctx, newFakeConn("c4"), "", "")
		require.ErrorIs(t, err, apperror.ErrAllGamesFull)
	})
}

func TestGameManager_Move(t *testing.T) {
	ctx := context.Background()

	t.Run("Top row wins for X and everyone sees it", func(t *testing.T) {
		// Given: a started game
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		// When: moves 0,3,1,4,2 are played
		state := play(ctx, t, manager, gameID, x, o, 0, 3, 1, 4, 2)

		// Then: X wins on the top row
		assert.Equal(t, entity.StatusFinished, state.Status)
		assert.Equal(t, entity.OutcomeXWins, state.Outcome)
		require.NotNil(t, state.Winner)
		assert.Equal(t, entity.PlayerX, *state.Winner)
		assert.Equal(t, tictactoe.Board{"X", "X", "X", "O", "O"}, state.Cells())

		// And: both participants received the same final snapshot
		assert.Equal(t, state, x.last().State)
		assert.Equal(t, state, o.last().State)

		_, err := manager.Move(ctx, o, gameID, 8)
		require.ErrorIs(t, err, apperror.ErrGameNotInProgress)
	})

	t.Run("Full board without a line is a draw", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		state := play(ctx, t, manager, gameID, x, o, 0, 1, 2, 4, 3, 5, 7, 6, 8)

		assert.Equal(t, entity.StatusFinished, state.Status)
		assert.Equal(t, entity.OutcomeDraw, state.Outcome)
		assert.Nil(t, state.Winner)
	})

	t.Run("Turn alternates after every legal move", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		state := play(ctx, t, manager, gameID, x, o, 4)
		assert.Equal(t, entity.PlayerO, state.CurrentTurn)

		state = play(ctx, t, manager, gameID, o, x, 0)
		assert.Equal(t, entity.PlayerX, state.CurrentTurn)
	})

	t.Run("Unknown game leaves the registry untouched", func(t *testing.T) {
		// Given: one game with a move played
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)
		play(ctx, t, manager, gameID, x, o, 4)
		before, err := manager.GetGame(ctx, gameID)
		require.NoError(t, err)
		eventsBefore := len(x.types())

		// When: a move references an unknown game
		_, err = manager.Move(ctx, x, "unknown", 0)

		// Then: GameNotFound is returned and nothing changed
		require.ErrorIs(t, err, apperror.ErrGameNotFound)
		after, err := manager.GetGame(ctx, gameID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, 1, manager.Count())
		assert.Len(t, x.types(), eventsBefore)
	})

	t.Run("Rejections follow the precedence order", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		_, err := manager.Move(ctx, o, gameID, 99)
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)

		_, err = manager.Move(ctx, x, gameID, 99)
		require.ErrorIs(t, err, apperror.ErrIllegalMove)

		_, err = manager.Move(ctx, newFakeConn("stranger"), gameID, 0)
		require.ErrorIs(t, err, apperror.ErrNotInGame)
	})

	t.Run("Concurrent moves for the same turn: exactly one wins", func(t *testing.T) {
		// Given: a started game where X is to move
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		// When: X fires moves at every cell at once
		var wg sync.WaitGroup
		errs := make([]error, tictactoe.BoardSize)
		for cell := 0; cell < tictactoe.BoardSize; cell++ {
			cell := cell
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[cell] = manager.Move(ctx, x, gameID, cell)
			}()
		}
		wg.Wait()

		// Then: exactly one move is accepted and the rest are out of turn
		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
				continue
			}
			require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		}
		assert.Equal(t, 1, accepted)

		state, err := manager.GetGame(ctx, gameID)
		require.NoError(t, err)
		assert.Equal(t, entity.PlayerO, state.CurrentTurn)
	})

	t.Run("Busy session is reported as an internal fault", func(t *testing.T) {
		// Given: a game whose lock is held elsewhere
		manager, _ := newTestManager(t, Options{LockTimeout: 10 * time.Millisecond})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		session, err := manager.lookup(gameID)
		require.NoError(t, err)
		require.NoError(t, session.lock(ctx, time.Second))
		defer session.unlock()

		// When: a move is attempted
		_, err = manager.Move(ctx, x, gameID, 0)

		// Then: the move times out with ErrSessionBusy
		require.ErrorIs(t, err, apperror.ErrSessionBusy)
		assert.False(t, apperror.IsRejection(err))
	})

	t.Run("Failed delivery closes only that connection", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		o.mu.Lock()
		o.broken = true
		o.mu.Unlock()

		state, err := manager.Move(ctx, x, gameID, 0)

		require.NoError(t, err)
		assert.Equal(t, state, x.last().State)
		assert.True(t, o.closed)
		assert.False(t, x.closed)
	})
}

func TestGameManager_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("Forfeit gives the game to the remaining player", func(t *testing.T) {
		// Given: a started game under the forfeit policy
		manager, repo := newTestManager(t, Options{DisconnectPolicy: entity.ForfeitOnDisconnect})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)

		// When: X disconnects
		require.NoError(t, manager.Leave(ctx, x, gameID))

		// Then: O receives a finished snapshot naming O the winner
		event := o.last()
		require.NotNil(t, event)
		assert.Equal(t, EventGameState, event.Type)
		assert.Equal(t, entity.StatusFinished, event.State.Status)
		assert.Equal(t, entity.OutcomeOWins, event.State.Outcome)
		assert.Equal(t, 1, event.State.PlayerCount)

		// When: O disconnects too
		require.NoError(t, manager.Leave(ctx, o, gameID))

		// Then: the game is removed
		assert.Zero(t, manager.Count())
		repo.AssertCalled(t, "DeleteByID", mock.Anything, gameID)
		_, err := manager.GetGame(ctx, gameID)
		require.ErrorIs(t, err, apperror.ErrGameNotFound)
	})

	t.Run("Leaving a waiting game removes it from the pool", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		c1 := newFakeConn("c1")
		seat, err := manager.Create(ctx, c1)
		require.NoError(t, err)

		require.NoError(t, manager.Leave(ctx, c1, seat.GameID))

		assert.Zero(t, manager.Count())
		assert.Empty(t, manager.Waiting())
	})

	t.Run("Error on leaving a game not joined", func(t *testing.T) {
		manager, _ := newTestManager(t, Options{})
		gameID := startGame(ctx, t, manager, newFakeConn("x"), newFakeConn("o"))

		err := manager.Leave(ctx, newFakeConn("stranger"), gameID)

		require.ErrorIs(t, err, apperror.ErrNotInGame)
	})

	t.Run("Reconnect policy reserves the seat for the token holder", func(t *testing.T) {
		// Given: a started game under the reconnect policy
		manager, _ := newTestManager(t, Options{
			DisconnectPolicy: entity.ReserveOnDisconnect,
			ReconnectTimeout: time.Minute,
		})
		x, o := newFakeConn("x"), newFakeConn("o")
		created, err := manager.Create(ctx, x)
		require.NoError(t, err)
		joined, err := manager.Join(ctx, o, created.GameID, "")
		require.NoError(t, err)
		play(ctx, t, manager, created.GameID, x, o, 4)

		// When: O disconnects
		require.NoError(t, manager.Leave(ctx, o, created.GameID))

		// Then: X sees the game waiting with one player, and nobody else can take the seat
		event := x.last()
		assert.Equal(t, entity.StatusWaiting, event.State.Status)
		assert.Equal(t, 1, event.State.PlayerCount)
		assert.Empty(t, manager.Waiting())

		_, err = manager.Move(ctx, x, created.GameID, 0)
		require.ErrorIs(t, err, apperror.ErrGameNotInProgress)

		_, err = manager.Join(ctx, newFakeConn("intruder"), created.GameID, "")
		require.ErrorIs(t, err, apperror.ErrGameNotJoinable)

		// When: O comes back on a new connection with its token
		back := newFakeConn("o-again")
		seat, err := manager.Join(ctx, back, created.GameID, joined.Token)

		// Then: the game resumes with O to move
		require.NoError(t, err)
		assert.Equal(t, entity.PlayerO, seat.Mark)
		assert.Equal(t, entity.StatusInProgress, x.last().State.Status)
		assert.Equal(t, EventGameJoined, back.last().Type)
		assert.Equal(t, tictactoe.MarkX, *back.last().State.Board[4])

		_, err = manager.Move(ctx, back, created.GameID, 0)
		require.NoError(t, err)
	})

	t.Run("Reaper forfeits expired reservations then evicts idle games", func(t *testing.T) {
		// Given: a reserved seat under the reconnect policy
		manager, _ := newTestManager(t, Options{
			DisconnectPolicy: entity.ReserveOnDisconnect,
			ReconnectTimeout: 30 * time.Second,
			IdleTimeout:      time.Minute,
		})
		x, o := newFakeConn("x"), newFakeConn("o")
		gameID := startGame(ctx, t, manager, x, o)
		require.NoError(t, manager.Leave(ctx, o, gameID))

		// When: the sweep runs before the timeout
		assert.Zero(t, manager.Sweep(ctx, time.Now()))

		// Then: nothing happens
		assert.Equal(t, entity.StatusWaiting, x.last().State.Status)

		// When: the sweep runs after the timeout
		expiredAt := time.Now().Add(31 * time.Second)
		assert.Zero(t, manager.Sweep(ctx, expiredAt))

		// Then: X wins by forfeit and the game stays until it is idle
		assert.Equal(t, entity.OutcomeXWins, x.last().State.Outcome)
		assert.Equal(t, 1, manager.Count())

		assert.Equal(t, 1, manager.Sweep(ctx, expiredAt.Add(time.Minute)))
		assert.Zero(t, manager.Count())
	})
}

func TestGameManager_RemoveGame(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, Options{})
	seat, err := manager.Create(ctx, newFakeConn("c1"))
	require.NoError(t, err)

	require.NoError(t, manager.RemoveGame(ctx, seat.GameID))
	require.NoError(t, manager.RemoveGame(ctx, seat.GameID))

	assert.Zero(t, manager.Count())
	assert.Empty(t, manager.Waiting())
}

func TestGameManager_RunReaper(t *testing.T) {
	// Given: a finished game and a reaper with a short interval
	manager, _ := newTestManager(t, Options{IdleTimeout: time.Nanosecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x, o := newFakeConn("x"), newFakeConn("o")
	gameID := startGame(ctx, t, manager, x, o)
	play(ctx, t, manager, gameID, x, o, 0, 3, 1, 4, 2)

	done := make(chan struct{})
	go func() {
		manager.RunReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	// Then: the game is evicted and the reaper stops with the context
	assert.Eventually(t, func() bool { return manager.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
