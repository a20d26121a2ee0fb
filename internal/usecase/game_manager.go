package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/pkg"
)

type snapshotRepo interface {
	CreateOrUpdate(ctx context.Context, state *entity.GameState) error
	DeleteByID(ctx context.Context, id string) error
}

type Options struct {
	DisconnectPolicy entity.DisconnectPolicy
	ReconnectTimeout time.Duration
	IdleTimeout      time.Duration
	LockTimeout      time.Duration
	// MaxGames caps concurrent sessions; 0 means unlimited.
	MaxGames int
}

// Seat tells a connection where it landed after create or join.
type Seat struct {
	GameID string
	Mark   string
	Token  string
}

// GameManager is the session registry. Its own lock guards only the sessions map and the
// auto-match pool; game logic runs under the per-session lock. A goroutine holding a session
// lock may take the registry lock, never the other way round.
type GameManager struct {
	logger     *slog.Logger
	opts       Options
	repo       snapshotRepo
	dispatcher *Dispatcher

	mu       sync.RWMutex
	seq      uint64
	sessions map[string]*Session
	waiting  []*Session
}

func NewGameManager(logger *slog.Logger, opts Options, repo snapshotRepo, dispatcher *Dispatcher) *GameManager {
	if opts.DisconnectPolicy == "" {
		opts.DisconnectPolicy = entity.ForfeitOnDisconnect
	}

	return &GameManager{
		logger:     logger.With("component", "game_manager"),
		opts:       opts,
		repo:       repo,
		dispatcher: dispatcher,

		sessions: make(map[string]*Session),
	}
}

// Create - starts a new session with conn seated as X.
func (that *GameManager) Create(ctx context.Context, conn Conn) (*Seat, error) {
	return that.create(ctx, conn, EventGameCreated)
}

// Join - seats conn in gameID, or auto-matches it when gameID is empty. A non-empty
// token reclaims a seat reserved after a disconnect.
func (that *GameManager) Join(ctx context.Context, conn Conn, gameID, token string) (*Seat, error) {
	if gameID == "" {
		return that.autoJoin(ctx, conn)
	}

	session, err := that.lookup(gameID)
	if err != nil {
		return nil, err
	}

	return that.enter(ctx, session, conn, token)
}

// Move - applies a move by conn and broadcasts the resulting snapshot to every participant.
func (that *GameManager) Move(ctx context.Context, conn Conn, gameID string, cell int) (*entity.GameState, error) {
	log := that.logger.With("method", "Move", "gameID", gameID, "connID", conn.ID())

	session, err := that.lookup(gameID)
	if err != nil {
		return nil, err
	}

	if err = session.lock(ctx, that.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer session.unlock()

	if session.removed {
		return nil, fmt.Errorf("%w: %s", apperror.ErrGameNotFound, gameID)
	}

	if err = session.game.MakeTurn(conn.ID(), cell, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to make turn: %w", err)
	}

	state := session.game.State()
	that.dispatcher.Broadcast(session, &Event{Type: EventGameState, State: state}, "")
	that.mirror(ctx, state)

	if session.game.IsFinished() {
		log.Info("game finished", "outcome", state.Outcome)
	}

	return state, nil
}

// Leave - detaches conn from the session and applies the disconnect policy. The session is
// removed once nobody is attached.
func (that *GameManager) Leave(ctx context.Context, conn Conn, gameID string) error {
	log := that.logger.With("method", "Leave", "gameID", gameID, "connID", conn.ID())

	session, err := that.lookup(gameID)
	if err != nil {
		return err
	}

	if err = session.lock(ctx, that.opts.LockTimeout); err != nil {
		return err
	}
	defer session.unlock()

	if session.removed {
		return fmt.Errorf("%w: %s", apperror.ErrGameNotFound, gameID)
	}

	if _, ok := session.conns[conn.ID()]; !ok {
		return fmt.Errorf("%w: game %s", apperror.ErrNotInGame, gameID)
	}

	delete(session.conns, conn.ID())

	if err = session.game.Leave(conn.ID(), that.opts.DisconnectPolicy, time.Now()); err != nil {
		log.Warn("seat already released", "error", err)
	}

	if len(session.conns) == 0 {
		that.evict(ctx, session)
		log.Info("last participant left, game removed")
		return nil
	}

	that.syncWaiting(session)

	state := session.game.State()
	that.dispatcher.Broadcast(session, &Event{Type: EventGameState, State: state}, "")
	that.mirror(ctx, state)

	log.Info("participant left", "status", state.Status, "outcome", state.Outcome)

	return nil
}

// GetGame - returns a snapshot of the session.
func (that *GameManager) GetGame(ctx context.Context, gameID string) (*entity.GameState, error) {
	session, err := that.lookup(gameID)
	if err != nil {
		return nil, err
	}

	if err = session.lock(ctx, that.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer session.unlock()

	if session.removed {
		return nil, fmt.Errorf("%w: %s", apperror.ErrGameNotFound, gameID)
	}

	return session.game.State(), nil
}

// RemoveGame - drops the session from the registry. Removing an unknown game is a no-op.
func (that *GameManager) RemoveGame(ctx context.Context, gameID string) error {
	session, err := that.lookup(gameID)
	if errors.Is(err, apperror.ErrGameNotFound) {
		return nil
	}

	if err = session.lock(ctx, that.opts.LockTimeout); err != nil {
		return err
	}
	defer session.unlock()

	if !session.removed {
		that.evict(ctx, session)
	}

	return nil
}

// Count - number of live sessions.
func (that *GameManager) Count() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.sessions)
}

// Waiting - ids of the auto-match pool, oldest first.
func (that *GameManager) Waiting() []string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	ids := make([]string, 0, len(that.waiting))
	for _, session := range that.waiting {
		ids = append(ids, session.ID())
	}

	return ids
}

// Sweep - expires stale seat reservations and evicts finished sessions idle for longer
// than the idle timeout. Returns the number of evicted sessions.
func (that *GameManager) Sweep(ctx context.Context, now time.Time) int {
	that.mu.RLock()
	sessions := make([]*Session, 0, len(that.sessions))
	for _, session := range that.sessions {
		sessions = append(sessions, session)
	}
	that.mu.RUnlock()

	evicted := 0
	for _, session := range sessions {
		if ctx.Err() != nil {
			break
		}

		if that.sweepOne(ctx, session, now) {
			evicted++
		}
	}

	return evicted
}

// RunReaper - sweeps the registry every interval until ctx is done.
func (that *GameManager) RunReaper(ctx context.Context, interval time.Duration) {
	log := that.logger.With("method", "RunReaper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("reaper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("reaper stopped")
			return
		case now := <-ticker.C:
			if evicted := that.Sweep(ctx, now); evicted > 0 {
				log.Info("evicted idle games", "count", evicted, "remaining", that.Count())
			}
		}
	}
}

func (that *GameManager) sweepOne(ctx context.Context, session *Session, now time.Time) bool {
	log := that.logger.With("method", "sweepOne", "gameID", session.ID())

	if err := session.lock(ctx, that.opts.LockTimeout); err != nil {
		log.Warn("skipping busy game", "error", err)
		return false
	}
	defer session.unlock()

	if session.removed {
		return false
	}

	game := session.game

	if that.opts.DisconnectPolicy == entity.ReserveOnDisconnect && game.ExpireReservations(now, that.opts.ReconnectTimeout) {
		state := game.State()
		that.dispatcher.Broadcast(session, &Event{Type: EventGameState, State: state}, "")
		that.mirror(ctx, state)
		log.Info("reservation expired, game forfeited", "outcome", state.Outcome)
	}

	if game.IsFinished() && that.opts.IdleTimeout > 0 && now.Sub(game.UpdatedAt) >= that.opts.IdleTimeout {
		that.evict(ctx, session)
		return true
	}

	return false
}

func (that *GameManager) create(ctx context.Context, conn Conn, eventType string) (*Seat, error) {
	log := that.logger.With("method", "create", "connID", conn.ID())

	now := time.Now()
	game := entity.NewGame(pkg.GenerateGameID(), now)
	player := entity.NewPlayer(conn.ID(), pkg.GeneratePlayerToken())
	if err := game.Join(player, now); err != nil {
		return nil, fmt.Errorf("failed to seat creator: %w", err)
	}

	session := newSession(0, game)
	session.conns[conn.ID()] = conn

	// nobody else can see the session yet
	session.sem.TryAcquire(1)
	defer session.unlock()

	if err := that.insert(session); err != nil {
		return nil, err
	}

	state := game.State()
	that.dispatcher.Reply(conn, &Event{Type: eventType, State: state, Mark: player.Mark, Token: player.Token})
	that.mirror(ctx, state)

	log.Info("game created", "gameID", game.ID)

	return &Seat{GameID: game.ID, Mark: player.Mark, Token: player.Token}, nil
}

// autoJoin - tries waiting sessions oldest first and creates a new one when none accepts.
func (that *GameManager) autoJoin(ctx context.Context, conn Conn) (*Seat, error) {
	tried := make(map[string]struct{})

	for {
		session := that.oldestWaiting(tried)
		if session == nil {
			return that.create(ctx, conn, EventGameJoined)
		}

		seat, err := that.enter(ctx, session, conn, "")
		switch {
		case errors.Is(err, apperror.ErrGameNotJoinable),
			errors.Is(err, apperror.ErrGameNotFound),
			errors.Is(err, apperror.ErrSessionBusy):
			tried[session.ID()] = struct{}{}
			continue
		default:
			return seat, err
		}
	}
}

func (that *GameManager) enter(ctx context.Context, session *Session, conn Conn, token string) (*Seat, error) {
	log := that.logger.With("method", "enter", "gameID", session.ID(), "connID", conn.ID())

	if err := session.lock(ctx, that.opts.LockTimeout); err != nil {
		return nil, err
	}
	defer session.unlock()

	if session.removed {
		return nil, fmt.Errorf("%w: %s", apperror.ErrGameNotFound, session.ID())
	}

	game := session.game
	now := time.Now()

	var (
		player *entity.Player
		err    error
	)

	if token != "" {
		player, err = game.Reclaim(token, conn.ID(), now)
	} else {
		player = entity.NewPlayer(conn.ID(), pkg.GeneratePlayerToken())
		err = game.Join(player, now)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to join game: %w", err)
	}

	session.conns[conn.ID()] = conn
	that.syncWaiting(session)

	state := game.State()
	that.dispatcher.Reply(conn, &Event{Type: EventGameJoined, State: state, Mark: player.Mark, Token: player.Token})
	that.dispatcher.Broadcast(session, &Event{Type: EventGameState, State: state}, conn.ID())
	that.mirror(ctx, state)

	log.Info("player joined game", "mark", player.Mark, "status", game.Status, "reclaimed", token != "")

	return &Seat{GameID: game.ID, Mark: player.Mark, Token: player.Token}, nil
}

func (that *GameManager) lookup(gameID string) (*Session, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.sessions[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrGameNotFound, gameID)
	}

	return session, nil
}

func (that *GameManager) insert(session *Session) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.opts.MaxGames > 0 && len(that.sessions) >= that.opts.MaxGames {
		return apperror.ErrAllGamesFull
	}

	that.seq++
	session.seq = that.seq
	that.sessions[session.ID()] = session

	if session.game.IsJoinable() {
		that.waiting = append(that.waiting, session)
	}

	return nil
}

// evict - caller holds the session lock.
func (that *GameManager) evict(ctx context.Context, session *Session) {
	session.removed = true

	that.mu.Lock()
	if that.sessions[session.ID()] == session {
		delete(that.sessions, session.ID())
	}
	that.waiting = slices.DeleteFunc(that.waiting, func(s *Session) bool { return s == session })
	that.mu.Unlock()

	if that.repo != nil {
		if err := that.repo.DeleteByID(ctx, session.ID()); err != nil {
			that.logger.Warn("failed to delete snapshot", "gameID", session.ID(), "error", err)
		}
	}
}

func (that *GameManager) oldestWaiting(skip map[string]struct{}) *Session {
	that.mu.RLock()
	defer that.mu.RUnlock()

	for _, session := range that.waiting {
		if _, ok := skip[session.ID()]; !ok {
			return session
		}
	}

	return nil
}

// syncWaiting - keeps the auto-match pool in step with the session, ordered by creation.
// Caller holds the session lock.
func (that *GameManager) syncWaiting(session *Session) {
	joinable := !session.removed && session.game.IsJoinable()

	that.mu.Lock()
	defer that.mu.Unlock()

	idx := slices.Index(that.waiting, session)

	switch {
	case joinable && idx < 0:
		pos, _ := slices.BinarySearchFunc(that.waiting, session.seq, func(s *Session, seq uint64) int {
			return cmp.Compare(s.seq, seq)
		})
		that.waiting = slices.Insert(that.waiting, pos, session)
	case !joinable && idx >= 0:
		that.waiting = slices.Delete(that.waiting, idx, idx+1)
	}
}

func (that *GameManager) mirror(ctx context.Context, state *entity.GameState) {
	if that.repo == nil {
		return
	}

	if err := that.repo.CreateOrUpdate(ctx, state); err != nil {
		that.logger.Warn("failed to mirror snapshot", "gameID", state.GameID, "error", err)
	}
}
