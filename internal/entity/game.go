package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"

	PlayerX   = tictactoe.MarkX
	PlayerO   = tictactoe.MarkO
	PlayerTie = "-"

	MaxPlayers = 2
)

const (
	OutcomeNone  = "none"
	OutcomeXWins = "x_wins"
	OutcomeOWins = "o_wins"
	OutcomeDraw  = "draw"
)

// DisconnectPolicy decides what happens to an in-progress game when a participant departs.
type DisconnectPolicy string

const (
	// ForfeitOnDisconnect finishes the game with the remaining participant as winner.
	ForfeitOnDisconnect DisconnectPolicy = "forfeit"
	// ReserveOnDisconnect keeps the seat for its token holder until the reaper expires it.
	ReserveOnDisconnect DisconnectPolicy = "reconnect"
)

// Game is the authoritative state of one session. It is not safe for concurrent use;
// callers serialize access per game.
type Game struct {
	ID        string          `json:"id"`
	Board     tictactoe.Board `json:"board"`
	Turn      string          `json:"player_turn"`
	Winner    string          `json:"winner"`
	Status    string          `json:"status"`
	Players   []*Player       `json:"players,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewGame(id string, now time.Time) *Game {
	return &Game{
		ID:        id,
		Turn:      PlayerX,
		Status:    StatusWaiting,
		UpdatedAt: now,
	}
}

func (that *Game) IsFinished() bool {
	return that.Status == StatusFinished
}

func (that *Game) IsInProgress() bool {
	return that.Status == StatusInProgress
}

func (that *Game) IsWaiting() bool {
	return that.Status == StatusWaiting
}

// IsJoinable - a new participant may take a free seat.
func (that *Game) IsJoinable() bool {
	return that.IsWaiting() && len(that.Players) < MaxPlayers
}

func (that *Game) PlayerByID(id string) *Player {
	for _, player := range that.Players {
		if player.ID == id {
			return player
		}
	}
	return nil
}

func (that *Game) ConnectedPlayers() []*Player {
	connected := make([]*Player, 0, len(that.Players))
	for _, player := range that.Players {
		if player.Connected {
			connected = append(connected, player)
		}
	}
	return connected
}

// Join - seats player with the unused mark. The second arrival starts the game.
func (that *Game) Join(player *Player, now time.Time) error {
	if that.IsFinished() {
		return fmt.Errorf("%w: game %s is finished", apperror.ErrGameNotJoinable, that.ID)
	}

	if that.PlayerByID(player.ID) != nil {
		return fmt.Errorf("%w: already in game %s", apperror.ErrGameNotJoinable, that.ID)
	}

	if !that.IsJoinable() {
		return fmt.Errorf("%w: game %s is full", apperror.ErrGameNotJoinable, that.ID)
	}

	player.Mark = that.unusedMark()
	player.Connected = true
	player.DepartedAt = time.Time{}
	that.Players = append(that.Players, player)

	if len(that.Players) == MaxPlayers {
		that.Turn = that.Players[0].Mark
		that.Status = StatusInProgress
	}

	that.UpdatedAt = now

	return nil
}

// Reclaim - hands a reserved seat back to the holder of its token.
func (that *Game) Reclaim(token, playerID string, now time.Time) (*Player, error) {
	if that.IsFinished() {
		return nil, fmt.Errorf("%w: game %s is finished", apperror.ErrGameNotJoinable, that.ID)
	}

	if that.PlayerByID(playerID) != nil {
		return nil, fmt.Errorf("%w: already in game %s", apperror.ErrGameNotJoinable, that.ID)
	}

	for _, player := range that.Players {
		if player.Connected || token == "" || player.Token != token {
			continue
		}

		player.ID = playerID
		player.Connected = true
		player.DepartedAt = time.Time{}

		if len(that.ConnectedPlayers()) == MaxPlayers {
			that.Status = StatusInProgress
		}

		that.UpdatedAt = now

		return player, nil
	}

	return nil, fmt.Errorf("%w: no reserved seat for this token in game %s", apperror.ErrGameNotJoinable, that.ID)
}

// MakeTurn - validates and applies a move by the player with the given id.
func (that *Game) MakeTurn(playerID string, cell int, now time.Time) error {
	player := that.PlayerByID(playerID)
	if player == nil || !player.Connected {
		return fmt.Errorf("%w: game %s", apperror.ErrNotInGame, that.ID)
	}

	if !that.IsInProgress() {
		return fmt.Errorf("%w: game %s is %s", apperror.ErrGameNotInProgress, that.ID, that.Status)
	}

	if player.Mark != that.Turn {
		return apperror.ErrNotYourTurn
	}

	board, err := tictactoe.ApplyMove(that.Board, cell, player.Mark)
	if err != nil {
		return fmt.Errorf("invalid turn: %w", err)
	}

	that.Board = board
	that.UpdatedAt = now

	switch tictactoe.Evaluate(board) {
	case tictactoe.ResultXWins:
		that.finish(PlayerX)
	case tictactoe.ResultOWins:
		that.finish(PlayerO)
	case tictactoe.ResultDraw:
		that.finish(PlayerTie)
	default:
		that.Turn = tictactoe.Opponent(player.Mark)
	}

	return nil
}

// Leave - applies the departure of a participant according to policy.
func (that *Game) Leave(playerID string, policy DisconnectPolicy, now time.Time) error {
	player := that.PlayerByID(playerID)
	if player == nil || !player.Connected {
		return fmt.Errorf("%w: game %s", apperror.ErrNotInGame, that.ID)
	}

	that.UpdatedAt = now

	switch {
	case that.IsWaiting() && !that.hasReservedSeat():
		that.removePlayer(player)
	case that.IsInProgress() && policy == ReserveOnDisconnect:
		player.Connected = false
		player.DepartedAt = now
		that.Status = StatusWaiting
	case that.IsInProgress():
		player.Connected = false
		player.DepartedAt = now
		that.finish(tictactoe.Opponent(player.Mark))
	default:
		player.Connected = false
		player.DepartedAt = now
	}

	return nil
}

// ExpireReservations - forfeits the game to the connected participant once a reserved
// seat has been empty for longer than timeout. Reports whether the game finished.
func (that *Game) ExpireReservations(now time.Time, timeout time.Duration) bool {
	if !that.IsWaiting() {
		return false
	}

	connected := that.ConnectedPlayers()
	if len(connected) != 1 {
		return false
	}

	for _, player := range that.Players {
		if !player.Connected && !player.DepartedAt.IsZero() && now.Sub(player.DepartedAt) >= timeout {
			that.finish(connected[0].Mark)
			that.UpdatedAt = now
			return true
		}
	}

	return false
}

// Outcome - the wire name of the result; OutcomeNone until the game is finished.
func (that *Game) Outcome() string {
	if !that.IsFinished() {
		return OutcomeNone
	}

	switch that.Winner {
	case PlayerX:
		return OutcomeXWins
	case PlayerO:
		return OutcomeOWins
	default:
		return OutcomeDraw
	}
}

func (that *Game) finish(winner string) {
	that.Winner = winner
	that.Status = StatusFinished
}

func (that *Game) hasReservedSeat() bool {
	for _, player := range that.Players {
		if !player.Connected {
			return true
		}
	}
	return false
}

func (that *Game) removePlayer(target *Player) {
	players := that.Players[:0]
	for _, player := range that.Players {
		if player != target {
			players = append(players, player)
		}
	}
	that.Players = players
}

func (that *Game) unusedMark() string {
	for _, mark := range []string{PlayerX, PlayerO} {
		taken := false
		for _, player := range that.Players {
			if player.Mark == mark {
				taken = true
				break
			}
		}

		if !taken {
			return mark
		}
	}

	return ""
}
