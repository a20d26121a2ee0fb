package entity

import "github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"

// GameState is the broadcastable snapshot of a game. Empty cells and an absent winner are null.
type GameState struct {
	GameID      string                       `json:"game_id"`
	Board       [tictactoe.BoardSize]*string `json:"board"`
	CurrentTurn string                       `json:"current_turn"`
	Status      string                       `json:"status"`
	Winner      *string                      `json:"winner"`
	Outcome     string                       `json:"outcome"`
	PlayerCount int                          `json:"player_count"`
}

// State - takes a snapshot; the result shares nothing with the game.
func (that *Game) State() *GameState {
	state := &GameState{
		GameID:      that.ID,
		CurrentTurn: that.Turn,
		Status:      that.Status,
		Outcome:     that.Outcome(),
		PlayerCount: len(that.ConnectedPlayers()),
	}

	for i, cell := range that.Board {
		if cell != tictactoe.EmptyCell {
			mark := cell
			state.Board[i] = &mark
		}
	}

	if that.Winner == PlayerX || that.Winner == PlayerO {
		winner := that.Winner
		state.Winner = &winner
	}

	return state
}

// Cells - the board as plain marks, EmptyCell for null.
func (that *GameState) Cells() tictactoe.Board {
	var board tictactoe.Board
	for i, cell := range that.Board {
		if cell != nil {
			board[i] = *cell
		}
	}
	return board
}
