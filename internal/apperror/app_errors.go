package apperror

import "errors"

var (
	ErrIllegalMove       = errors.New("illegal move")
	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrGameNotJoinable   = errors.New("game is not joinable")
	ErrGameNotFound      = errors.New("game not found")
	ErrGameNotInProgress = errors.New("game is not in progress")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrNotInGame         = errors.New("not in this game")
	ErrAllGamesFull      = errors.New("all games are full")

	// ErrSessionBusy is an internal fault: the session lock could not be taken in time.
	ErrSessionBusy = errors.New("game session is busy")
)

const CodeInternal = "internal_error"

var codes = []struct {
	err  error
	code string
}{
	{ErrIllegalMove, "illegal_move"},
	{ErrNotYourTurn, "not_your_turn"},
	{ErrGameNotJoinable, "game_not_joinable"},
	{ErrGameNotFound, "game_not_found"},
	{ErrGameNotInProgress, "game_not_in_progress"},
	{ErrMalformedMessage, "malformed_message"},
	{ErrNotInGame, "not_in_game"},
	{ErrAllGamesFull, "all_games_full"},
}

// Code - returns the wire code for err, or CodeInternal for anything outside the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeInternal
}

// IsRejection - reports whether err is a rejected operation the client can recover from.
func IsRejection(err error) bool {
	return err != nil && Code(err) != CodeInternal
}
