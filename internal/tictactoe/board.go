// Package tictactoe holds the pure rules of a 3x3 board: move legality, win and draw detection.
package tictactoe

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

const (
	MarkX = "X"
	MarkO = "O"

	EmptyCell = ""

	BoardSize = 9
)

// Result is the outcome of evaluating a board.
type Result string

const (
	ResultOngoing Result = "ongoing"
	ResultXWins   Result = "X"
	ResultOWins   Result = "O"
	ResultDraw    Result = "draw"
)

var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Board is an ordered sequence of 9 cells, each EmptyCell, MarkX or MarkO.
type Board [BoardSize]string

// ApplyMove - returns a copy of board with mark written at cell.
func ApplyMove(board Board, cell int, mark string) (Board, error) {
	if cell < 0 || cell >= BoardSize {
		return board, fmt.Errorf("%w: cell %d is out of range", apperror.ErrIllegalMove, cell)
	}

	if board[cell] != EmptyCell {
		return board, fmt.Errorf("%w: cell %d is already occupied", apperror.ErrIllegalMove, cell)
	}

	board[cell] = mark

	return board, nil
}

// Evaluate - checks the winning lines, then whether any empty cell remains.
func Evaluate(board Board) Result {
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return winnerOf(a)
		}
	}

	for _, cell := range board {
		if cell == EmptyCell {
			return ResultOngoing
		}
	}

	return ResultDraw
}

// Opponent - returns the other mark.
func Opponent(mark string) string {
	if mark == MarkX {
		return MarkO
	}
	return MarkX
}

func winnerOf(mark string) Result {
	if mark == MarkX {
		return ResultXWins
	}
	return ResultOWins
}
