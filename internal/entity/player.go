package entity

import "time"

// Player is a seat in a game. ID is the connection currently holding the seat.
type Player struct {
	ID         string    `json:"id"`
	Mark       string    `json:"mark,omitempty"`
	Token      string    `json:"-"`
	Connected  bool      `json:"connected"`
	DepartedAt time.Time `json:"-"`
}

func NewPlayer(id, token string) *Player {
	return &Player{
		ID:    id,
		Token: token,
	}
}
