package websocket

import (
	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
)

const (
	TypeCreate = "create"
	TypeJoin   = "join"
	TypeMove   = "move"

	TypeGameCreated = usecase.EventGameCreated
	TypeGameJoined  = usecase.EventGameJoined
	TypeGameState   = usecase.EventGameState
	TypeError       = "error"
)

// Request is an inbound client message.
type Request struct {
	Type        string `json:"type"`
	GameID      string `json:"game_id,omitempty"`
	Cell        *int   `json:"cell,omitempty"`
	PlayerToken string `json:"player_token,omitempty"`
}

// Response is an outbound server message.
type Response struct {
	Type         string            `json:"type"`
	GameID       string            `json:"game_id,omitempty"`
	GameState    *entity.GameState `json:"game_state,omitempty"`
	PlayerSymbol string            `json:"player_symbol,omitempty"`
	PlayerToken  string            `json:"player_token,omitempty"`
	Code         string            `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
}

func eventResponse(event *usecase.Event) *Response {
	resp := &Response{
		Type:         event.Type,
		GameState:    event.State,
		PlayerSymbol: event.Mark,
		PlayerToken:  event.Token,
	}

	if event.State != nil {
		resp.GameID = event.State.GameID
	}

	return resp
}

func errorResponse(err error) *Response {
	code := apperror.Code(err)

	message := "internal error"
	if code != apperror.CodeInternal {
		message = err.Error()
	}

	return &Response{
		Type:    TypeError,
		Code:    code,
		Message: message,
	}
}
