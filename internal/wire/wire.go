// Package wire holds the JSON envelopes exchanged over a gameplay connection.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/cheese-chess-server/internal/game"
)

type CommandType string

const (
	Connect  CommandType = "CONNECT"
	MakeMove CommandType = "MAKE_MOVE"
	Leave    CommandType = "LEAVE"
	Resign   CommandType = "RESIGN"
)

type MessageType string

const (
	LoadGame     MessageType = "LOAD_GAME"
	Notification MessageType = "NOTIFICATION"
	Error        MessageType = "ERROR"
)

// ErrMalformed marks a command that could not be decoded or failed shape checks.
var ErrMalformed = errors.New("malformed command")

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type MoveDTO struct {
	Start     Position       `json:"start"`
	End       Position       `json:"end"`
	Promotion game.PieceType `json:"promotion,omitempty"`
}

// Command is an inbound envelope.
type Command struct {
	CommandType CommandType `json:"commandType"`
	AuthToken   string      `json:"authToken"`
	GameID      int64       `json:"gameID"`
	Move        *MoveDTO    `json:"move,omitempty"`
}

// ServerMessage is an outbound envelope. Exactly one payload field is set, matching ServerMessageType.
type ServerMessage struct {
	ServerMessageType MessageType `json:"serverMessageType"`
	Game              *game.Game  `json:"game,omitempty"`
	Message           string      `json:"message,omitempty"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
}

func NewLoadGame(g *game.Game) ServerMessage {
	return ServerMessage{ServerMessageType: LoadGame, Game: g}
}

func NewNotification(msg string) ServerMessage {
	return ServerMessage{ServerMessageType: Notification, Message: msg}
}

func NewError(msg string) ServerMessage {
	return ServerMessage{ServerMessageType: Error, ErrorMessage: msg}
}

// Decode parses one inbound frame. Every failure wraps ErrMalformed.
func Decode(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	cmd.CommandType = CommandType(strings.ToUpper(strings.TrimSpace(string(cmd.CommandType))))
	switch cmd.CommandType {
	case Connect, Leave, Resign:
	case MakeMove:
		if cmd.Move == nil {
			return Command{}, fmt.Errorf("%w: move is required for MAKE_MOVE", ErrMalformed)
		}
		if _, err := cmd.Move.ToMove(); err != nil {
			return Command{}, err
		}
	case "":
		return Command{}, fmt.Errorf("%w: commandType is required", ErrMalformed)
	default:
		return Command{}, fmt.Errorf("%w: unknown commandType %q", ErrMalformed, cmd.CommandType)
	}
	return cmd, nil
}

// ToMove converts the 1-based wire form into an engine move.
func (m MoveDTO) ToMove() (game.Move, error) {
	from := game.Sq(m.Start.Row, m.Start.Col)
	to := game.Sq(m.End.Row, m.End.Col)
	if !from.Valid() || !to.Valid() {
		return game.Move{}, fmt.Errorf("%w: square out of range", ErrMalformed)
	}
	promo := game.PieceType(strings.ToUpper(strings.TrimSpace(string(m.Promotion))))
	if promo != "" && !promo.IsPromotion() {
		return game.Move{}, fmt.Errorf("%w: bad promotion %q", ErrMalformed, m.Promotion)
	}
	return game.Move{From: from, To: to, Promotion: promo}, nil
}

func FromMove(mv game.Move) MoveDTO {
	return MoveDTO{
		Start:     Position{Row: mv.From.Row, Col: mv.From.Col},
		End:       Position{Row: mv.To.Row, Col: mv.To.Col},
		Promotion: mv.Promotion,
	}
}
