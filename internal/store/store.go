// Package store persists game records: the seats, the name, and the latest board of each game.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-chess-server/internal/game"
)

var (
	ErrNotFound  = errf("game not found")
	ErrSeatTaken = errf("seat already taken")
	ErrBadColor  = errf("bad player color")
	ErrBadName   = errf("game name required")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

// Record is one game as persisted. Empty White/Black means the seat is open.
type Record struct {
	ID    int64
	Name  string
	White string
	Black string
	Game  *game.Game
}

// Seat returns the color user plays in r, or "" for an observer.
func (r *Record) Seat(user string) game.Color {
	if r == nil || user == "" {
		return ""
	}
	switch user {
	case r.White:
		return game.White
	case r.Black:
		return game.Black
	}
	return ""
}

// Occupant returns who holds the seat of color c.
func (r *Record) Occupant(c game.Color) string {
	if c == game.White {
		return r.White
	}
	return r.Black
}

func (r *Record) clone() *Record {
	cp := *r
	if r.Game != nil {
		cp.Game = r.Game.Clone()
	}
	return &cp
}

// GameStore is the persistence boundary for game records. Every write is visible to the next read.
// Seat writes and board writes are separate so a move cannot overwrite a concurrent seat claim.
type GameStore interface {
	CreateGame(ctx context.Context, name string) (int64, error)
	// GetGame returns nil, nil when the id is unknown.
	GetGame(ctx context.Context, id int64) (*Record, error)
	ListGames(ctx context.Context) ([]*Record, error)
	SaveGameState(ctx context.Context, id int64, g *game.Game) error
	// ClaimSeat is first-writer-wins: it fails with ErrSeatTaken when another user holds the seat.
	ClaimSeat(ctx context.Context, id int64, color game.Color, user string) error
	// ReleaseSeat opens the seat when user holds it and is a no-op otherwise.
	ReleaseSeat(ctx context.Context, id int64, color game.Color, user string) error
	Clear(ctx context.Context) error
}

// recordJSON is the document form used by the Redis backend.
type recordJSON struct {
	GameID        int64      `json:"gameID"`
	WhiteUsername string     `json:"whiteUsername,omitempty"`
	BlackUsername string     `json:"blackUsername,omitempty"`
	GameName      string     `json:"gameName"`
	Game          *game.Game `json:"game"`
}

func encodeRecord(r *Record) ([]byte, error) {
	return json.Marshal(recordJSON{GameID: r.ID, WhiteUsername: r.White, BlackUsername: r.Black, GameName: r.Name, Game: r.Game})
}

func decodeRecord(raw []byte) (*Record, error) {
	var in recordJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode game record: %w", err)
	}
	if in.Game == nil {
		in.Game = game.NewGame()
	}
	return &Record{ID: in.GameID, Name: in.GameName, White: in.WhiteUsername, Black: in.BlackUsername, Game: in.Game}, nil
}

func checkSeat(color game.Color, user string) error {
	if !color.Valid() {
		return ErrBadColor
	}
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("%w: empty user", ErrBadColor)
	}
	return nil
}
