package game

import (
	"encoding/json"
	"fmt"
)

type pieceJSON struct {
	PieceColor Color     `json:"pieceColor"`
	Type       PieceType `json:"type"`
}

type boardJSON struct {
	Board [8][8]*pieceJSON `json:"board"`
}

type gameJSON struct {
	Board       boardJSON `json:"board"`
	CurrentTeam Color     `json:"currentTeam"`
}

// MarshalJSON encodes the game as {"board":{"board":[8][8]}, "currentTeam":...}; grid index 0 is row 1.
func (g *Game) MarshalJSON() ([]byte, error) {
	var out gameJSON
	out.CurrentTeam = g.turn
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			if p := g.board.cells[r][c]; !p.Empty() {
				out.Board.Board[r][c] = &pieceJSON{PieceColor: p.Color, Type: p.Type}
			}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (g *Game) UnmarshalJSON(data []byte) error {
	var in gameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	turn := in.CurrentTeam
	if turn == "" {
		turn = White
	}
	if !turn.Valid() {
		return fmt.Errorf("unknown team %q", in.CurrentTeam)
	}
	var b Board
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			pj := in.Board.Board[r][c]
			if pj == nil {
				continue
			}
			if !pj.PieceColor.Valid() || !pj.Type.Valid() {
				return fmt.Errorf("bad piece at row %d col %d", r+1, c+1)
			}
			b.cells[r][c] = Piece{Color: pj.PieceColor, Type: pj.Type}
		}
	}
	g.board = b
	g.turn = turn
	return nil
}
