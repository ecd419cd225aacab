package game

import (
	"errors"
	"fmt"
)

// ErrInvalidMove is returned by MakeMove for any move that is not legal in the current position.
var ErrInvalidMove = errors.New("invalid move")

// Game is a board plus the side to move. Game is not safe for concurrent mutation; callers
// serialize access per game.
type Game struct {
	board Board
	turn  Color
}

// NewGame returns a game in the starting position with White to move.
func NewGame() *Game {
	return &Game{board: StandardBoard(), turn: White}
}

// NewGameFromBoard returns a game over a copy of b with the given side to move.
func NewGameFromBoard(b Board, turn Color) *Game {
	if !turn.Valid() {
		turn = White
	}
	return &Game{board: b, turn: turn}
}

// Board returns a copy of the current board.
func (g *Game) Board() Board { return g.board }

// Turn returns the side to move.
func (g *Game) Turn() Color { return g.turn }

// Clone returns an independent copy of g.
func (g *Game) Clone() *Game {
	cp := *g
	return &cp
}

// Equal reports whether both games hold the same board and side to move.
func (g *Game) Equal(o *Game) bool {
	if g == nil || o == nil {
		return g == o
	}
	return g.board == o.board && g.turn == o.turn
}

// ValidMoves returns the legal moves of the piece on from. ok is false when the square is
// empty; a piece without legal moves yields ok=true and an empty slice.
//
// Each geometric candidate is played on a copy of the board and kept only if the mover's
// king is not attacked afterwards, so the live board is never touched.
func (g *Game) ValidMoves(from Square) (moves []Move, ok bool) {
	return legalMoves(&g.board, from)
}

func legalMoves(b *Board, from Square) ([]Move, bool) {
	p, ok := b.Get(from)
	if !ok {
		return nil, false
	}
	out := []Move{}
	for _, m := range PieceMoves(b, from) {
		sim := *b
		sim.Remove(m.From)
		sim.Set(m.To, p)
		if !inCheck(&sim, p.Color) {
			out = append(out, m)
		}
	}
	return out, true
}

// MakeMove plays m if it is legal for the side to move, then passes the turn.
func (g *Game) MakeMove(m Move) error {
	legal, ok := g.ValidMoves(m.From)
	if !ok {
		return fmt.Errorf("%w: no piece on %s", ErrInvalidMove, m.From)
	}
	p, _ := g.board.Get(m.From)
	if p.Color != g.turn {
		return fmt.Errorf("%w: %s piece moved on %s's turn", ErrInvalidMove, p.Color, g.turn)
	}
	if !containsMove(legal, m) {
		return fmt.Errorf("%w: %s", ErrInvalidMove, m)
	}
	if m.Promotion != "" {
		p = Piece{Color: p.Color, Type: m.Promotion}
	}
	g.board.Remove(m.From)
	g.board.Set(m.To, p)
	g.turn = g.turn.Opponent()
	return nil
}

// IsInCheck reports whether c's king is attacked. A missing king counts as in check.
func (g *Game) IsInCheck(c Color) bool { return inCheck(&g.board, c) }

// IsInCheckmate reports whether c is in check with no legal move.
func (g *Game) IsInCheckmate(c Color) bool {
	return g.IsInCheck(c) && !g.hasLegalMove(c)
}

// IsInStalemate reports whether c is not in check but has no legal move.
func (g *Game) IsInStalemate(c Color) bool {
	return !g.IsInCheck(c) && !g.hasLegalMove(c)
}

// Terminal reports whether either side is checkmated or stalemated.
func (g *Game) Terminal() bool {
	for _, c := range [2]Color{White, Black} {
		if g.IsInCheckmate(c) || g.IsInStalemate(c) {
			return true
		}
	}
	return false
}

func (g *Game) hasLegalMove(c Color) bool {
	found := false
	g.board.each(func(sq Square, p Piece) {
		if found || p.Color != c {
			return
		}
		if moves, ok := legalMoves(&g.board, sq); ok && len(moves) > 0 {
			found = true
		}
	})
	return found
}

func inCheck(b *Board, c Color) bool {
	king, ok := b.find(Piece{Color: c, Type: King})
	if !ok {
		return true
	}
	attacked := false
	b.each(func(sq Square, p Piece) {
		if attacked || p.Color == c {
			return
		}
		for _, m := range PieceMoves(b, sq) {
			if m.To == king {
				attacked = true
				return
			}
		}
	})
	return attacked
}

func containsMove(moves []Move, m Move) bool {
	for _, mv := range moves {
		if mv == m {
			return true
		}
	}
	return false
}
