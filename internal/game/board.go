package game

import "fmt"

// Color identifies a chess side.
type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Valid reports whether c is one of the two sides.
func (c Color) Valid() bool { return c == White || c == Black }

// PieceType is the kind of a piece.
type PieceType string

const (
	King   PieceType = "KING"
	Queen  PieceType = "QUEEN"
	Rook   PieceType = "ROOK"
	Bishop PieceType = "BISHOP"
	Knight PieceType = "KNIGHT"
	Pawn   PieceType = "PAWN"
)

// PromotionTypes lists the kinds a pawn may promote to, in generation order.
var PromotionTypes = [4]PieceType{Queen, Rook, Bishop, Knight}

// IsPromotion reports whether t is a legal promotion target.
func (t PieceType) IsPromotion() bool {
	for _, p := range PromotionTypes {
		if t == p {
			return true
		}
	}
	return false
}

// Valid reports whether t names a piece kind.
func (t PieceType) Valid() bool {
	switch t {
	case King, Queen, Rook, Bishop, Knight, Pawn:
		return true
	}
	return false
}

// Piece is an immutable (color, kind) pair. The zero value is "no piece".
type Piece struct {
	Color Color
	Type  PieceType
}

// Empty reports whether p is the zero piece.
func (p Piece) Empty() bool { return p.Type == "" }

func (p Piece) String() string {
	if p.Empty() {
		return "-"
	}
	return string(p.Color) + " " + string(p.Type)
}

// Square is a 1-based (row, column) board coordinate.
type Square struct {
	Row int
	Col int
}

// Sq is shorthand for Square{row, col}.
func Sq(row, col int) Square { return Square{Row: row, Col: col} }

// Valid reports whether the square is on the board.
func (s Square) Valid() bool {
	return s.Row >= 1 && s.Row <= 8 && s.Col >= 1 && s.Col <= 8
}

// String renders the square in algebraic form ("e2"); off-board squares render as (row,col).
func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
	}
	return string(rune('a'+s.Col-1)) + string(rune('0'+s.Row))
}

// Board is an 8x8 grid of optional pieces. Board is a value type: assigning it copies the grid.
type Board struct {
	cells [8][8]Piece
}

// NewBoard returns an empty board.
func NewBoard() Board { return Board{} }

// StandardBoard returns a board in the starting position.
func StandardBoard() Board {
	var b Board
	b.Reset()
	return b
}

// Get returns the piece on sq. ok is false when the square is empty or off the board.
func (b *Board) Get(sq Square) (Piece, bool) {
	if !sq.Valid() {
		return Piece{}, false
	}
	p := b.cells[sq.Row-1][sq.Col-1]
	return p, !p.Empty()
}

// Set places p on sq; the zero Piece clears the square. Off-board squares are ignored.
func (b *Board) Set(sq Square, p Piece) {
	if !sq.Valid() {
		return
	}
	b.cells[sq.Row-1][sq.Col-1] = p
}

// Remove clears sq.
func (b *Board) Remove(sq Square) { b.Set(sq, Piece{}) }

var backRank = [8]PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

// Reset clears the board and places both sides in the standard starting position.
func (b *Board) Reset() {
	b.cells = [8][8]Piece{}
	for col := 1; col <= 8; col++ {
		b.Set(Sq(1, col), Piece{Color: White, Type: backRank[col-1]})
		b.Set(Sq(2, col), Piece{Color: White, Type: Pawn})
		b.Set(Sq(7, col), Piece{Color: Black, Type: Pawn})
		b.Set(Sq(8, col), Piece{Color: Black, Type: backRank[col-1]})
	}
}

// find returns the first square holding p in row-major order.
func (b *Board) find(p Piece) (Square, bool) {
	for row := 1; row <= 8; row++ {
		for col := 1; col <= 8; col++ {
			if b.cells[row-1][col-1] == p {
				return Sq(row, col), true
			}
		}
	}
	return Square{}, false
}

// each calls fn for every occupied square.
func (b *Board) each(fn func(sq Square, p Piece)) {
	for row := 1; row <= 8; row++ {
		for col := 1; col <= 8; col++ {
			if p := b.cells[row-1][col-1]; !p.Empty() {
				fn(Sq(row, col), p)
			}
		}
	}
}
