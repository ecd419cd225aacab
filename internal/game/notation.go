package game

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var fenLetters = map[PieceType]byte{King: 'k', Queen: 'q', Rook: 'r', Bishop: 'b', Knight: 'n', Pawn: 'p'}

// FEN renders the position. Castling and en passant are never available, so those fields are "-".
func (g *Game) FEN() string {
	var sb strings.Builder
	for row := 8; row >= 1; row-- {
		empty := 0
		for col := 1; col <= 8; col++ {
			p, ok := g.board.Get(Sq(row, col))
			if !ok {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			ch := fenLetters[p.Type]
			if p.Color == White {
				ch -= 'a' - 'A'
			}
			sb.WriteByte(ch)
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if row > 1 {
			sb.WriteByte('/')
		}
	}
	side := "w"
	if g.turn == Black {
		side = "b"
	}
	fmt.Fprintf(&sb, " %s - - 0 1", side)
	return sb.String()
}

// UCI renders m in long algebraic form, e.g. "e2e4" or "e7e8q".
func UCI(m Move) string {
	s := m.From.String() + m.To.String()
	if m.Promotion != "" {
		s += string(fenLetters[m.Promotion])
	}
	return s
}

// SAN renders m in standard algebraic notation relative to the position in g, which must be
// the position before m is played.
func SAN(g *Game, m Move) (string, error) {
	if _, ok := g.board.find(Piece{Color: White, Type: King}); !ok {
		return "", errors.New("white king missing")
	}
	if _, ok := g.board.find(Piece{Color: Black, Type: King}); !ok {
		return "", errors.New("black king missing")
	}
	opt, err := nchess.FEN(g.FEN())
	if err != nil {
		return "", fmt.Errorf("load fen: %w", err)
	}
	pos := nchess.NewGame(opt).Position()
	mv, err := nchess.UCINotation{}.Decode(pos, UCI(m))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", UCI(m), err)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}
