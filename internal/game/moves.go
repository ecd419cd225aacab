package game

// Move is a request to move the piece on From to To. Promotion is empty unless a pawn
// lands on its far rank.
type Move struct {
	From      Square
	To        Square
	Promotion PieceType
}

func (m Move) String() string {
	s := m.From.String() + m.To.String()
	if m.Promotion != "" {
		s += "=" + string(m.Promotion)
	}
	return s
}

type offset struct{ dr, dc int }

var (
	kingSteps   = []offset{{1, -1}, {1, 0}, {1, 1}, {0, -1}, {0, 1}, {-1, -1}, {-1, 0}, {-1, 1}}
	knightSteps = []offset{{2, -1}, {2, 1}, {1, -2}, {1, 2}, {-1, -2}, {-1, 2}, {-2, -1}, {-2, 1}}
	orthogonal  = []offset{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonal    = []offset{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// PieceMoves returns the destinations the piece on from can reach geometrically, without
// regard to whether the move exposes its own king. It returns nil for an empty square.
func PieceMoves(b *Board, from Square) []Move {
	p, ok := b.Get(from)
	if !ok {
		return nil
	}
	switch p.Type {
	case King:
		return stepMoves(b, from, p.Color, kingSteps)
	case Knight:
		return stepMoves(b, from, p.Color, knightSteps)
	case Rook:
		return slideMoves(b, from, p.Color, orthogonal)
	case Bishop:
		return slideMoves(b, from, p.Color, diagonal)
	case Queen:
		return append(slideMoves(b, from, p.Color, orthogonal), slideMoves(b, from, p.Color, diagonal)...)
	case Pawn:
		return pawnMoves(b, from, p.Color)
	}
	return nil
}

func stepMoves(b *Board, from Square, c Color, steps []offset) []Move {
	out := make([]Move, 0, len(steps))
	for _, o := range steps {
		to := Sq(from.Row+o.dr, from.Col+o.dc)
		if !to.Valid() {
			continue
		}
		if occ, ok := b.Get(to); ok && occ.Color == c {
			continue
		}
		out = append(out, Move{From: from, To: to})
	}
	return out
}

func slideMoves(b *Board, from Square, c Color, dirs []offset) []Move {
	var out []Move
	for _, d := range dirs {
		for to := Sq(from.Row+d.dr, from.Col+d.dc); to.Valid(); to = Sq(to.Row+d.dr, to.Col+d.dc) {
			occ, ok := b.Get(to)
			if !ok {
				out = append(out, Move{From: from, To: to})
				continue
			}
			if occ.Color != c {
				out = append(out, Move{From: from, To: to})
			}
			break
		}
	}
	return out
}

func pawnMoves(b *Board, from Square, c Color) []Move {
	dir, home, last := 1, 2, 8
	if c == Black {
		dir, home, last = -1, 7, 1
	}
	var out []Move
	add := func(to Square) {
		if to.Row == last {
			for _, t := range PromotionTypes {
				out = append(out, Move{From: from, To: to, Promotion: t})
			}
			return
		}
		out = append(out, Move{From: from, To: to})
	}

	one := Sq(from.Row+dir, from.Col)
	if one.Valid() {
		if _, occupied := b.Get(one); !occupied {
			add(one)
			two := Sq(from.Row+2*dir, from.Col)
			if from.Row == home {
				if _, occupied := b.Get(two); !occupied {
					add(two)
				}
			}
		}
	}
	for _, dc := range [2]int{-1, 1} {
		to := Sq(from.Row+dir, from.Col+dc)
		if occ, ok := b.Get(to); ok && occ.Color != c {
			add(to)
		}
	}
	return out
}
