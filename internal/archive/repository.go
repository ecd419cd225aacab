// Package archive stores concluded games in the game_results table.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// RecordResult upserts r keyed by game id.
func (r *Repository) RecordResult(ctx context.Context, res session.Result) error {
	if r == nil || r.db == nil || res.Final == nil {
		return nil
	}
	pgnResult := mapResultToPGN(res.Winner)
	fen := res.Final.FEN()
	pgn := buildPGN(res, pgnResult, fen)

	q := `INSERT INTO game_results (
        game_id, game_name, white_name, black_name, result, method, final_fen, pgn, ended_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
      ON CONFLICT (game_id) DO UPDATE SET
        game_name=EXCLUDED.game_name,
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        result=EXCLUDED.result,
        method=EXCLUDED.method,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, q,
		res.GameID, res.Name, res.White, res.Black,
		pgnResult, res.Method, fen, pgn, res.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save result %d: %w", res.GameID, err)
	}
	obslog.L().Info("result_persist", zap.Int64("game_id", res.GameID), zap.String("result", pgnResult), zap.String("method", res.Method))
	return nil
}

// Lookup returns the stored PGN of game id, or "" when none exists.
func (r *Repository) Lookup(ctx context.Context, id int64) (string, error) {
	var pgn string
	err := r.db.QueryRowContext(ctx, `SELECT pgn FROM game_results WHERE game_id = $1`, id).Scan(&pgn)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return pgn, err
}

func mapResultToPGN(winner game.Color) string {
	switch winner {
	case game.White:
		return "1-0"
	case game.Black:
		return "0-1"
	default:
		return "1/2-1/2"
	}
}

// buildPGN writes a header-only PGN; the final position travels in the FEN tag.
func buildPGN(res session.Result, pgnResult, fen string) string {
	var b strings.Builder
	date := res.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cheese Chess\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(res.Name)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(orUnknown(res.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(orUnknown(res.Black))))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n", pgnResult))
	if strings.TrimSpace(res.Method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(res.Method))))
	}
	b.WriteString("[SetUp \"1\"]\n")
	b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n\n", fen))
	b.WriteString(pgnResult)
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
