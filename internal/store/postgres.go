package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-chess-server/internal/game"
)

// OpenPostgres opens a pooled connection to DATABASE_URL and pings it.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS auth (
		auth_token TEXT PRIMARY KEY,
		username   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS games (
		game_id        BIGSERIAL PRIMARY KEY,
		white_username TEXT,
		black_username TEXT,
		game_name      TEXT NOT NULL,
		game_data      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS game_results (
		game_id     BIGINT PRIMARY KEY,
		game_name   TEXT NOT NULL,
		white_name  TEXT,
		black_name  TEXT,
		result      TEXT NOT NULL,
		method      TEXT NOT NULL,
		final_fen   TEXT NOT NULL,
		pgn         TEXT NOT NULL,
		ended_at    TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the users, auth, games and game_results tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// PostgresStore keeps records in the games table with the board in game_data.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateGame(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrBadName
	}
	data, err := json.Marshal(game.NewGame())
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO games (game_name, game_data) VALUES ($1, $2) RETURNING game_id`,
		name, string(data)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetGame(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT game_id, white_username, black_username, game_name, game_data FROM games WHERE game_id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListGames(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, white_username, black_username, game_name, game_data FROM games ORDER BY game_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveGameState(ctx context.Context, id int64, g *game.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE games SET game_data = $2 WHERE game_id = $1`, id, string(data))
	if err != nil {
		return fmt.Errorf("save game %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClaimSeat(ctx context.Context, id int64, color game.Color, user string) error {
	if err := checkSeat(color, user); err != nil {
		return err
	}
	col := seatColumn(color)
	q := fmt.Sprintf(`UPDATE games SET %[1]s = $2 WHERE game_id = $1 AND (%[1]s IS NULL OR %[1]s = $2)`, col)
	res, err := s.db.ExecContext(ctx, q, id, user)
	if err != nil {
		return fmt.Errorf("claim seat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	r, err := s.GetGame(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	return ErrSeatTaken
}

func (s *PostgresStore) ReleaseSeat(ctx context.Context, id int64, color game.Color, user string) error {
	if !color.Valid() {
		return ErrBadColor
	}
	col := seatColumn(color)
	q := fmt.Sprintf(`UPDATE games SET %[1]s = NULL WHERE game_id = $1 AND %[1]s = $2`, col)
	if _, err := s.db.ExecContext(ctx, q, id, user); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	r, err := s.GetGame(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE games RESTART IDENTITY`)
	return err
}

func seatColumn(c game.Color) string {
	if c == game.White {
		return "white_username"
	}
	return "black_username"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r            Record
		white, black sql.NullString
		data         string
	)
	if err := row.Scan(&r.ID, &white, &black, &r.Name, &data); err != nil {
		return nil, err
	}
	r.White, r.Black = white.String, black.String
	r.Game = game.NewGame()
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), r.Game); err != nil {
			return nil, fmt.Errorf("decode game %d: %w", r.ID, err)
		}
	}
	return &r, nil
}
