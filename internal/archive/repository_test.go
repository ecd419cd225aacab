package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
)

func sampleResult() session.Result {
	return session.Result{
		GameID:  12,
		Name:    `friday "blitz"`,
		White:   "alice",
		Black:   "",
		Winner:  game.Black,
		Method:  session.MethodResignation,
		Final:   game.NewGame(),
		EndedAt: time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildPGN(t *testing.T) {
	res := sampleResult()
	pgn := buildPGN(res, mapResultToPGN(res.Winner), res.Final.FEN())

	assert.Contains(t, pgn, `[Site "friday 'blitz'"]`)
	assert.Contains(t, pgn, `[Date "2025.03.09"]`)
	assert.Contains(t, pgn, `[White "alice"]`)
	assert.Contains(t, pgn, `[Black "?"]`)
	assert.Contains(t, pgn, `[Result "0-1"]`)
	assert.Contains(t, pgn, `[Termination "resignation"]`)
	assert.Contains(t, pgn, `[FEN "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w - - 0 1"]`)
	assert.True(t, strings.HasSuffix(pgn, "\n\n0-1"))
}

func TestMapResultToPGN(t *testing.T) {
	assert.Equal(t, "1-0", mapResultToPGN(game.White))
	assert.Equal(t, "0-1", mapResultToPGN(game.Black))
	assert.Equal(t, "1/2-1/2", mapResultToPGN(""))
}

func TestNilRepositoryIsNoop(t *testing.T) {
	var r *Repository
	require.NoError(t, r.RecordResult(context.Background(), sampleResult()))
}

func TestRecordResultPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.OpenPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.EnsureSchema(ctx, db))

	r := NewRepository(db)
	res := sampleResult()
	require.NoError(t, r.RecordResult(ctx, res))
	res.Winner = game.White
	require.NoError(t, r.RecordResult(ctx, res))

	pgn, err := r.Lookup(ctx, res.GameID)
	require.NoError(t, err)
	assert.Contains(t, pgn, `[Result "1-0"]`)
}
