package auth

import (
	"context"
	"database/sql"
	"os"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registrar interface {
	Registry
	Register(ctx context.Context, token, user string) error
}

func checkResolver(t *testing.T, r registrar) {
	t.Helper()
	ctx := context.Background()
	user, err := r.Resolve(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, user)

	require.NoError(t, r.Register(ctx, "tok-1", "alice"))
	user, err = r.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	user, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, user)

	assert.Error(t, r.Register(ctx, "", "bob"))

	tok, err := r.Issue(ctx, "erin")
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	user, err = r.Resolve(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "erin", user)
	_, err = r.Issue(ctx, "erin")
	assert.ErrorIs(t, err, ErrUserTaken)
	_, err = r.Issue(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserTaken, "registered through Register")
	_, err = r.Issue(ctx, " ")
	assert.Error(t, err)

	require.NoError(t, r.Clear(ctx))
	user, err = r.Resolve(ctx, tok)
	require.NoError(t, err)
	assert.Empty(t, user)
	_, err = r.Issue(ctx, "erin")
	assert.NoError(t, err, "names are free again after Clear")
}

func TestMemoryResolver(t *testing.T) {
	r := NewMemoryResolver(map[string]string{"seed": "carol"})
	user, _ := r.Resolve(context.Background(), "seed")
	assert.Equal(t, "carol", user)
	checkResolver(t, r)
}

func TestRedisResolver(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	checkResolver(t, NewRedisResolver(rdb))

	mr.Set(keyToken("raw"), "dave")
	user, err := NewRedisResolver(rdb).Resolve(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "dave", user)
}

func TestPostgresResolver(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS auth (auth_token TEXT PRIMARY KEY, username TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS users (username TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE auth, users`)
	require.NoError(t, err)
	checkResolver(t, NewPostgresResolver(db))
}
