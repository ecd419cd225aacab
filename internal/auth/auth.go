// Package auth maps session tokens to user names and issues tokens to new users.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUserTaken is returned by Issue when the name is already registered.
var ErrUserTaken = errors.New("username already taken")

// Resolver returns the user behind token, or "" when the token is unknown.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Registry is a Resolver that also registers users and can be wiped.
type Registry interface {
	Resolver
	// Issue registers user and returns a fresh token for it.
	Issue(ctx context.Context, user string) (string, error)
	Clear(ctx context.Context) error
}

func checkUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("user required")
	}
	return nil
}

type MemoryResolver struct {
	mu     sync.RWMutex
	tokens map[string]string
	users  map[string]struct{}
}

func NewMemoryResolver(seed map[string]string) *MemoryResolver {
	r := &MemoryResolver{tokens: make(map[string]string, len(seed)), users: make(map[string]struct{})}
	for tok, user := range seed {
		r.tokens[tok] = user
		r.users[user] = struct{}{}
	}
	return r
}

// Register binds token to user, registering user when new.
func (r *MemoryResolver) Register(_ context.Context, token, user string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(user) == "" {
		return errors.New("token and user required")
	}
	r.mu.Lock()
	r.tokens[token] = user
	r.users[user] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *MemoryResolver) Issue(_ context.Context, user string) (string, error) {
	if err := checkUser(user); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user]; ok {
		return "", ErrUserTaken
	}
	tok := uuid.NewString()
	r.users[user] = struct{}{}
	r.tokens[tok] = user
	return tok, nil
}

func (r *MemoryResolver) Clear(context.Context) error {
	r.mu.Lock()
	r.tokens = make(map[string]string)
	r.users = make(map[string]struct{})
	r.mu.Unlock()
	return nil
}

func (r *MemoryResolver) Resolve(_ context.Context, token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[token], nil
}

// RedisResolver reads chess:auth:<token>; registered names live in the chess:users set.
type RedisResolver struct{ rdb *redis.Client }

func NewRedisResolver(rdb *redis.Client) *RedisResolver { return &RedisResolver{rdb: rdb} }

func keyToken(token string) string { return "chess:auth:" + token }
func keyUsers() string             { return "chess:users" }

func (r *RedisResolver) Register(ctx context.Context, token, user string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(user) == "" {
		return errors.New("token and user required")
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keyToken(token), user, 0)
		p.SAdd(ctx, keyUsers(), user)
		return nil
	})
	return err
}

func (r *RedisResolver) Issue(ctx context.Context, user string) (string, error) {
	if err := checkUser(user); err != nil {
		return "", err
	}
	added, err := r.rdb.SAdd(ctx, keyUsers(), user).Result()
	if err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}
	if added == 0 {
		return "", ErrUserTaken
	}
	tok := uuid.NewString()
	if err := r.rdb.Set(ctx, keyToken(tok), user, 0).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

// Clear removes every token and registered name.
func (r *RedisResolver) Clear(ctx context.Context) error {
	keys := []string{keyUsers()}
	iter := r.rdb.Scan(ctx, 0, keyToken("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *RedisResolver) Resolve(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	user, err := r.rdb.Get(ctx, keyToken(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	return user, nil
}

// PostgresResolver reads the auth table; registered names live in users.
type PostgresResolver struct{ db *sql.DB }

func NewPostgresResolver(db *sql.DB) *PostgresResolver { return &PostgresResolver{db: db} }

func (r *PostgresResolver) Register(ctx context.Context, token, user string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(user) == "" {
		return errors.New("token and user required")
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, user); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth (auth_token, username) VALUES ($1, $2)
		 ON CONFLICT (auth_token) DO UPDATE SET username = EXCLUDED.username`, token, user)
	return err
}

func (r *PostgresResolver) Issue(ctx context.Context, user string) (string, error) {
	if err := checkUser(user); err != nil {
		return "", err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, user)
	if err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", ErrUserTaken
	}
	tok := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO auth (auth_token, username) VALUES ($1, $2)`, tok, user); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return tok, nil
}

func (r *PostgresResolver) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `TRUNCATE auth, users`)
	return err
}

func (r *PostgresResolver) Resolve(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	var user string
	err := r.db.QueryRowContext(ctx, `SELECT username FROM auth WHERE auth_token = $1`, token).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	return user, nil
}
