package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-chess-server/internal/game"
)

// RedisStore keeps each record as a JSON document under chess:game:<id>. Writes that read
// before writing run inside WATCH transactions and retry on conflict.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

const maxTxRetries = 8

func keyGame(id int64) string { return "chess:game:" + strconv.FormatInt(id, 10) }
func keySeq() string          { return "chess:game:seq" }
func keyIndex() string        { return "chess:games" }

// OpenRedis parses a redis:// or rediss:// URL, connects and pings.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("REDIS_URL required")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func (s *RedisStore) CreateGame(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrBadName
	}
	id, err := s.rdb.Incr(ctx, keySeq()).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate game id: %w", err)
	}
	raw, err := encodeRecord(&Record{ID: id, Name: name, Game: game.NewGame()})
	if err != nil {
		return 0, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyGame(id), raw, 0)
	pipe.SAdd(ctx, keyIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}
	return id, nil
}

func (s *RedisStore) GetGame(ctx context.Context, id int64) (*Record, error) {
	raw, err := s.rdb.Get(ctx, keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *RedisStore) ListGames(ctx context.Context) ([]*Record, error) {
	ids, err := s.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		r, err := s.GetGame(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) SaveGameState(ctx context.Context, id int64, g *game.Game) error {
	return s.update(ctx, id, func(r *Record) error {
		r.Game = g.Clone()
		return nil
	})
}

func (s *RedisStore) ClaimSeat(ctx context.Context, id int64, color game.Color, user string) error {
	if err := checkSeat(color, user); err != nil {
		return err
	}
	return s.update(ctx, id, func(r *Record) error {
		cur := r.Occupant(color)
		if cur != "" && cur != user {
			return ErrSeatTaken
		}
		setSeat(r, color, user)
		return nil
	})
}

func (s *RedisStore) ReleaseSeat(ctx context.Context, id int64, color game.Color, user string) error {
	if !color.Valid() {
		return ErrBadColor
	}
	return s.update(ctx, id, func(r *Record) error {
		if r.Occupant(color) == user {
			setSeat(r, color, "")
		}
		return nil
	})
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return err
	}
	keys := []string{keyIndex(), keySeq()}
	for _, raw := range ids {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			keys = append(keys, keyGame(id))
		}
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// update runs fn against the stored record inside a WATCH transaction.
func (s *RedisStore) update(ctx context.Context, id int64, fn func(r *Record) error) error {
	key := keyGame(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		out, err := encodeRecord(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update game %d: %w", id, redis.TxFailedErr)
}

func setSeat(r *Record, color game.Color, user string) {
	if color == game.White {
		r.White = user
	} else {
		r.Black = user
	}
}
