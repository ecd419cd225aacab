package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-chess-server/internal/game"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	games  map[int64]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, games: make(map[int64]*Record)}
}

func (s *MemoryStore) CreateGame(_ context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.games[id] = &Record{ID: id, Name: name, Game: game.NewGame()}
	return id, nil
}

func (s *MemoryStore) GetGame(_ context.Context, id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.games[id]
	if !ok {
		return nil, nil
	}
	return r.clone(), nil
}

func (s *MemoryStore) ListGames(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	out := make([]*Record, 0, len(s.games))
	for _, r := range s.games {
		out = append(out, r.clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveGameState(_ context.Context, id int64, g *game.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.games[id]
	if !ok {
		return ErrNotFound
	}
	r.Game = g.Clone()
	return nil
}

func (s *MemoryStore) ClaimSeat(_ context.Context, id int64, color game.Color, user string) error {
	if err := checkSeat(color, user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.games[id]
	if !ok {
		return ErrNotFound
	}
	seat := &r.White
	if color == game.Black {
		seat = &r.Black
	}
	if *seat != "" && *seat != user {
		return ErrSeatTaken
	}
	*seat = user
	return nil
}

func (s *MemoryStore) ReleaseSeat(_ context.Context, id int64, color game.Color, user string) error {
	if !color.Valid() {
		return ErrBadColor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.games[id]
	if !ok {
		return ErrNotFound
	}
	seat := &r.White
	if color == game.Black {
		seat = &r.Black
	}
	if *seat == user {
		*seat = ""
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = make(map[int64]*Record)
	s.nextID = 1
	return nil
}
