// Package lobby creates games, lists them, and seats players before play starts.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/store"
)

var (
	ErrUnauthorized = errf("unauthorized")
	ErrBadRequest   = errf("bad request")
	ErrNotFound     = errf("game not found")
	ErrAlreadyTaken = errf("already taken")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

// GameInfo is the listing form of a game.
type GameInfo struct {
	GameID        int64  `json:"gameID"`
	WhiteUsername string `json:"whiteUsername,omitempty"`
	BlackUsername string `json:"blackUsername,omitempty"`
	GameName      string `json:"gameName"`
}

type Service struct {
	games store.GameStore
	auth  auth.Registry
}

func NewService(games store.GameStore, registry auth.Registry) *Service {
	return &Service{games: games, auth: registry}
}

// Register creates user and returns its first token.
func (s *Service) Register(ctx context.Context, user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("%w: username required", ErrBadRequest)
	}
	tok, err := s.auth.Issue(ctx, user)
	if errors.Is(err, auth.ErrUserTaken) {
		return "", ErrAlreadyTaken
	}
	if err != nil {
		return "", err
	}
	obslog.L().Info("lobby_user_register", zap.String("user", user))
	return tok, nil
}

// Clear wipes every game, user and token.
func (s *Service) Clear(ctx context.Context) error {
	var result error
	if err := s.games.Clear(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear games: %w", err))
	}
	if err := s.auth.Clear(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear auth: %w", err))
	}
	if result != nil {
		return result
	}
	obslog.L().Warn("lobby_clear")
	return nil
}

func (s *Service) user(ctx context.Context, token string) (string, error) {
	user, err := s.auth.Resolve(ctx, strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	if user == "" {
		return "", ErrUnauthorized
	}
	return user, nil
}

func (s *Service) CreateGame(ctx context.Context, token, name string) (int64, error) {
	user, err := s.user(ctx, token)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: gameName required", ErrBadRequest)
	}
	id, err := s.games.CreateGame(ctx, name)
	if err != nil {
		return 0, err
	}
	obslog.L().Info("lobby_game_create", zap.Int64("game_id", id), zap.String("user", user), zap.String("name", name))
	return id, nil
}

func (s *Service) ListGames(ctx context.Context, token string) ([]GameInfo, error) {
	if _, err := s.user(ctx, token); err != nil {
		return nil, err
	}
	recs, err := s.games.ListGames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GameInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, GameInfo{GameID: r.ID, WhiteUsername: r.White, BlackUsername: r.Black, GameName: r.Name})
	}
	return out, nil
}

// JoinGame claims the color seat of game id for the token's user.
func (s *Service) JoinGame(ctx context.Context, token string, id int64, color string) error {
	user, err := s.user(ctx, token)
	if err != nil {
		return err
	}
	c := game.Color(strings.ToUpper(strings.TrimSpace(color)))
	if !c.Valid() {
		return fmt.Errorf("%w: playerColor must be WHITE or BLACK", ErrBadRequest)
	}
	err = s.games.ClaimSeat(ctx, id, c, user)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrSeatTaken):
		return ErrAlreadyTaken
	default:
		return err
	}
	obslog.L().Info("lobby_seat_claim", zap.Int64("game_id", id), zap.String("user", user), zap.String("color", string(c)))
	return nil
}
