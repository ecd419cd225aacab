package session

import (
	"errors"

	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/wire"
)

var (
	ErrUnauthorized   = errf("invalid auth token")
	ErrGameNotFound   = errf("game not found")
	ErrObserverMove   = errf("observers cannot make moves")
	ErrObserverResign = errf("observers cannot resign")
	ErrGameOver       = errf("game is over")
	ErrAlreadyOver    = errf("game is already over")
	ErrNotYourTurn    = errf("not your turn")
	ErrStorage        = errf("storage failure")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

// Kind classifies a command failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindIllegal
	KindMalformed
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindIllegal:
		return "illegal_command"
	case KindMalformed:
		return "malformed"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// KindOf maps err onto the failure classes reported to clients.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, wire.ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthenticated
	case errors.Is(err, ErrGameNotFound):
		return KindNotFound
	case errors.Is(err, ErrObserverMove), errors.Is(err, ErrObserverResign), errors.Is(err, ErrGameOver),
		errors.Is(err, ErrAlreadyOver), errors.Is(err, ErrNotYourTurn), errors.Is(err, game.ErrInvalidMove):
		return KindIllegal
	case errors.Is(err, ErrStorage):
		return KindPersistence
	default:
		return KindInternal
	}
}

// errorText renders the client-facing text for err.
func (c *Coordinator) errorText(err error) string {
	type detail struct{ Detail string }
	switch {
	case errors.Is(err, wire.ErrMalformed):
		return c.cat.Text("error.malformed", detail{err.Error()}, "Error: malformed command")
	case errors.Is(err, ErrUnauthorized):
		return c.cat.Text("error.unauthorized", nil, "Error: Invalid auth token")
	case errors.Is(err, ErrGameNotFound):
		return c.cat.Text("error.not_found", nil, "Error: Game not found")
	case errors.Is(err, ErrObserverMove):
		return c.cat.Text("error.observer_move", nil, "Error: Observers cannot make moves")
	case errors.Is(err, ErrObserverResign):
		return c.cat.Text("error.observer_resign", nil, "Error: Observers cannot resign")
	case errors.Is(err, ErrGameOver):
		return c.cat.Text("error.game_over", nil, "Error: Game is over")
	case errors.Is(err, ErrAlreadyOver):
		return c.cat.Text("error.already_over", nil, "Error: Game is already over")
	case errors.Is(err, ErrNotYourTurn):
		return c.cat.Text("error.not_your_turn", nil, "Error: Not your turn")
	case errors.Is(err, game.ErrInvalidMove):
		return c.cat.Text("error.invalid_move", nil, "Error: Invalid move")
	case errors.Is(err, ErrStorage):
		return c.cat.Text("error.storage", nil, "Error: could not update game")
	default:
		return c.cat.Text("error.internal", nil, "Error: internal server error")
	}
}
