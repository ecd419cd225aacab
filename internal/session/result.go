package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/store"
)

const (
	MethodCheckmate   = "checkmate"
	MethodStalemate   = "stalemate"
	MethodResignation = "resignation"
)

// Result describes a concluded game. Winner is "" for a draw.
type Result struct {
	GameID  int64
	Name    string
	White   string
	Black   string
	Winner  game.Color
	Method  string
	Final   *game.Game
	EndedAt time.Time
}

// ResultSink stores concluded games.
type ResultSink interface {
	RecordResult(ctx context.Context, r Result) error
}

func (c *Coordinator) conclude(ctx context.Context, rec *store.Record, final *game.Game, winner game.Color, method string) {
	obslog.L().Info("game_concluded", zap.Int64("game_id", rec.ID), zap.String("winner", string(winner)), zap.String("method", method))
	if c.results == nil {
		return
	}
	r := Result{
		GameID:  rec.ID,
		Name:    rec.Name,
		White:   rec.White,
		Black:   rec.Black,
		Winner:  winner,
		Method:  method,
		Final:   final.Clone(),
		EndedAt: c.now(),
	}
	if err := c.results.RecordResult(ctx, r); err != nil {
		obslog.L().Error("result_persist_error", zap.Int64("game_id", rec.ID), zap.String("method", method), zap.Error(err))
	}
}
