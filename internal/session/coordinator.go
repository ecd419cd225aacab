// Package session binds live connections to games and runs the gameplay commands
// (CONNECT, MAKE_MOVE, LEAVE, RESIGN) against the rules engine and the game store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/wire"
)

// Conn is one live client connection. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg wire.ServerMessage) error
}

type session struct {
	conn   Conn
	gameID int64
	user   string
}

// gameSlot serializes the commands of one game and holds its game-over flag. refs is
// guarded by Coordinator.slotsMu; idle slots of unfinished games are dropped.
type gameSlot struct {
	mu   sync.Mutex
	over atomic.Bool
	refs int
}

type Option func(*Coordinator)

// WithResultSink receives every concluded game.
func WithResultSink(s ResultSink) Option { return func(c *Coordinator) { c.results = s } }

// WithReleaseSeatOnDisconnect makes a dropped connection vacate its seat like LEAVE does.
func WithReleaseSeatOnDisconnect(v bool) Option { return func(c *Coordinator) { c.releaseOnDisconnect = v } }

// WithWriteTimeout bounds each outbound send.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// Coordinator owns the connection registry of one server process.
type Coordinator struct {
	games   store.GameStore
	auth    auth.Resolver
	cat     *msgcat.Catalog
	results ResultSink

	releaseOnDisconnect bool
	writeTimeout        time.Duration
	now                 func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	slotsMu sync.Mutex
	slots   map[int64]*gameSlot
}

func NewCoordinator(games store.GameStore, resolver auth.Resolver, cat *msgcat.Catalog, opts ...Option) *Coordinator {
	c := &Coordinator{
		games:        games,
		auth:         resolver,
		cat:          cat,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		sessions:     make(map[string]*session),
		slots:        make(map[int64]*gameSlot),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// acquire returns the locked slot of game id. Every acquire is paired with release.
func (c *Coordinator) acquire(id int64) *gameSlot {
	c.slotsMu.Lock()
	s, ok := c.slots[id]
	if !ok {
		s = &gameSlot{}
		c.slots[id] = s
	}
	s.refs++
	c.slotsMu.Unlock()
	s.mu.Lock()
	return s
}

func (c *Coordinator) release(id int64, s *gameSlot) {
	s.mu.Unlock()
	c.slotsMu.Lock()
	s.refs--
	if s.refs == 0 && !s.over.Load() {
		delete(c.slots, id)
	}
	c.slotsMu.Unlock()
}

// IsOver reports whether game id was concluded in this process.
func (c *Coordinator) IsOver(id int64) bool {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	s, ok := c.slots[id]
	return ok && s.over.Load()
}

// ResetGames forgets every game-over flag; used after the game store was wiped and ids restart.
func (c *Coordinator) ResetGames() {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	for id, s := range c.slots {
		s.over.Store(false)
		if s.refs == 0 {
			delete(c.slots, id)
		}
	}
}

// SessionCount returns the number of connections bound to game id.
func (c *Coordinator) SessionCount(id int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sessions {
		if s.gameID == id {
			n++
		}
	}
	return n
}

// Handle decodes and executes one inbound frame. Failures are reported to conn as ERROR
// messages and also returned for logging; they never affect other connections.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, raw []byte) error {
	cmd, err := wire.Decode(raw)
	if err == nil {
		err = c.dispatch(ctx, conn, cmd)
	}
	if err != nil {
		c.send(ctx, conn, wire.NewError(c.errorText(err)))
		lvl := obslog.L().Info
		if k := KindOf(err); k == KindInternal || k == KindPersistence {
			lvl = obslog.L().Error
		}
		lvl("command_rejected",
			zap.String("conn_id", conn.ID()),
			zap.String("command", string(cmd.CommandType)),
			zap.Int64("game_id", cmd.GameID),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
	}
	return err
}

func (c *Coordinator) dispatch(ctx context.Context, conn Conn, cmd wire.Command) error {
	user, err := c.auth.Resolve(ctx, strings.TrimSpace(cmd.AuthToken))
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if user == "" {
		return ErrUnauthorized
	}
	switch cmd.CommandType {
	case wire.Connect:
		return c.connect(ctx, conn, user, cmd.GameID)
	case wire.MakeMove:
		mv, err := cmd.Move.ToMove()
		if err != nil {
			return err
		}
		return c.makeMove(ctx, conn, user, cmd.GameID, mv)
	case wire.Leave:
		return c.leave(ctx, conn, user, cmd.GameID)
	case wire.Resign:
		return c.resign(ctx, conn, user, cmd.GameID)
	}
	return fmt.Errorf("%w: unknown commandType %q", wire.ErrMalformed, cmd.CommandType)
}

func (c *Coordinator) load(ctx context.Context, id int64) (*store.Record, error) {
	rec, err := c.games.GetGame(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load game %d: %v", ErrStorage, id, err)
	}
	if rec == nil {
		return nil, ErrGameNotFound
	}
	return rec, nil
}

// connect binds conn to game id. A connection follows one game at a time: when it was bound
// to another game, that game is told it left.
func (c *Coordinator) connect(ctx context.Context, conn Conn, user string, id int64) error {
	prev, err := c.bind(ctx, conn, user, id)
	if err != nil {
		return err
	}
	if prev != nil && prev.gameID != id {
		c.detach(ctx, conn.ID(), prev)
	}
	return nil
}

func (c *Coordinator) bind(ctx context.Context, conn Conn, user string, id int64) (*session, error) {
	slot := c.acquire(id)
	defer c.release(id, slot)

	rec, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role := "observer"
	switch rec.Seat(user) {
	case game.White:
		role = "white"
	case game.Black:
		role = "black"
	}

	c.mu.Lock()
	prev := c.sessions[conn.ID()]
	c.sessions[conn.ID()] = &session{conn: conn, gameID: id, user: user}
	c.mu.Unlock()

	c.send(ctx, conn, wire.NewLoadGame(rec.Game))
	c.broadcast(ctx, id, conn.ID(), wire.NewNotification(c.cat.Text("notify.joined",
		map[string]string{"User": user, "Role": role}, user+" joined the game as "+role)))
	obslog.L().Info("session_connect", zap.String("conn_id", conn.ID()), zap.Int64("game_id", id),
		zap.String("user", user), zap.String("role", role))
	return prev, nil
}

func (c *Coordinator) makeMove(ctx context.Context, conn Conn, user string, id int64, mv game.Move) error {
	slot := c.acquire(id)
	defer c.release(id, slot)

	rec, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	color := rec.Seat(user)
	if color == "" {
		return ErrObserverMove
	}
	if slot.over.Load() || rec.Game.Terminal() {
		return ErrGameOver
	}
	if rec.Game.Turn() != color {
		return ErrNotYourTurn
	}

	desc := describeMove(rec.Game, mv)
	next := rec.Game.Clone()
	if err := next.MakeMove(mv); err != nil {
		return err
	}
	if err := c.games.SaveGameState(ctx, id, next); err != nil {
		return fmt.Errorf("%w: save game %d: %v", ErrStorage, id, err)
	}
	obslog.L().Info("move_accepted", zap.Int64("game_id", id), zap.String("user", user),
		zap.String("move", game.UCI(mv)), zap.String("turn", string(next.Turn())))

	c.broadcast(ctx, id, "", wire.NewLoadGame(next))
	c.broadcast(ctx, id, conn.ID(), wire.NewNotification(c.cat.Text("notify.moved",
		map[string]string{"User": user, "Move": desc}, user+" played "+desc)))

	opp := color.Opponent()
	switch {
	case next.IsInCheckmate(opp):
		slot.over.Store(true)
		c.broadcast(ctx, id, "", wire.NewNotification(c.cat.Text("notify.checkmate",
			map[string]string{"Loser": string(opp), "Winner": string(color)},
			fmt.Sprintf("%s is in checkmate. %s wins!", opp, color))))
		c.conclude(ctx, rec, next, color, MethodCheckmate)
	case next.IsInStalemate(opp):
		slot.over.Store(true)
		c.broadcast(ctx, id, "", wire.NewNotification(c.cat.Text("notify.stalemate", nil, "Stalemate! The game is a draw.")))
		c.conclude(ctx, rec, next, "", MethodStalemate)
	case next.IsInCheck(opp):
		c.broadcast(ctx, id, "", wire.NewNotification(c.cat.Text("notify.check",
			map[string]string{"Color": string(opp)}, string(opp)+" is in check")))
	}
	return nil
}

func (c *Coordinator) leave(ctx context.Context, conn Conn, user string, id int64) error {
	slot := c.acquire(id)
	defer c.release(id, slot)

	rec, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	if color := rec.Seat(user); color != "" {
		if err := c.games.ReleaseSeat(ctx, id, color, user); err != nil {
			return fmt.Errorf("%w: release seat: %v", ErrStorage, err)
		}
	}
	c.unregister(conn.ID(), id)
	c.broadcast(ctx, id, conn.ID(), c.leftNotice(user))
	obslog.L().Info("session_leave", zap.String("conn_id", conn.ID()), zap.Int64("game_id", id), zap.String("user", user))
	return nil
}

func (c *Coordinator) resign(ctx context.Context, conn Conn, user string, id int64) error {
	slot := c.acquire(id)
	defer c.release(id, slot)

	rec, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	color := rec.Seat(user)
	if color == "" {
		return ErrObserverResign
	}
	if slot.over.Load() || rec.Game.Terminal() {
		return ErrAlreadyOver
	}
	slot.over.Store(true)
	c.broadcast(ctx, id, "", wire.NewNotification(c.cat.Text("notify.resigned",
		map[string]string{"User": user}, user+" resigned from the game")))
	obslog.L().Info("session_resign", zap.String("conn_id", conn.ID()), zap.Int64("game_id", id), zap.String("user", user))
	c.conclude(ctx, rec, rec.Game, color.Opponent(), MethodResignation)
	return nil
}

// Disconnect drops conn after its transport closed. The seat is kept unless the coordinator
// was built WithReleaseSeatOnDisconnect.
func (c *Coordinator) Disconnect(ctx context.Context, conn Conn) {
	c.mu.Lock()
	s, ok := c.sessions[conn.ID()]
	delete(c.sessions, conn.ID())
	c.mu.Unlock()
	if !ok {
		return
	}
	c.detach(ctx, conn.ID(), s)
	obslog.L().Info("session_disconnect", zap.String("conn_id", conn.ID()), zap.Int64("game_id", s.gameID), zap.String("user", s.user))
}

// detach announces that the already unregistered session s left its game.
func (c *Coordinator) detach(ctx context.Context, connID string, s *session) {
	slot := c.acquire(s.gameID)
	defer c.release(s.gameID, slot)

	if c.releaseOnDisconnect {
		rec, err := c.games.GetGame(ctx, s.gameID)
		if err == nil && rec != nil {
			if color := rec.Seat(s.user); color != "" {
				err = c.games.ReleaseSeat(ctx, s.gameID, color, s.user)
			}
		}
		if err != nil {
			obslog.L().Warn("disconnect_release_failed", zap.Int64("game_id", s.gameID), zap.String("user", s.user), zap.Error(err))
		}
	}
	c.broadcast(ctx, s.gameID, connID, c.leftNotice(s.user))
}

func (c *Coordinator) leftNotice(user string) wire.ServerMessage {
	return wire.NewNotification(c.cat.Text("notify.left", map[string]string{"User": user}, user+" left the game"))
}

// unregister drops connID only while it is bound to game id.
func (c *Coordinator) unregister(connID string, id int64) {
	c.mu.Lock()
	if s, ok := c.sessions[connID]; ok && s.gameID == id {
		delete(c.sessions, connID)
	}
	c.mu.Unlock()
}

// broadcast sends msg to every connection bound to game id except exclude. Callers hold the
// game's slot lock, which keeps per-connection order equal to commit order; Conn.Send is
// expected to enqueue rather than wait on the network.
func (c *Coordinator) broadcast(ctx context.Context, id int64, exclude string, msg wire.ServerMessage) {
	c.mu.RLock()
	targets := make([]Conn, 0, len(c.sessions))
	for connID, s := range c.sessions {
		if s.gameID == id && connID != exclude {
			targets = append(targets, s.conn)
		}
	}
	c.mu.RUnlock()
	for _, t := range targets {
		c.send(ctx, t, msg)
	}
}

func (c *Coordinator) send(ctx context.Context, conn Conn, msg wire.ServerMessage) {
	sctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := conn.Send(sctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		obslog.L().Warn("send_failed", zap.String("conn_id", conn.ID()),
			zap.String("type", string(msg.ServerMessageType)), zap.Error(err))
	}
}

// describeMove renders mv in SAN from the pre-move position, falling back to squares.
func describeMove(g *game.Game, mv game.Move) string {
	if san, err := game.SAN(g, mv); err == nil {
		return san
	}
	s := mv.From.String() + " to " + mv.To.String()
	if mv.Promotion != "" {
		s += " promoting to " + strings.ToLower(string(mv.Promotion))
	}
	return s
}
