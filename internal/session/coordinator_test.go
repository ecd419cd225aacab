package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/wire"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []wire.ServerMessage
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(_ context.Context, m wire.ServerMessage) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	return nil
}

// take returns and clears the received messages.
func (f *fakeConn) take() []wire.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func texts(msgs []wire.ServerMessage, typ wire.MessageType) []string {
	var out []string
	for _, m := range msgs {
		if m.ServerMessageType != typ {
			continue
		}
		if typ == wire.Error {
			out = append(out, m.ErrorMessage)
		} else {
			out = append(out, m.Message)
		}
	}
	return out
}

func countType(msgs []wire.ServerMessage, typ wire.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.ServerMessageType == typ {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *recordingSink) RecordResult(_ context.Context, r Result) error {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	c      *Coordinator
	games  store.GameStore
	id     int64
	sink   *recordingSink
	white  *fakeConn
	black  *fakeConn
	viewer *fakeConn
}

func newFixture(t *testing.T, games store.GameStore, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	id, err := games.CreateGame(ctx, "test")
	require.NoError(t, err)
	require.NoError(t, games.ClaimSeat(ctx, id, game.White, "alice"))
	require.NoError(t, games.ClaimSeat(ctx, id, game.Black, "bob"))
	resolver := auth.NewMemoryResolver(map[string]string{"ta": "alice", "tb": "bob", "tc": "carol"})
	sink := &recordingSink{}
	opts = append([]Option{WithResultSink(sink)}, opts...)
	return &fixture{
		c:      NewCoordinator(games, resolver, msgcat.MustDefault(), opts...),
		games:  games,
		id:     id,
		sink:   sink,
		white:  newConn("conn-white"),
		black:  newConn("conn-black"),
		viewer: newConn("conn-viewer"),
	}
}

func frame(t *testing.T, typ wire.CommandType, token string, id int64, mv *game.Move) []byte {
	t.Helper()
	cmd := wire.Command{CommandType: typ, AuthToken: token, GameID: id}
	if mv != nil {
		dto := wire.FromMove(*mv)
		cmd.Move = &dto
	}
	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	return b
}

func mv(fr, fc, tr, tc int) *game.Move {
	return &game.Move{From: game.Sq(fr, fc), To: game.Sq(tr, tc)}
}

func (f *fixture) connectAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.Connect, "ta", f.id, nil)))
	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.Connect, "tb", f.id, nil)))
	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Connect, "tc", f.id, nil)))
	f.white.take()
	f.black.take()
	f.viewer.take()
}

func (f *fixture) board(t *testing.T) *game.Game {
	t.Helper()
	rec, err := f.games.GetGame(context.Background(), f.id)
	require.NoError(t, err)
	return rec.Game
}

func TestConnectSendsStateAndAnnounces(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.Connect, "ta", f.id, nil)))
	got := f.white.take()
	require.Len(t, got, 1)
	assert.Equal(t, wire.LoadGame, got[0].ServerMessageType)
	assert.True(t, got[0].Game.Equal(game.NewGame()))

	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.Connect, "tb", f.id, nil)))
	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Connect, "tc", f.id, nil)))
	assert.Equal(t, []string{"bob joined the game as black", "carol joined the game as observer"},
		texts(f.white.take(), wire.Notification))
	blackMsgs := f.black.take()
	assert.Equal(t, 1, countType(blackMsgs, wire.LoadGame))
	assert.Equal(t, []string{"carol joined the game as observer"}, texts(blackMsgs, wire.Notification))
	assert.Empty(t, texts(f.viewer.take(), wire.Notification))
	assert.Equal(t, 3, f.c.SessionCount(f.id))
}

func TestMoveBroadcastsStateAndNotifiesOthers(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5))))

	whiteMsgs := f.white.take()
	require.Len(t, whiteMsgs, 1)
	assert.Equal(t, wire.LoadGame, whiteMsgs[0].ServerMessageType)
	assert.Equal(t, game.Black, whiteMsgs[0].Game.Turn())

	for _, conn := range []*fakeConn{f.black, f.viewer} {
		msgs := conn.take()
		require.Len(t, msgs, 2)
		assert.Equal(t, wire.LoadGame, msgs[0].ServerMessageType)
		assert.Equal(t, "alice played e4", msgs[1].Message)
	}
	assert.Equal(t, game.Black, f.board(t).Turn())
}

func TestMoveOutOfTurnIsRejected(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()
	before := f.board(t)

	err := f.c.Handle(ctx, f.black, frame(t, wire.MakeMove, "tb", f.id, mv(7, 5, 5, 5)))
	require.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, KindIllegal, KindOf(err))
	assert.Equal(t, []string{"Error: Not your turn"}, texts(f.black.take(), wire.Error))
	assert.Empty(t, f.white.take())
	assert.True(t, before.Equal(f.board(t)))
}

func TestResignEndsGameForEveryone(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.Resign, "ta", f.id, nil)))
	for _, conn := range []*fakeConn{f.white, f.black, f.viewer} {
		assert.Equal(t, []string{"alice resigned from the game"}, texts(conn.take(), wire.Notification))
	}
	assert.True(t, f.c.IsOver(f.id))

	err := f.c.Handle(ctx, f.black, frame(t, wire.MakeMove, "tb", f.id, mv(7, 5, 5, 5)))
	assert.Equal(t, KindIllegal, KindOf(err))
	assert.Equal(t, []string{"Error: Game is over"}, texts(f.black.take(), wire.Error))

	err = f.c.Handle(ctx, f.black, frame(t, wire.Resign, "tb", f.id, nil))
	assert.ErrorIs(t, err, ErrAlreadyOver)
	assert.Equal(t, []string{"Error: Game is already over"}, texts(f.black.take(), wire.Error))

	require.Len(t, f.sink.results, 1)
	assert.Equal(t, game.Black, f.sink.results[0].Winner)
	assert.Equal(t, MethodResignation, f.sink.results[0].Method)
}

func TestObserverCannotMoveOrResign(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.c.Handle(ctx, f.viewer, frame(t, wire.MakeMove, "tc", f.id, mv(2, 5, 4, 5))), ErrObserverMove)
	assert.ErrorIs(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Resign, "tc", f.id, nil)), ErrObserverResign)
	assert.Equal(t, []string{"Error: Observers cannot make moves", "Error: Observers cannot resign"},
		texts(f.viewer.take(), wire.Error))
	assert.False(t, f.c.IsOver(f.id))
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	conn := newConn("c")

	cases := []struct {
		name string
		raw  []byte
		kind Kind
		text string
	}{
		{"bad token", frame(t, wire.Connect, "nope", f.id, nil), KindUnauthenticated, "Error: Invalid auth token"},
		{"unknown game", frame(t, wire.Connect, "ta", f.id+40, nil), KindNotFound, "Error: Game not found"},
		{"garbage", []byte(`{"commandType":`), KindMalformed, ""},
		{"illegal move", frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 5, 5)), KindIllegal, "Error: Invalid move"},
		{"empty square", frame(t, wire.MakeMove, "ta", f.id, mv(4, 4, 5, 4)), KindIllegal, "Error: Invalid move"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.c.Handle(ctx, conn, tc.raw)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			errs := texts(conn.take(), wire.Error)
			require.Len(t, errs, 1)
			if tc.text != "" {
				assert.Equal(t, tc.text, errs[0])
			} else {
				assert.Contains(t, errs[0], "Error: ")
			}
		})
	}
	assert.True(t, f.board(t).Equal(game.NewGame()))
}

func TestCheckmateConcludesGame(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 6, 3, 6))))
	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.MakeMove, "tb", f.id, mv(7, 5, 5, 5))))
	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 7, 4, 7))))
	f.white.take()
	f.black.take()
	f.viewer.take()
	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.MakeMove, "tb", f.id, mv(8, 4, 4, 8))))

	assert.Equal(t, []string{"bob played Qh4#", "WHITE is in checkmate. BLACK wins!"},
		texts(f.white.take(), wire.Notification))
	assert.Equal(t, []string{"WHITE is in checkmate. BLACK wins!"}, texts(f.black.take(), wire.Notification))
	assert.True(t, f.c.IsOver(f.id))

	err := f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 1, 3, 1)))
	assert.ErrorIs(t, err, ErrGameOver)

	require.Len(t, f.sink.results, 1)
	r := f.sink.results[0]
	assert.Equal(t, MethodCheckmate, r.Method)
	assert.Equal(t, game.Black, r.Winner)
	assert.Equal(t, "alice", r.White)
	assert.True(t, r.Final.IsInCheckmate(game.White))
}

func TestCheckIsAnnounced(t *testing.T) {
	games := store.NewMemoryStore()
	f := newFixture(t, games)
	ctx := context.Background()
	b := game.NewBoard()
	b.Set(game.Sq(1, 5), game.Piece{Color: game.White, Type: game.King})
	b.Set(game.Sq(1, 1), game.Piece{Color: game.White, Type: game.Rook})
	b.Set(game.Sq(8, 8), game.Piece{Color: game.Black, Type: game.King})
	require.NoError(t, games.SaveGameState(ctx, f.id, game.NewGameFromBoard(b, game.White)))
	f.connectAll(t)

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(1, 1, 8, 1))))
	assert.Equal(t, []string{"alice played Ra8+", "BLACK is in check"}, texts(f.black.take(), wire.Notification))
	assert.False(t, f.c.IsOver(f.id))
}

func TestStalemateIsADraw(t *testing.T) {
	games := store.NewMemoryStore()
	f := newFixture(t, games)
	ctx := context.Background()
	b := game.NewBoard()
	b.Set(game.Sq(1, 5), game.Piece{Color: game.White, Type: game.King})
	b.Set(game.Sq(5, 2), game.Piece{Color: game.White, Type: game.Queen})
	b.Set(game.Sq(8, 1), game.Piece{Color: game.Black, Type: game.King})
	require.NoError(t, games.SaveGameState(ctx, f.id, game.NewGameFromBoard(b, game.White)))
	f.connectAll(t)

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(5, 2, 6, 2))))
	assert.Contains(t, texts(f.viewer.take(), wire.Notification), "Stalemate! The game is a draw.")
	require.Len(t, f.sink.results, 1)
	assert.Equal(t, game.Color(""), f.sink.results[0].Winner)
	assert.Equal(t, MethodStalemate, f.sink.results[0].Method)
}

func TestLeaveVacatesSeat(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.Leave, "tb", f.id, nil)))
	assert.Equal(t, []string{"bob left the game"}, texts(f.white.take(), wire.Notification))
	assert.Empty(t, f.black.take())

	rec, err := f.games.GetGame(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, rec.Black)
	assert.Equal(t, "alice", rec.White)
	assert.Equal(t, 2, f.c.SessionCount(f.id))
}

func TestDisconnectKeepsSeatByDefault(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	f.c.Disconnect(ctx, f.black)
	assert.Equal(t, []string{"bob left the game"}, texts(f.white.take(), wire.Notification))
	rec, err := f.games.GetGame(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.Black)

	f.c.Disconnect(ctx, f.black)
	assert.Empty(t, f.white.take(), "second disconnect is a no-op")
}

func TestDisconnectCanReleaseSeat(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), WithReleaseSeatOnDisconnect(true))
	f.connectAll(t)
	ctx := context.Background()

	f.c.Disconnect(ctx, f.white)
	rec, err := f.games.GetGame(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, rec.White)
	assert.Equal(t, "bob", rec.Black)
}

func TestConnectToAnotherGameLeavesTheFirst(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()
	other, err := f.games.CreateGame(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Connect, "tc", other, nil)))
	assert.Equal(t, []string{"carol left the game"}, texts(f.white.take(), wire.Notification))
	assert.Equal(t, []string{"carol left the game"}, texts(f.black.take(), wire.Notification))
	assert.Equal(t, 1, countType(f.viewer.take(), wire.LoadGame))
	assert.Equal(t, 2, f.c.SessionCount(f.id))
	assert.Equal(t, 1, f.c.SessionCount(other))

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5))))
	assert.Empty(t, f.viewer.take())
}

func TestLeaveOfUnboundGameKeepsSession(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()
	other, err := f.games.CreateGame(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Connect, "tc", other, nil)))
	f.white.take()

	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Leave, "tc", f.id, nil)))
	assert.Equal(t, 1, f.c.SessionCount(other))
	assert.Equal(t, []string{"carol left the game"}, texts(f.white.take(), wire.Notification))

	require.NoError(t, f.c.Handle(ctx, f.viewer, frame(t, wire.Leave, "tc", other, nil)))
	assert.Equal(t, 0, f.c.SessionCount(other))
}

func TestIdleSlotsArePruned(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	assert.False(t, f.c.IsOver(424242))
	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5))))
	f.c.slotsMu.Lock()
	assert.Empty(t, f.c.slots)
	f.c.slotsMu.Unlock()

	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.Resign, "tb", f.id, nil)))
	f.c.slotsMu.Lock()
	assert.Len(t, f.c.slots, 1, "a concluded game keeps its flag")
	f.c.slotsMu.Unlock()
	assert.True(t, f.c.IsOver(f.id))

	f.c.ResetGames()
	assert.False(t, f.c.IsOver(f.id))
}

type failingStore struct {
	store.GameStore
}

func (failingStore) SaveGameState(context.Context, int64, *game.Game) error {
	return errors.New("disk on fire")
}

func TestPersistenceFailureLeavesGameUnchanged(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newFixture(t, failingStore{mem})
	f.connectAll(t)
	ctx := context.Background()

	err := f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5)))
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, []string{"Error: could not update game"}, texts(f.white.take(), wire.Error))
	assert.Empty(t, f.black.take(), "nothing is broadcast before a durable write")

	rec, err := mem.GetGame(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, rec.Game.Equal(game.NewGame()))
}

func TestConcurrentMovesSerializePerGame(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	f.connectAll(t)
	ctx := context.Background()

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newConn(fmt.Sprintf("dup-%d", i))
			errs[i] = f.c.Handle(ctx, conn, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5)))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrNotYourTurn)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, game.Black, f.board(t).Turn())
}

func TestCoordinatorOverRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb, err := store.OpenRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, store.NewRedisStore(rdb))
	f.connectAll(t)
	ctx := context.Background()

	require.NoError(t, f.c.Handle(ctx, f.white, frame(t, wire.MakeMove, "ta", f.id, mv(2, 5, 4, 5))))
	require.NoError(t, f.c.Handle(ctx, f.black, frame(t, wire.MakeMove, "tb", f.id, mv(7, 5, 5, 5))))
	g := f.board(t)
	assert.Equal(t, game.White, g.Turn())
	bd := g.Board()
	p, ok := bd.Get(game.Sq(5, 5))
	require.True(t, ok)
	assert.Equal(t, game.Piece{Color: game.Black, Type: game.Pawn}, p)
}
