package chessclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/wire"
)

// MessageCallback observes every server message in arrival order.
type MessageCallback func(msg wire.ServerMessage)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

// GameConn is one gameplay connection. Messages are delivered to callbacks and to Next.
// Next reads from a bounded buffer: when nobody drains it, further messages skip the buffer
// (callbacks still see them) and are counted by Dropped.
type GameConn struct {
	conn  *websocket.Conn
	token string

	msgs    chan wire.ServerMessage
	dropped atomic.Int64
	cbs    []callbackEntry
	nextID int
	cbM    sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	errM    sync.Mutex
	readErr error
}

// ErrClosed is returned by Next after the connection ended.
var ErrClosed = errors.New("game connection closed")

// Dial opens a gameplay connection at wsURL (e.g. ws://host:8080/ws). token is sent with every command.
func Dial(ctx context.Context, wsURL, token string) (*GameConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	g := &GameConn{
		conn:   conn,
		token:  token,
		msgs:   make(chan wire.ServerMessage, 64),
		stopCh: make(chan struct{}),
	}
	g.rootCtx, g.rootCancel = context.WithCancel(context.Background())
	g.wg.Add(1)
	go g.listen()
	return g, nil
}

func (g *GameConn) listen() {
	defer g.wg.Done()
	defer close(g.msgs)
	for {
		var msg wire.ServerMessage
		if err := wsjson.Read(g.rootCtx, g.conn, &msg); err != nil {
			g.errM.Lock()
			g.readErr = err
			g.errM.Unlock()
			return
		}

		g.cbM.RLock()
		callbacks := make([]callbackEntry, len(g.cbs))
		copy(callbacks, g.cbs)
		g.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(msg)
		}

		select {
		case g.msgs <- msg:
		case <-g.stopCh:
			return
		default:
			g.dropped.Add(1)
		}
	}
}

// Dropped reports how many messages were not buffered for Next.
func (g *GameConn) Dropped() int64 { return g.dropped.Load() }

func (g *GameConn) OnMessage(cb MessageCallback) int {
	g.cbM.Lock()
	defer g.cbM.Unlock()
	g.nextID++
	g.cbs = append(g.cbs, callbackEntry{id: g.nextID, callback: cb})
	return g.nextID
}

func (g *GameConn) RemoveMessageCallback(id int) {
	g.cbM.Lock()
	defer g.cbM.Unlock()
	for i, cb := range g.cbs {
		if cb.id == id {
			g.cbs = append(g.cbs[:i], g.cbs[i+1:]...)
			break
		}
	}
}

// Next waits for the next server message.
func (g *GameConn) Next(ctx context.Context) (wire.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return wire.ServerMessage{}, ctx.Err()
	case msg, ok := <-g.msgs:
		if !ok {
			g.errM.Lock()
			defer g.errM.Unlock()
			if g.readErr != nil {
				return wire.ServerMessage{}, errors.Join(ErrClosed, g.readErr)
			}
			return wire.ServerMessage{}, ErrClosed
		}
		return msg, nil
	}
}

func (g *GameConn) Send(ctx context.Context, cmd wire.Command) error {
	if cmd.AuthToken == "" {
		cmd.AuthToken = g.token
	}
	return wsjson.Write(ctx, g.conn, cmd)
}

func (g *GameConn) Connect(ctx context.Context, gameID int64) error {
	return g.Send(ctx, wire.Command{CommandType: wire.Connect, GameID: gameID})
}

func (g *GameConn) MakeMove(ctx context.Context, gameID int64, mv game.Move) error {
	dto := wire.FromMove(mv)
	return g.Send(ctx, wire.Command{CommandType: wire.MakeMove, GameID: gameID, Move: &dto})
}

func (g *GameConn) Leave(ctx context.Context, gameID int64) error {
	return g.Send(ctx, wire.Command{CommandType: wire.Leave, GameID: gameID})
}

func (g *GameConn) Resign(ctx context.Context, gameID int64) error {
	return g.Send(ctx, wire.Command{CommandType: wire.Resign, GameID: gameID})
}

// Close sends a normal closure and waits for the reader to stop.
func (g *GameConn) Close(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	_ = g.conn.Close(websocket.StatusNormalClosure, "close")
	defer g.rootCancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
