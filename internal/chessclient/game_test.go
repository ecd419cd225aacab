package chessclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/internal/wire"
)

func TestCallbacksKeepFlowingWhenNextIsIdle(t *testing.T) {
	const total = 100
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
		for i := 0; i < total; i++ {
			if err := wsjson.Write(r.Context(), c, wire.NewNotification("tick")); err != nil {
				return
			}
		}
		_, _, _ = c.Read(r.Context())
	}))
	t.Cleanup(ts.Close)

	ctx := context.Background()
	g, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })

	var seen atomic.Int64
	g.OnMessage(func(wire.ServerMessage) { seen.Add(1) })
	require.NoError(t, g.Send(ctx, wire.Command{CommandType: wire.Connect, GameID: 1}))

	require.Eventually(t, func() bool {
		return seen.Load() == total && int64(len(g.msgs))+g.Dropped() == total
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, cap(g.msgs), len(g.msgs))
	assert.Equal(t, int64(total-cap(g.msgs)), g.Dropped())
}
