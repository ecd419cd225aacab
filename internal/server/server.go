// Package server exposes gameplay over websockets and the lobby as JSON routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/wire"
)

const maxFrameBytes = 64 << 10

// ResultLookup returns the archived PGN of a finished game, or "" when none exists.
type ResultLookup interface {
	Lookup(ctx context.Context, id int64) (string, error)
}

type Server struct {
	coord *session.Coordinator
	lobby *lobby.Service
	srv   *http.Server

	origins      []string
	allowClear   bool
	results      ResultLookup
	writeTimeout time.Duration
}

type Option func(*Server)

// WithOriginPatterns lists the browser origins accepted on /ws besides the server's own host.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithAdminClear exposes DELETE /db, which wipes every game, user and token.
func WithAdminClear(v bool) Option { return func(s *Server) { s.allowClear = v } }

// WithResultLookup serves archived results on GET /game/{id}/pgn.
func WithResultLookup(l ResultLookup) Option { return func(s *Server) { s.results = l } }

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func New(addr string, coord *session.Coordinator, lob *lobby.Service, opts ...Option) *Server {
	s := &Server{coord: coord, lobby: lob, writeTimeout: 5 * time.Second}
	for _, o := range opts {
		o(s)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /game", s.handleCreateGame)
	mux.HandleFunc("GET /game", s.handleListGames)
	mux.HandleFunc("PUT /game", s.handleJoinGame)
	mux.HandleFunc("GET /game/{id}/pgn", s.handleResult)
	mux.HandleFunc("POST /user", s.handleRegister)
	if s.allowClear {
		mux.HandleFunc("DELETE /db", s.handleClear)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// ListenAndServe blocks until the server stops; http.ErrServerClosed is reported as nil.
func (s *Server) ListenAndServe() error {
	obslog.L().Info("http_listen", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// wsConn adapts a websocket to session.Conn. Sends are queued in its outbox.
type wsConn struct {
	id  string
	c   *websocket.Conn
	out *outbox
}

func (w *wsConn) ID() string { return w.id }

func (w *wsConn) Send(ctx context.Context, msg wire.ServerMessage) error {
	return w.out.Send(ctx, msg)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  s.origins,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}
	c.SetReadLimit(maxFrameBytes)
	conn := &wsConn{id: uuid.NewString(), c: c}
	conn.out = newOutbox(outboxSize, s.writeTimeout,
		func(ctx context.Context, msg wire.ServerMessage) error { return wsjson.Write(ctx, c, msg) },
		func(err error) {
			obslog.L().Warn("ws_outbox_failed", zap.String("conn_id", conn.id), zap.Error(err))
			status := websocket.StatusInternalError
			if errors.Is(err, errSlowConsumer) {
				status = websocket.StatusPolicyViolation
			}
			go func() { _ = c.Close(status, "write failed") }()
		})
	go conn.out.run()
	obslog.L().Debug("ws_open", zap.String("conn_id", conn.id), zap.String("remote", r.RemoteAddr))

	defer func() {
		conn.out.close()
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.coord.Disconnect(dctx, conn)
		cancel()
		_ = c.Close(websocket.StatusNormalClosure, "bye")
		obslog.L().Debug("ws_close", zap.String("conn_id", conn.id))
	}()

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				obslog.L().Debug("ws_read_end", zap.String("conn_id", conn.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		_ = s.coord.Handle(ctx, conn, data)
	}
}

type createGameRequest struct {
	GameName string `json:"gameName"`
}

type createGameResponse struct {
	GameID int64 `json:"gameID"`
}

type listGamesResponse struct {
	Games []lobby.GameInfo `json:"games"`
}

type joinGameRequest struct {
	PlayerColor string `json:"playerColor"`
	GameID      int64  `json:"gameID"`
}

type registerRequest struct {
	Username string `json:"username"`
}

type registerResponse struct {
	Username  string `json:"username"`
	AuthToken string `json:"authToken"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeLobbyError(w, lobby.ErrBadRequest)
		return
	}
	id, err := s.lobby.CreateGame(r.Context(), token(r), req.GameName)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createGameResponse{GameID: id})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.lobby.ListGames(r.Context(), token(r))
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listGamesResponse{Games: games})
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeLobbyError(w, lobby.ErrBadRequest)
		return
	}
	if err := s.lobby.JoinGame(r.Context(), token(r), req.GameID, req.PlayerColor); err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeLobbyError(w, lobby.ErrBadRequest)
		return
	}
	tok, err := s.lobby.Register(r.Context(), req.Username)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Username: strings.TrimSpace(req.Username), AuthToken: tok})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.lobby.Clear(r.Context()); err != nil {
		writeLobbyError(w, err)
		return
	}
	s.coord.ResetGames()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeLobbyError(w, lobby.ErrBadRequest)
		return
	}
	var pgn string
	if s.results != nil {
		if pgn, err = s.results.Lookup(r.Context(), id); err != nil {
			writeLobbyError(w, err)
			return
		}
	}
	if pgn == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Error: not found"})
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(pgn))
}

func token(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Authorization"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	return dec.Decode(v)
}

func writeLobbyError(w http.ResponseWriter, err error) {
	status, text := http.StatusInternalServerError, "Error: internal server error"
	switch {
	case errors.Is(err, lobby.ErrUnauthorized):
		status, text = http.StatusUnauthorized, "Error: unauthorized"
	case errors.Is(err, lobby.ErrBadRequest), errors.Is(err, lobby.ErrNotFound):
		status, text = http.StatusBadRequest, "Error: bad request"
	case errors.Is(err, lobby.ErrAlreadyTaken):
		status, text = http.StatusForbidden, "Error: already taken"
	default:
		obslog.L().Error("lobby_request_failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Message: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
