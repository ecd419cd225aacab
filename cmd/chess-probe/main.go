package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/internal/chessclient"
	"github.com/park285/cheese-chess-server/internal/game"
	"github.com/park285/cheese-chess-server/internal/wire"
)

func main() {
	baseURL := flag.String("url", envOr("CHESS_BASE_URL", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("CHESS_TOKEN"), "auth token")
	gameID := flag.Int64("game", 0, "game id to connect to")
	create := flag.String("create", "", "create a game with this name first")
	join := flag.String("join", "", "claim a seat (WHITE or BLACK) before connecting")
	move := flag.String("move", "", "move to play after connecting, e.g. e2e4 or a7a8q")
	watch := flag.Duration("watch", 10*time.Second, "how long to print server messages")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatal("-token or CHESS_TOKEN is required")
	}

	client := chessclient.NewClient(*baseURL, chessclient.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	if *create != "" {
		id, err := client.CreateGame(ctx, *token, *create)
		if err != nil {
			log.Fatalf("create game error: %v", err)
		}
		log.Printf("created game %d", id)
		*gameID = id
	}
	if *join != "" {
		if err := client.JoinGame(ctx, *token, *gameID, *join); err != nil {
			log.Fatalf("join game error: %v", err)
		}
	}
	if *gameID == 0 {
		games, err := client.ListGames(ctx, *token)
		if err != nil {
			log.Fatalf("list games error: %v", err)
		}
		for _, g := range games {
			fmt.Printf("%d\t%s\twhite=%s\tblack=%s\n", g.GameID, g.GameName, g.WhiteUsername, g.BlackUsername)
		}
		return
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + "/ws"
	conn, err := chessclient.Dial(ctx, wsURL, *token)
	if err != nil {
		log.Fatalf("ws dial error: %v", err)
	}
	conn.OnMessage(printMessage)
	if err := conn.Connect(ctx, *gameID); err != nil {
		log.Fatalf("connect error: %v", err)
	}
	if *move != "" {
		mv, err := parseMove(*move)
		if err != nil {
			log.Fatalf("bad -move: %v", err)
		}
		if err := conn.MakeMove(ctx, *gameID, mv); err != nil {
			log.Fatalf("move error: %v", err)
		}
	}

	wctx, wcancel := context.WithTimeout(context.Background(), *watch)
	defer wcancel()
	for {
		if _, err := conn.Next(wctx); err != nil {
			break
		}
	}
	_ = conn.Close(context.Background())
}

func printMessage(msg wire.ServerMessage) {
	switch msg.ServerMessageType {
	case wire.LoadGame:
		if msg.Game != nil {
			fmt.Printf("LOAD_GAME %s\n", msg.Game.FEN())
		}
	case wire.Notification:
		fmt.Printf("NOTIFICATION %s\n", msg.Message)
	case wire.Error:
		fmt.Printf("ERROR %s\n", msg.ErrorMessage)
	}
}

var promoLetters = map[byte]game.PieceType{'q': game.Queen, 'r': game.Rook, 'b': game.Bishop, 'n': game.Knight}

// parseMove reads long algebraic notation such as "e2e4" or "e7e8q".
func parseMove(s string) (game.Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return game.Move{}, fmt.Errorf("want 4 or 5 characters, got %q", s)
	}
	sq := func(f, r byte) game.Square { return game.Sq(int(r-'0'), int(f-'a')+1) }
	mv := game.Move{From: sq(s[0], s[1]), To: sq(s[2], s[3])}
	if !mv.From.Valid() || !mv.To.Valid() {
		return game.Move{}, fmt.Errorf("square out of range in %q", s)
	}
	if len(s) == 5 {
		p, ok := promoLetters[s[4]]
		if !ok {
			return game.Move{}, fmt.Errorf("bad promotion %q", s[4:])
		}
		mv.Promotion = p
	}
	return mv, nil
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
