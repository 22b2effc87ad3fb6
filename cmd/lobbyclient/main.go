// Package main provides a minimal interactive client for the lobby
// protocol, mostly useful for poking at a running server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tabletophq/tabletop/internal/client"
	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/game/tictactoe"
	"github.com/tabletophq/tabletop/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7400", "lobby server address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	games := game.NewRegistry()
	if err := games.Register(tictactoe.NewFactory()); err != nil {
		logger.Fatal("registering game module", zap.Error(err))
	}

	ctl := client.New(games, logger)
	ctl.OnChange(func() {
		render(ctl)
	})

	if err := ctl.Connect(*addr); err != nil {
		logger.Fatal("connecting", zap.Error(err))
	}
	if err := ctl.StartListening(); err != nil {
		logger.Fatal("starting listener", zap.Error(err))
	}
	defer ctl.Disconnect()

	fmt.Println("commands: games | lobbies | create <game> | join <lobby> | start | move <cell> | refresh | leave | return | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "games":
			err = ctl.RequestSupportedGames()
		case "lobbies":
			err = ctl.RequestLobbyList()
		case "create":
			if len(fields) < 2 {
				fmt.Println("usage: create <game_type_id>")
				continue
			}
			err = ctl.CreateLobby(fields[1])
		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <lobby_id>")
				continue
			}
			err = ctl.JoinLobby(fields[1])
		case "start":
			err = ctl.StartGame()
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <cell 0-8>")
				continue
			}
			cell, convErr := strconv.Atoi(fields[1])
			if convErr != nil {
				fmt.Println("cell must be a number 0-8")
				continue
			}
			var mv protocol.TaggedPayload
			mv, err = game.EncodeMove(tictactoe.TypeID, tictactoe.Move{
				Player: ctl.SessionID(),
				Cell:   cell,
			})
			if err == nil {
				err = ctl.MakeMove(mv)
			}
		case "refresh":
			err = ctl.RefreshLobby()
		case "leave":
			err = ctl.LeaveLobby()
		case "return":
			err = ctl.ReturnToLobby()
		case "quit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
			continue
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

// render prints the controller's cached view after each server push.
func render(ctl *client.Controller) {
	if e := ctl.LastError(); e != nil {
		fmt.Printf("[%s] %s\n", ctl.State(), e)
	}
	if games := ctl.SupportedGames(); len(games) > 0 {
		for _, g := range games {
			fmt.Printf("  game %s (%s), %d-%d players\n", g.TypeID, g.Name, g.MinPlayers, g.MaxPlayers)
		}
	}
	for _, l := range ctl.Lobbies() {
		fmt.Printf("  lobby %s [%s] %s, %d members\n", l.ID, l.Status, l.GameTypeID, len(l.Members))
	}
	if cur := ctl.CurrentLobby(); cur != nil {
		fmt.Printf("  current lobby %s [%s], members %v\n", cur.ID, cur.Status, cur.Members)
	}
	if st, ok := ctl.GameState().(*tictactoe.State); ok {
		printBoard(st, ctl.SessionID())
	}
	if res := ctl.GameEndResult(); res != nil {
		switch {
		case res.WinnerID == ctl.SessionID():
			fmt.Println("  game over: you win")
		case res.WinnerID == "":
			fmt.Println("  game over: draw")
		default:
			fmt.Println("  game over: you lose")
		}
	}
}

func printBoard(st *tictactoe.State, self string) {
	mark := func(cell string, idx int) string {
		switch cell {
		case "":
			return strconv.Itoa(idx)
		case self:
			return "X"
		default:
			return "O"
		}
	}
	for row := 0; row < 3; row++ {
		i := row * 3
		fmt.Printf("  %s|%s|%s\n",
			mark(st.Board[i], i), mark(st.Board[i+1], i+1), mark(st.Board[i+2], i+2))
	}
	if st.Next == self {
		fmt.Println("  your turn")
	}
}
