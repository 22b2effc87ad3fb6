// Package tictactoe is a complete example game module. The protocol core
// never imports it; binaries and tests register it through the game
// registry like any externally supplied module.
package tictactoe

import (
	"encoding/json"
	"fmt"

	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/protocol"
)

// TypeID is the registry tag for this module.
const TypeID = "ttt"

// winningLines are the index triples that decide a game.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// State is the board. Cells hold the occupying player's session id, or ""
// for empty. Next is the session id whose turn it is.
type State struct {
	Board [9]string `json:"board"`
	Next  string    `json:"next"`
}

// Encode serializes the board state.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Move claims one cell for a player.
type Move struct {
	Player string `json:"player"`
	Cell   int    `json:"cell"`
}

// Encode serializes the move.
func (m Move) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Factory creates tictactoe game instances and decodes its payloads.
type Factory struct{}

// NewFactory returns the factory to register with a game registry.
func NewFactory() *Factory {
	return &Factory{}
}

// Descriptor returns the immutable descriptor for tictactoe.
func (f *Factory) Descriptor() protocol.GameDescriptor {
	return protocol.GameDescriptor{
		Name:       "Tic-Tac-Toe",
		TypeID:     TypeID,
		MinPlayers: 2,
		MaxPlayers: 2,
	}
}

// New creates a fresh game with an empty board and no players.
func (f *Factory) New() game.Module {
	return &Game{}
}

// DecodeState decodes a serialized board state.
func (f *Factory) DecodeState(data []byte) (game.State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding tictactoe state: %w", err)
	}
	return &s, nil
}

// DecodeMove decodes a serialized move.
func (f *Factory) DecodeMove(data []byte) (game.Move, error) {
	var m Move
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding tictactoe move: %w", err)
	}
	return m, nil
}

// Game is one tictactoe instance. The first player added moves first.
// Not safe for concurrent use; the lobby manager serializes access.
type Game struct {
	players       []string
	state         State
	forfeitWinner string
}

// AddPlayer registers a player. Ignored once two players are present or if
// the id is already registered.
func (g *Game) AddPlayer(id string) {
	if len(g.players) >= 2 {
		return
	}
	for _, p := range g.players {
		if p == id {
			return
		}
	}
	g.players = append(g.players, id)
	if len(g.players) == 2 {
		g.state.Next = g.players[0]
	}
}

// RemovePlayer withdraws a player. Withdrawing from a two-player game that
// has not finished forfeits it to the remaining player.
func (g *Game) RemovePlayer(id string) {
	for i, p := range g.players {
		if p != id {
			continue
		}
		g.players = append(g.players[:i], g.players[i+1:]...)
		if ended, _ := g.boardResult(); !ended && len(g.players) == 1 {
			g.forfeitWinner = g.players[0]
		}
		return
	}
}

// PlayerCount returns the number of registered players.
func (g *Game) PlayerCount() int {
	return len(g.players)
}

// State returns a copy of the current board state.
func (g *Game) State() game.State {
	s := g.state
	return &s
}

// IsValidMove reports whether the move claims an empty cell, by a
// registered player, on that player's turn, in a game still running.
func (g *Game) IsValidMove(mv game.Move) bool {
	m, ok := mv.(Move)
	if !ok {
		return false
	}
	if ended, _ := g.EndCondition(); ended {
		return false
	}
	if m.Cell < 0 || m.Cell >= len(g.state.Board) || g.state.Board[m.Cell] != "" {
		return false
	}
	return m.Player == g.state.Next
}

// ApplyMove claims the cell and passes the turn.
//
// Precondition: IsValidMove(mv) must hold.
func (g *Game) ApplyMove(mv game.Move) {
	m := mv.(Move)
	g.state.Board[m.Cell] = m.Player
	for _, p := range g.players {
		if p != m.Player {
			g.state.Next = p
			break
		}
	}
}

// EndCondition reports a win, a draw on a full board, or a forfeit.
func (g *Game) EndCondition() (bool, string) {
	if g.forfeitWinner != "" {
		return true, g.forfeitWinner
	}
	return g.boardResult()
}

// boardResult checks the board alone: three in a line wins, a full board
// draws.
func (g *Game) boardResult() (bool, string) {
	for _, line := range winningLines {
		a := g.state.Board[line[0]]
		if a != "" && a == g.state.Board[line[1]] && a == g.state.Board[line[2]] {
			return true, a
		}
	}
	for _, cell := range g.state.Board {
		if cell == "" {
			return false, ""
		}
	}
	return true, ""
}
