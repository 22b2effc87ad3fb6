// Package game defines the pluggable game module capability and the
// registry that maps type tags to module factories. The protocol core never
// sees a concrete game: states and moves cross its boundary only as
// (type_tag, bytes) payloads decoded through a registry.
package game

import (
	"fmt"

	"github.com/tabletophq/tabletop/internal/protocol"
)

// State is a game's opaque board state. Implementations must be
// self-contained values that encode to JSON.
type State interface {
	Encode() ([]byte, error)
}

// Move is one player action. Implementations must encode to JSON.
type Move interface {
	Encode() ([]byte, error)
}

// Module is one live game instance. Exactly one Module exists per
// in-progress lobby, created through a Factory. Modules are not safe for
// concurrent use; the lobby manager serializes access.
type Module interface {
	// AddPlayer registers a session id as a player. Ignored if the player
	// is already present or the game is full.
	AddPlayer(id string)
	// RemovePlayer withdraws a player. A module may treat removal from a
	// running game as a forfeit, reflected in EndCondition.
	RemovePlayer(id string)
	// PlayerCount returns the number of registered players.
	PlayerCount() int
	// State returns the current board state.
	State() State
	// IsValidMove reports whether the move is legal in the current state.
	IsValidMove(mv Move) bool
	// ApplyMove mutates the state with the given move.
	//
	// Precondition: IsValidMove(mv) must hold.
	ApplyMove(mv Move)
	// EndCondition reports whether the game has reached a terminal state
	// and, if so, the winning player's id. winnerID is empty on a draw.
	EndCondition() (ended bool, winnerID string)
}

// Factory produces fresh Module instances and decodes the module's payload
// types. One Factory is registered per game type tag.
type Factory interface {
	// Descriptor returns the immutable descriptor for this game type.
	Descriptor() protocol.GameDescriptor
	// New creates a fresh game instance with no players.
	New() Module
	// DecodeState decodes a serialized board state produced by this game.
	DecodeState(data []byte) (State, error)
	// DecodeMove decodes a serialized move produced by this game.
	DecodeMove(data []byte) (Move, error)
}

// EncodeState wraps a board state in a tagged wire payload.
func EncodeState(typeTag string, s State) (*protocol.TaggedPayload, error) {
	data, err := s.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding %s state: %w", typeTag, err)
	}
	return &protocol.TaggedPayload{TypeTag: typeTag, Data: data}, nil
}

// EncodeMove wraps a move in a tagged wire payload.
func EncodeMove(typeTag string, mv Move) (protocol.TaggedPayload, error) {
	data, err := mv.Encode()
	if err != nil {
		return protocol.TaggedPayload{}, fmt.Errorf("encoding %s move: %w", typeTag, err)
	}
	return protocol.TaggedPayload{TypeTag: typeTag, Data: data}, nil
}
