// Package protocol defines the wire-level data model shared by the server
// and the client: the message envelope, the framed codec, the error
// taxonomy, and the connection life-cycle state machine.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the message envelope's tagged union. Exactly one
// payload shape corresponds to each kind.
type Kind string

const (
	// Client → server requests.
	KindConnect               Kind = "connect"
	KindSupportedGamesRequest Kind = "supported_games_request"
	KindLobbyListRequest      Kind = "lobby_list_request"
	KindCreateLobby           Kind = "create_lobby"
	KindJoinLobby             Kind = "join_lobby"
	KindLeaveLobby            Kind = "leave_lobby"
	KindStartGame             Kind = "start_game"
	KindMakeMove              Kind = "make_move"
	KindRefreshLobby          Kind = "refresh_lobby"
	KindReturnToLobby         Kind = "return_to_lobby"

	// Server → client responses and notifications.
	KindConnectAck         Kind = "connect_ack"
	KindSupportedGamesList Kind = "supported_games_list"
	KindLobbyList          Kind = "lobby_list"
	KindLobbyUpdate        Kind = "lobby_update"
	KindGameEndResult      Kind = "game_end_result"
	KindErrorNotice        Kind = "error_notice"
)

// Message is the outer envelope carried in every frame. Body holds the
// kind-specific payload, or is empty for payload-free requests.
type Message struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewMessage builds an envelope for the given kind. A nil payload produces
// an empty body.
//
// Postcondition: Returns a Message whose Body is the JSON encoding of payload.
func NewMessage(kind Kind, payload any) (Message, error) {
	m := Message{Kind: kind}
	if payload == nil {
		return m, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	m.Body = body
	return m, nil
}

// DecodeBody unmarshals the envelope body into the given payload struct.
//
// Precondition: into must be a non-nil pointer to the payload type for m.Kind.
func (m Message) DecodeBody(into any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s: empty body: %w",
			m.Kind, NewError(CodePayloadDecode, "message has no body"))
	}
	if err := json.Unmarshal(m.Body, into); err != nil {
		return fmt.Errorf("%s: %w",
			m.Kind, NewError(CodePayloadDecode, "decoding body: %v", err))
	}
	return nil
}

// TaggedPayload carries an opaque game state or move across the wire.
// TypeTag names the game module that produced Data; only a registry holding
// that module's factory can decode it.
type TaggedPayload struct {
	TypeTag string          `json:"type_tag"`
	Data    json.RawMessage `json:"data"`
}

// GameDescriptor identifies a registered game module. MinPlayers and
// MaxPlayers bound lobby membership for the module's lobbies.
type GameDescriptor struct {
	Name       string `json:"name"`
	TypeID     string `json:"type_id"`
	MinPlayers int    `json:"min_players"`
	MaxPlayers int    `json:"max_players"`
}

// LobbyStatus is the life-cycle phase of a lobby.
type LobbyStatus string

const (
	LobbyWaiting    LobbyStatus = "waiting"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyEnded      LobbyStatus = "ended"
)

// LobbySnapshot is the by-value copy of a lobby that the server pushes to
// members. State is present only while a game is in progress or ended.
type LobbySnapshot struct {
	ID         string         `json:"id"`
	GameTypeID string         `json:"game_type_id"`
	Owner      string         `json:"owner"`
	Members    []string       `json:"members"`
	Status     LobbyStatus    `json:"status"`
	State      *TaggedPayload `json:"state,omitempty"`
	Winner     string         `json:"winner,omitempty"`
}

// ConnectAckBody carries the server-assigned session identifier.
type ConnectAckBody struct {
	SessionID string `json:"session_id"`
}

// SupportedGamesBody lists the games registered with the server.
type SupportedGamesBody struct {
	Games []GameDescriptor `json:"games"`
}

// LobbyListBody lists snapshots of every live lobby.
type LobbyListBody struct {
	Lobbies []LobbySnapshot `json:"lobbies"`
}

// CreateLobbyBody names the game the new lobby will host.
type CreateLobbyBody struct {
	GameTypeID string `json:"game_type_id"`
}

// JoinLobbyBody names the lobby to join.
type JoinLobbyBody struct {
	LobbyID string `json:"lobby_id"`
}

// MakeMoveBody carries one opaque game move.
type MakeMoveBody struct {
	Move TaggedPayload `json:"move"`
}

// LobbyUpdateBody is the broadcast snapshot after any lobby mutation.
type LobbyUpdateBody struct {
	Lobby LobbySnapshot `json:"lobby"`
}

// GameEndBody reports a terminal game result. WinnerID is empty on a draw.
type GameEndBody struct {
	Ended    bool   `json:"ended"`
	WinnerID string `json:"winner_id,omitempty"`
}

// ErrorNoticeBody surfaces a rejected request to the offending client.
type ErrorNoticeBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
