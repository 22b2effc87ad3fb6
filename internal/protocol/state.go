package protocol

// State is the mirrored connection life-cycle phase. The server tracks it
// authoritatively per session; the client tracks its own copy.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateInLobby
	StateInGame
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInLobby:
		return "in_lobby"
	case StateInGame:
		return "in_game"
	default:
		return "unknown"
	}
}

// AllowedInState reports whether the request kind is legal for a session in
// the given state. This check is the single gate in front of every mutating
// operation: a request rejected here must produce no state change.
func AllowedInState(s State, k Kind) bool {
	switch k {
	case KindConnect:
		return s == StateDisconnected
	case KindSupportedGamesRequest, KindLobbyListRequest:
		return s != StateDisconnected
	case KindCreateLobby, KindJoinLobby:
		return s == StateConnected
	case KindStartGame:
		return s == StateInLobby
	case KindLeaveLobby, KindRefreshLobby:
		return s == StateInLobby || s == StateInGame
	case KindMakeMove, KindReturnToLobby:
		return s == StateInGame
	default:
		return false
	}
}

// NextState returns the state a session occupies after the given request
// kind succeeds. Kinds that do not move the session return s unchanged.
//
// Precondition: AllowedInState(s, k) must hold.
func NextState(s State, k Kind) State {
	switch k {
	case KindConnect:
		return StateConnected
	case KindCreateLobby, KindJoinLobby:
		return StateInLobby
	case KindStartGame:
		return StateInGame
	case KindLeaveLobby:
		return StateConnected
	case KindReturnToLobby:
		return StateInLobby
	default:
		return s
	}
}

// RequestKinds lists every client-originated kind, in protocol order.
// Useful for exhaustive table checks.
func RequestKinds() []Kind {
	return []Kind{
		KindConnect,
		KindSupportedGamesRequest,
		KindLobbyListRequest,
		KindCreateLobby,
		KindJoinLobby,
		KindLeaveLobby,
		KindStartGame,
		KindMakeMove,
		KindRefreshLobby,
		KindReturnToLobby,
	}
}
