package server

import (
	"sync"

	"github.com/tabletophq/tabletop/internal/protocol"
)

// Session is the server-side record for one connected client: its assigned
// id, its authoritative protocol state, and its transport. The id and conn
// are immutable after registration; the state is guarded because game-start
// moves every member of a lobby, not just the requester.
type Session struct {
	ID   string
	conn *protocol.Conn

	mu    sync.Mutex
	state protocol.State
}

func newSession(conn *protocol.Conn) *Session {
	return &Session{
		conn:  conn,
		state: protocol.StateDisconnected,
	}
}

// State returns the session's current authoritative protocol state.
func (s *Session) State() protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to the given state.
func (s *Session) SetState(st protocol.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Send writes one message to the session's transport.
func (s *Session) Send(m protocol.Message) error {
	return s.conn.WriteMessage(m)
}
