// Package lobby holds the server-side authoritative registry of lobbies and
// their membership. A single lock guards the whole registry so the central
// invariant, a session belongs to at most one lobby, is enforced in one
// place. Callers copy snapshots out and perform all network I/O outside the
// lock.
package lobby

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/protocol"
)

// lobbyState is the owned, mutable record for one lobby. Snapshots are
// copied out of it; the record itself never leaves the Manager.
type lobbyState struct {
	id         string
	gameTypeID string
	owner      string
	members    []string
	status     protocol.LobbyStatus
	module     game.Module
	winner     string
	returned   map[string]bool
}

// LeaveResult describes the outcome of a Leave call.
type LeaveResult struct {
	// Snapshot is the refreshed lobby after removal. Zero when Destroyed.
	Snapshot protocol.LobbySnapshot
	// Destroyed reports that the lobby became empty and was removed.
	Destroyed bool
	// GameEnded reports that the removal pushed a running game to its end
	// condition (a forfeit); Snapshot.Winner names the winner if any.
	GameEnded bool
}

// Manager is the authoritative lobby registry. All methods are safe for
// concurrent use. Mutating operations return the refreshed snapshot, which
// the caller broadcasts to every member.
type Manager struct {
	mu         sync.RWMutex
	registry   *game.Registry
	logger     *zap.Logger
	lobbies    map[string]*lobbyState
	membership map[string]string // session id → lobby id
}

// NewManager creates a Manager backed by the given game registry.
//
// Precondition: registry and logger must be non-nil.
func NewManager(registry *game.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		registry:   registry,
		logger:     logger,
		lobbies:    make(map[string]*lobbyState),
		membership: make(map[string]string),
	}
}

// Create makes a new lobby hosting the given game type, with the creator as
// sole member and designated starter.
//
// Postcondition: Returns the new lobby's snapshot, or UnknownGameType /
// AlreadyInLobby with no state mutation.
func (m *Manager) Create(gameTypeID, creator string) (protocol.LobbySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Factory(gameTypeID); !ok {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeUnknownGameType,
			"game type %q is not registered", gameTypeID)
	}
	if lid, ok := m.membership[creator]; ok {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeAlreadyInLobby,
			"session is already in lobby %s", lid)
	}

	l := &lobbyState{
		id:         uuid.NewString(),
		gameTypeID: gameTypeID,
		owner:      creator,
		members:    []string{creator},
		status:     protocol.LobbyWaiting,
	}
	m.lobbies[l.id] = l
	m.membership[creator] = l.id

	m.logger.Info("lobby created",
		zap.String("lobby_id", l.id),
		zap.String("game_type", gameTypeID),
		zap.String("owner", creator),
	)
	return m.snapshot(l), nil
}

// Join adds a session to an existing waiting lobby.
//
// Postcondition: Returns the refreshed snapshot, or LobbyNotFound /
// LobbyFull / LobbyAlreadyStarted / AlreadyInLobby with no state mutation.
func (m *Manager) Join(lobbyID, sessionID string) (protocol.LobbySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobbyID]
	if !ok {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeLobbyNotFound,
			"lobby %s not found", lobbyID)
	}
	if lid, ok := m.membership[sessionID]; ok {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeAlreadyInLobby,
			"session is already in lobby %s", lid)
	}
	if l.status != protocol.LobbyWaiting {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeLobbyAlreadyStarted,
			"lobby %s has already started", lobbyID)
	}
	f, _ := m.registry.Factory(l.gameTypeID)
	if len(l.members) >= f.Descriptor().MaxPlayers {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeLobbyFull,
			"lobby %s is full", lobbyID)
	}

	l.members = append(l.members, sessionID)
	m.membership[sessionID] = l.id

	m.logger.Info("session joined lobby",
		zap.String("lobby_id", l.id),
		zap.String("session_id", sessionID),
		zap.Int("members", len(l.members)),
	)
	return m.snapshot(l), nil
}

// Leave removes the session from its lobby. An empty lobby is destroyed;
// when the owner leaves a non-empty lobby, ownership passes to the longest-
// standing remaining member. If a game is running, the module's RemovePlayer
// hook runs and the end condition is re-checked so the module can declare a
// forfeit. If the game had already ended, the departure re-runs the
// all-returned check so the lobby cannot stay Ended with every remaining
// member back. Transport drops take this same path: a disconnect mid-game is
// treated identically to an explicit leave.
//
// Postcondition: Returns a LeaveResult, or NotInLobby with no mutation.
func (m *Manager) Leave(sessionID string) (LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.lobbyOf(sessionID)
	if err != nil {
		return LeaveResult{}, err
	}

	for i, id := range l.members {
		if id == sessionID {
			l.members = append(l.members[:i], l.members[i+1:]...)
			break
		}
	}
	delete(m.membership, sessionID)
	delete(l.returned, sessionID)

	if len(l.members) == 0 {
		delete(m.lobbies, l.id)
		m.logger.Info("lobby destroyed", zap.String("lobby_id", l.id))
		return LeaveResult{Destroyed: true}, nil
	}

	if sessionID == l.owner {
		l.owner = l.members[0]
		m.logger.Info("lobby ownership transferred",
			zap.String("lobby_id", l.id),
			zap.String("owner", l.owner),
		)
	}

	var gameEnded bool
	if l.status == protocol.LobbyInProgress {
		l.module.RemovePlayer(sessionID)
		if ended, winner := l.module.EndCondition(); ended {
			l.status = protocol.LobbyEnded
			l.winner = winner
			gameEnded = true
			m.logger.Info("game ended by forfeit",
				zap.String("lobby_id", l.id),
				zap.String("winner", winner),
			)
		}
	}

	// The departure may have been the last thing blocking a reset.
	m.resetIfAllReturned(l)

	m.logger.Info("session left lobby",
		zap.String("lobby_id", l.id),
		zap.String("session_id", sessionID),
		zap.Int("members", len(l.members)),
	)
	return LeaveResult{Snapshot: m.snapshot(l), GameEnded: gameEnded}, nil
}

// Start begins the game in the session's lobby. Only the owner may start,
// and only with at least the game's minimum player count.
//
// Postcondition: On success the lobby owns a fresh Module seeded with the
// current members in join order; otherwise NotInLobby / ProtocolViolation /
// AlreadyStarted / NotEnoughPlayers with no mutation.
func (m *Manager) Start(sessionID string) (protocol.LobbySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.lobbyOf(sessionID)
	if err != nil {
		return protocol.LobbySnapshot{}, err
	}
	if sessionID != l.owner {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeProtocolViolation,
			"only the lobby owner may start the game")
	}
	if l.status != protocol.LobbyWaiting {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeAlreadyStarted,
			"lobby %s has already started", l.id)
	}
	f, _ := m.registry.Factory(l.gameTypeID)
	if len(l.members) < f.Descriptor().MinPlayers {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeNotEnoughPlayers,
			"lobby %s has %d of %d required players",
			l.id, len(l.members), f.Descriptor().MinPlayers)
	}

	mod := f.New()
	for _, id := range l.members {
		mod.AddPlayer(id)
	}
	l.module = mod
	l.status = protocol.LobbyInProgress
	l.winner = ""
	l.returned = nil

	m.logger.Info("game started",
		zap.String("lobby_id", l.id),
		zap.String("game_type", l.gameTypeID),
		zap.Int("players", len(l.members)),
	)
	return m.snapshot(l), nil
}

// ApplyMove validates and applies one move to the session's running game,
// then re-checks the end condition.
//
// Postcondition: Returns the refreshed snapshot, with Status LobbyEnded and
// Winner populated if the move ended the game. IllegalMove leaves the game
// state untouched.
func (m *Manager) ApplyMove(sessionID string, payload protocol.TaggedPayload) (protocol.LobbySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.lobbyOf(sessionID)
	if err != nil {
		return protocol.LobbySnapshot{}, err
	}
	if l.status != protocol.LobbyInProgress {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeProtocolViolation,
			"lobby %s has no game in progress", l.id)
	}
	if payload.TypeTag != l.gameTypeID {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeIllegalMove,
			"move type %q does not match lobby game %q", payload.TypeTag, l.gameTypeID)
	}

	mv, err := m.registry.DecodeMove(payload)
	if err != nil {
		return protocol.LobbySnapshot{}, err
	}
	if !l.module.IsValidMove(mv) {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeIllegalMove,
			"move is not legal in the current game state")
	}

	l.module.ApplyMove(mv)
	if ended, winner := l.module.EndCondition(); ended {
		l.status = protocol.LobbyEnded
		l.winner = winner
		m.logger.Info("game ended",
			zap.String("lobby_id", l.id),
			zap.String("winner", winner),
		)
	}
	return m.snapshot(l), nil
}

// Return acknowledges a member leaving a finished game. When every member
// has returned, the lobby resets to Waiting for another round.
//
// Postcondition: Returns the refreshed snapshot, or NotInLobby /
// ProtocolViolation if the game has not ended.
func (m *Manager) Return(sessionID string) (protocol.LobbySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.lobbyOf(sessionID)
	if err != nil {
		return protocol.LobbySnapshot{}, err
	}
	if l.status != protocol.LobbyEnded {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeProtocolViolation,
			"lobby %s game has not ended", l.id)
	}

	if l.returned == nil {
		l.returned = make(map[string]bool)
	}
	l.returned[sessionID] = true

	m.resetIfAllReturned(l)
	return m.snapshot(l), nil
}

// resetIfAllReturned moves an ended lobby back to Waiting once every current
// member has acknowledged the result. Membership changes re-run this check,
// so a departure can complete a reset the departing member was blocking.
// Callers hold m.mu.
func (m *Manager) resetIfAllReturned(l *lobbyState) {
	if l.status != protocol.LobbyEnded {
		return
	}
	for _, id := range l.members {
		if !l.returned[id] {
			return
		}
	}
	l.status = protocol.LobbyWaiting
	l.module = nil
	l.winner = ""
	l.returned = nil
	m.logger.Info("lobby reset", zap.String("lobby_id", l.id))
}

// Get returns a snapshot of the given lobby.
func (m *Manager) Get(lobbyID string) (protocol.LobbySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lobbies[lobbyID]
	if !ok {
		return protocol.LobbySnapshot{}, protocol.NewError(protocol.CodeLobbyNotFound,
			"lobby %s not found", lobbyID)
	}
	return m.snapshot(l), nil
}

// GetFor returns a snapshot of the session's current lobby. This backs the
// manual refresh request used to resynchronize after a missed notification.
func (m *Manager) GetFor(sessionID string) (protocol.LobbySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, err := m.lobbyOf(sessionID)
	if err != nil {
		return protocol.LobbySnapshot{}, err
	}
	return m.snapshot(l), nil
}

// List returns snapshots of every live lobby.
func (m *Manager) List() []protocol.LobbySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.LobbySnapshot, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, m.snapshot(l))
	}
	return out
}

// LobbyOf returns the id of the lobby the session belongs to, if any.
func (m *Manager) LobbyOf(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.membership[sessionID]
	return id, ok
}

// lobbyOf resolves a session's lobby record. Callers hold m.mu.
func (m *Manager) lobbyOf(sessionID string) (*lobbyState, error) {
	lid, ok := m.membership[sessionID]
	if !ok {
		return nil, protocol.NewError(protocol.CodeNotInLobby, "session is not in a lobby")
	}
	return m.lobbies[lid], nil
}

// snapshot copies a lobby record into its by-value wire form. Callers hold
// m.mu. Game state encoding errors are logged and leave State nil rather
// than failing the operation.
func (m *Manager) snapshot(l *lobbyState) protocol.LobbySnapshot {
	snap := protocol.LobbySnapshot{
		ID:         l.id,
		GameTypeID: l.gameTypeID,
		Owner:      l.owner,
		Members:    append([]string(nil), l.members...),
		Status:     l.status,
		Winner:     l.winner,
	}
	if l.module != nil {
		state, err := game.EncodeState(l.gameTypeID, l.module.State())
		if err != nil {
			m.logger.Error("encoding lobby game state",
				zap.String("lobby_id", l.id),
				zap.Error(err),
			)
		} else {
			snap.State = state
		}
	}
	return snap
}
