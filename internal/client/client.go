// Package client implements the client-side controller for the lobby
// protocol: a local cache of server-pushed state, an asynchronous receive
// loop, fire-and-forget request methods, and a single change-notification
// callback.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/protocol"
)

// EndResult is a cached terminal game outcome. WinnerID is empty on a draw.
type EndResult struct {
	Ended    bool
	WinnerID string
}

// Controller mirrors the server's view of one session. Request methods
// perform a single non-blocking write and return; results arrive through
// the receive loop, which updates the cache and invokes the registered
// callback once per processed message. Callers re-read the getters after
// each callback to observe what changed.
type Controller struct {
	logger *zap.Logger
	games  *game.Registry

	mu        sync.Mutex
	conn      *protocol.Conn
	sessionID string
	state     protocol.State
	gamesList []protocol.GameDescriptor
	lobbies   []protocol.LobbySnapshot
	current   *protocol.LobbySnapshot
	gameState game.State
	endResult *EndResult
	lastErr   *protocol.Error
	onChange  func()

	listening bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Controller that decodes game payloads through the given
// registry. A lobby whose game type is absent from the registry is still
// cached, with its decoded state left nil.
//
// Precondition: games and logger must be non-nil.
func New(games *game.Registry, logger *zap.Logger) *Controller {
	return &Controller{
		logger: logger,
		games:  games,
		state:  protocol.StateDisconnected,
	}
}

// OnChange registers the single change-notification callback. The callback
// receives no payload; its contract is "something changed, re-read the
// getters". It is invoked from the receive loop goroutine.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Connect dials the server and sends the connect request. The assigned
// session id arrives asynchronously once the receive loop is running.
//
// Postcondition: On success the controller is in StateConnected with an
// open transport.
func (c *Controller) Connect(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return protocol.NewError(protocol.CodeProtocolViolation, "already connected")
	}

	raw, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	conn := protocol.NewConn(raw, 30*time.Second, 0)

	msg, err := protocol.NewMessage(protocol.KindConnect, nil)
	if err != nil {
		raw.Close()
		return err
	}
	if err := conn.WriteMessage(msg); err != nil {
		raw.Close()
		return fmt.Errorf("sending connect: %w", err)
	}

	c.conn = conn
	c.state = protocol.StateConnected
	c.logger.Info("connected", zap.String("addr", addr))
	return nil
}

// Disconnect stops the receive loop and tears down the transport. This is
// terminal for the session; subsequent sends fail with NotConnected.
func (c *Controller) Disconnect() error {
	c.StopListening()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.reset()
	c.logger.Info("disconnected")
	return err
}

// reset clears the connection-scoped cache. Callers hold c.mu.
func (c *Controller) reset() {
	c.conn = nil
	c.state = protocol.StateDisconnected
	c.sessionID = ""
	c.current = nil
	c.gameState = nil
	c.endResult = nil
}

// StartListening starts the background receive loop.
//
// Precondition: the controller must be connected and not already listening.
func (c *Controller) StartListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return protocol.NewError(protocol.CodeNotConnected, "not connected")
	}
	if c.listening {
		return protocol.NewError(protocol.CodeProtocolViolation, "already listening")
	}

	c.listening = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.receiveLoop(c.conn, c.stop, c.done)
	return nil
}

// StopListening stops the receive loop at its next frame boundary and waits
// for it to exit. The transport stays open; a later StartListening resumes
// cleanly.
func (c *Controller) StopListening() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.listening = false
	c.mu.Unlock()

	close(stop)
	<-done
}

// receiveLoop blocks on the transport, decodes each inbound frame, updates
// the relevant cache field, and invokes the callback exactly once per
// processed message. A transport failure moves the session to Disconnected
// and exits; a stop signal exits without touching the transport.
func (c *Controller) receiveLoop(conn *protocol.Conn, stop, done chan struct{}) {
	defer close(done)

	for {
		msg, err := conn.ReadMessage(stop)
		if err != nil {
			if errors.Is(err, protocol.ErrReadStopped) {
				return
			}
			c.mu.Lock()
			conn.Close()
			c.reset()
			cb := c.onChange
			c.mu.Unlock()

			c.logger.Warn("transport failed", zap.Error(err))
			if cb != nil {
				cb()
			}
			return
		}

		c.mu.Lock()
		c.handle(msg)
		cb := c.onChange
		c.mu.Unlock()

		if cb != nil {
			cb()
		}
	}
}

// handle applies one server message to the cache and mirrors the protocol
// state transitions the message implies. Callers hold c.mu.
func (c *Controller) handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindConnectAck:
		var body protocol.ConnectAckBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding connect ack", zap.Error(err))
			return
		}
		c.sessionID = body.SessionID

	case protocol.KindSupportedGamesList:
		var body protocol.SupportedGamesBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding supported games", zap.Error(err))
			return
		}
		c.gamesList = body.Games

	case protocol.KindLobbyList:
		var body protocol.LobbyListBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding lobby list", zap.Error(err))
			return
		}
		c.lobbies = body.Lobbies

	case protocol.KindLobbyUpdate:
		var body protocol.LobbyUpdateBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding lobby update", zap.Error(err))
			return
		}
		c.applyLobbyUpdate(body.Lobby)

	case protocol.KindGameEndResult:
		var body protocol.GameEndBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding game end result", zap.Error(err))
			return
		}
		c.endResult = &EndResult{Ended: body.Ended, WinnerID: body.WinnerID}

	case protocol.KindErrorNotice:
		var body protocol.ErrorNoticeBody
		if err := msg.DecodeBody(&body); err != nil {
			c.logger.Error("decoding error notice", zap.Error(err))
			return
		}
		c.lastErr = &protocol.Error{Code: body.Code, Message: body.Message}
		c.logger.Debug("server rejected request",
			zap.String("code", string(body.Code)),
			zap.String("message", body.Message),
		)

	default:
		c.logger.Debug("ignoring unexpected message",
			zap.String("kind", string(msg.Kind)),
		)
	}
}

// applyLobbyUpdate caches a lobby snapshot and mirrors the implied state
// transition: a first update while Connected acknowledges a create or join,
// and an in-progress status while InLobby means the game started.
// Callers hold c.mu.
func (c *Controller) applyLobbyUpdate(snap protocol.LobbySnapshot) {
	c.current = &snap

	if snap.State != nil {
		decoded, err := c.games.DecodeState(*snap.State)
		if err != nil {
			// Unknown or undecodable game: keep the snapshot, leave the
			// decoded state empty. This is a local display condition, not
			// a protocol violation.
			c.logger.Debug("cannot decode lobby game state",
				zap.String("game_type", snap.State.TypeTag),
				zap.Error(err),
			)
			c.gameState = nil
		} else {
			c.gameState = decoded
		}
	} else {
		c.gameState = nil
	}

	switch {
	case c.state == protocol.StateConnected:
		c.state = protocol.StateInLobby
	case c.state == protocol.StateInLobby && snap.Status == protocol.LobbyInProgress:
		c.state = protocol.StateInGame
	}
}

// send writes one fire-and-forget request frame.
func (c *Controller) send(kind protocol.Kind, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return protocol.NewError(protocol.CodeNotConnected, "not connected")
	}
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(msg)
}

// RequestSupportedGames asks the server for its registered games.
func (c *Controller) RequestSupportedGames() error {
	return c.send(protocol.KindSupportedGamesRequest, nil)
}

// RequestLobbyList asks the server for snapshots of every live lobby.
func (c *Controller) RequestLobbyList() error {
	return c.send(protocol.KindLobbyListRequest, nil)
}

// CreateLobby asks the server to create a lobby hosting the given game type,
// with this session as sole member and starter.
func (c *Controller) CreateLobby(gameTypeID string) error {
	return c.send(protocol.KindCreateLobby, protocol.CreateLobbyBody{GameTypeID: gameTypeID})
}

// JoinLobby asks the server to add this session to the given lobby.
func (c *Controller) JoinLobby(lobbyID string) error {
	return c.send(protocol.KindJoinLobby, protocol.JoinLobbyBody{LobbyID: lobbyID})
}

// LeaveLobby leaves the current lobby. The mirrored state moves back to
// Connected immediately; the server broadcasts the change to the remaining
// members.
func (c *Controller) LeaveLobby() error {
	if err := c.send(protocol.KindLeaveLobby, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = protocol.StateConnected
	c.current = nil
	c.gameState = nil
	c.endResult = nil
	c.mu.Unlock()
	return nil
}

// StartGame asks the server to start the current lobby's game. Legal only
// for the lobby's creator with enough members present.
func (c *Controller) StartGame() error {
	return c.send(protocol.KindStartGame, nil)
}

// MakeMove submits one move for the game in progress.
func (c *Controller) MakeMove(mv protocol.TaggedPayload) error {
	return c.send(protocol.KindMakeMove, protocol.MakeMoveBody{Move: mv})
}

// RefreshLobby requests a fresh snapshot of the current lobby, for
// resynchronization after a missed notification.
func (c *Controller) RefreshLobby() error {
	return c.send(protocol.KindRefreshLobby, nil)
}

// ReturnToLobby acknowledges a finished game and moves the mirrored state
// back to InLobby.
func (c *Controller) ReturnToLobby() error {
	if err := c.send(protocol.KindReturnToLobby, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = protocol.StateInLobby
	c.gameState = nil
	c.endResult = nil
	c.mu.Unlock()
	return nil
}

// SessionID returns the server-assigned session identifier, or empty if the
// acknowledgment has not arrived yet.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the mirrored protocol state.
func (c *Controller) State() protocol.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SupportedGames returns the cached supported-games list.
func (c *Controller) SupportedGames() []protocol.GameDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.GameDescriptor(nil), c.gamesList...)
}

// Lobbies returns the cached lobby list.
func (c *Controller) Lobbies() []protocol.LobbySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.LobbySnapshot(nil), c.lobbies...)
}

// CurrentLobby returns a copy of the cached current lobby, or nil.
func (c *Controller) CurrentLobby() *protocol.LobbySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	snap := *c.current
	snap.Members = append([]string(nil), c.current.Members...)
	return &snap
}

// GameState returns the decoded state of the game in progress, or nil when
// no game is running or the game type is unknown to this client.
func (c *Controller) GameState() game.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameState
}

// GameEndResult returns the cached terminal result, or nil while the game
// is still running.
func (c *Controller) GameEndResult() *EndResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endResult == nil {
		return nil
	}
	res := *c.endResult
	return &res
}

// LastError returns the most recent ErrorNotice received, or nil.
func (c *Controller) LastError() *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	e := *c.lastErr
	return &e
}
