package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/lobby"
	"github.com/tabletophq/tabletop/internal/protocol"
)

// Server owns the authoritative protocol state: the session table, the game
// registry, and the lobby manager. It implements SessionHandler; the
// acceptor runs one HandleSession per connection.
type Server struct {
	logger  *zap.Logger
	games   *game.Registry
	lobbies *lobby.Manager

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a Server backed by the given game registry.
//
// Precondition: games and logger must be non-nil.
func New(games *game.Registry, logger *zap.Logger) *Server {
	return &Server{
		logger:   logger,
		games:    games,
		lobbies:  lobby.NewManager(games, logger),
		sessions: make(map[string]*Session),
	}
}

// Lobbies exposes the lobby manager, primarily for tests.
func (s *Server) Lobbies() *lobby.Manager { return s.lobbies }

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// HandleSession runs the read loop for one connection until the client
// disconnects, the acceptor stops, or the peer sends a corrupt frame.
//
// Postcondition: The session is unregistered and removed from any lobby it
// occupied, with the usual leave broadcasts sent to remaining members.
func (s *Server) HandleSession(ctx context.Context, conn *protocol.Conn) error {
	sess := newSession(conn)
	defer s.teardown(sess)

	for {
		msg, err := conn.ReadMessage(ctx.Done())
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrReadStopped), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return nil
			case errors.Is(err, protocol.ErrFrameTooLarge):
				// Hostile or corrupt peer; drop the connection to protect
				// the shared registry.
				s.logger.Warn("dropping connection after oversized frame",
					zap.String("session_id", sess.ID),
					zap.Error(err),
				)
				return err
			default:
				return err
			}
		}
		s.dispatch(sess, msg)
	}
}

// teardown unwinds a departing session. A transport drop is handled exactly
// like an explicit leave: remaining members see a LobbyUpdate and, on a
// forfeit, a GameEndResult.
func (s *Server) teardown(sess *Session) {
	if sess.ID == "" {
		return
	}

	if _, ok := s.lobbies.LobbyOf(sess.ID); ok {
		res, err := s.lobbies.Leave(sess.ID)
		if err == nil && !res.Destroyed {
			s.broadcastLobby(res.Snapshot, res.GameEnded)
		}
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	sess.SetState(protocol.StateDisconnected)
	s.logger.Info("session closed", zap.String("session_id", sess.ID))
}

// dispatch validates one request against the session's authoritative state
// and routes it to its handler. This is the single gate for every mutating
// operation: a request illegal for the current state is rejected with an
// ErrorNotice and produces no state change.
func (s *Server) dispatch(sess *Session, msg protocol.Message) {
	if sess.ID == "" && msg.Kind != protocol.KindConnect {
		s.sendError(sess, protocol.NewError(protocol.CodeProtocolViolation,
			"no active session; send connect first"))
		return
	}
	if !protocol.AllowedInState(sess.State(), msg.Kind) {
		s.sendError(sess, protocol.NewError(protocol.CodeProtocolViolation,
			"%s is not legal in state %s", msg.Kind, sess.State()))
		return
	}

	switch msg.Kind {
	case protocol.KindConnect:
		s.handleConnect(sess)
	case protocol.KindSupportedGamesRequest:
		s.handleSupportedGames(sess)
	case protocol.KindLobbyListRequest:
		s.handleLobbyList(sess)
	case protocol.KindCreateLobby:
		s.handleCreateLobby(sess, msg)
	case protocol.KindJoinLobby:
		s.handleJoinLobby(sess, msg)
	case protocol.KindLeaveLobby:
		s.handleLeaveLobby(sess)
	case protocol.KindStartGame:
		s.handleStartGame(sess)
	case protocol.KindMakeMove:
		s.handleMakeMove(sess, msg)
	case protocol.KindRefreshLobby:
		s.handleRefreshLobby(sess)
	case protocol.KindReturnToLobby:
		s.handleReturnToLobby(sess)
	default:
		s.sendError(sess, protocol.NewError(protocol.CodeProtocolViolation,
			"unsupported message kind %q", msg.Kind))
	}
}

func (s *Server) handleConnect(sess *Session) {
	sess.ID = uuid.NewString()

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	sess.SetState(protocol.StateConnected)
	s.logger.Info("session connected", zap.String("session_id", sess.ID))

	s.send(sess, protocol.KindConnectAck, protocol.ConnectAckBody{SessionID: sess.ID})
}

func (s *Server) handleSupportedGames(sess *Session) {
	s.send(sess, protocol.KindSupportedGamesList,
		protocol.SupportedGamesBody{Games: s.games.Descriptors()})
}

func (s *Server) handleLobbyList(sess *Session) {
	s.send(sess, protocol.KindLobbyList,
		protocol.LobbyListBody{Lobbies: s.lobbies.List()})
}

func (s *Server) handleCreateLobby(sess *Session, msg protocol.Message) {
	var body protocol.CreateLobbyBody
	if err := msg.DecodeBody(&body); err != nil {
		s.sendError(sess, err)
		return
	}

	snap, err := s.lobbies.Create(body.GameTypeID, sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	sess.SetState(protocol.StateInLobby)
	s.broadcastLobby(snap, false)
}

func (s *Server) handleJoinLobby(sess *Session, msg protocol.Message) {
	var body protocol.JoinLobbyBody
	if err := msg.DecodeBody(&body); err != nil {
		s.sendError(sess, err)
		return
	}

	snap, err := s.lobbies.Join(body.LobbyID, sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	sess.SetState(protocol.StateInLobby)
	s.broadcastLobby(snap, false)
}

func (s *Server) handleLeaveLobby(sess *Session) {
	res, err := s.lobbies.Leave(sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	sess.SetState(protocol.StateConnected)
	if !res.Destroyed {
		s.broadcastLobby(res.Snapshot, res.GameEnded)
	}
}

func (s *Server) handleStartGame(sess *Session) {
	snap, err := s.lobbies.Start(sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}

	// Every member enters the game, not just the starter.
	s.mu.RLock()
	for _, id := range snap.Members {
		if member, ok := s.sessions[id]; ok {
			member.SetState(protocol.StateInGame)
		}
	}
	s.mu.RUnlock()

	s.broadcastLobby(snap, false)
}

func (s *Server) handleMakeMove(sess *Session, msg protocol.Message) {
	var body protocol.MakeMoveBody
	if err := msg.DecodeBody(&body); err != nil {
		s.sendError(sess, err)
		return
	}

	snap, err := s.lobbies.ApplyMove(sess.ID, body.Move)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	s.broadcastLobby(snap, snap.Status == protocol.LobbyEnded)
}

func (s *Server) handleRefreshLobby(sess *Session) {
	snap, err := s.lobbies.GetFor(sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	s.send(sess, protocol.KindLobbyUpdate, protocol.LobbyUpdateBody{Lobby: snap})
}

func (s *Server) handleReturnToLobby(sess *Session) {
	snap, err := s.lobbies.Return(sess.ID)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	sess.SetState(protocol.StateInLobby)
	s.broadcastLobby(snap, false)
}

// send delivers one message to a single session.
func (s *Server) send(sess *Session, kind protocol.Kind, payload any) {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		s.logger.Error("encoding message",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	if err := sess.Send(msg); err != nil {
		s.logger.Warn("sending to session",
			zap.String("session_id", sess.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// sendError surfaces a rejected request to the offending client. Protocol
// errors map to their wire code; anything else is reported as a transport
// error. Other sessions are never affected.
func (s *Server) sendError(sess *Session, err error) {
	code, ok := protocol.CodeOf(err)
	if !ok {
		code = protocol.CodeTransportError
	}
	s.logger.Debug("request rejected",
		zap.String("session_id", sess.ID),
		zap.String("code", string(code)),
		zap.Error(err),
	)
	s.send(sess, protocol.KindErrorNotice, protocol.ErrorNoticeBody{
		Code:    code,
		Message: err.Error(),
	})
}

// broadcastLobby pushes the snapshot to every current member, plus a
// GameEndResult when the mutation ended the game. Member transports are
// resolved outside the lobby lock (the snapshot is already a copy) and the
// sends run concurrently; a failed send affects only that member.
func (s *Server) broadcastLobby(snap protocol.LobbySnapshot, gameEnded bool) {
	update, err := protocol.NewMessage(protocol.KindLobbyUpdate,
		protocol.LobbyUpdateBody{Lobby: snap})
	if err != nil {
		s.logger.Error("encoding lobby update", zap.Error(err))
		return
	}

	var msgs []protocol.Message
	msgs = append(msgs, update)
	if gameEnded {
		end, err := protocol.NewMessage(protocol.KindGameEndResult,
			protocol.GameEndBody{Ended: true, WinnerID: snap.Winner})
		if err != nil {
			s.logger.Error("encoding game end result", zap.Error(err))
		} else {
			msgs = append(msgs, end)
		}
	}

	s.mu.RLock()
	targets := make([]*Session, 0, len(snap.Members))
	for _, id := range snap.Members {
		if member, ok := s.sessions[id]; ok {
			targets = append(targets, member)
		}
	}
	s.mu.RUnlock()

	var g errgroup.Group
	for _, member := range targets {
		member := member
		g.Go(func() error {
			for _, m := range msgs {
				if err := member.Send(m); err != nil {
					s.logger.Warn("broadcast send failed",
						zap.String("session_id", member.ID),
						zap.String("lobby_id", snap.ID),
						zap.Error(err),
					)
					// The member's read loop will observe the closed
					// transport and run the normal teardown path.
					_ = member.conn.Close()
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
