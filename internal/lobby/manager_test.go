package lobby

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/protocol"
)

// counting game: any seated player may increment a shared counter; the
// game ends when the counter reaches the target and the last mover wins.

const countingTag = "counting"

type countState struct {
	Count int `json:"count"`
}

func (s *countState) Encode() ([]byte, error) { return json.Marshal(s) }

type countMove struct {
	Player string `json:"player"`
}

func (m countMove) Encode() ([]byte, error) { return json.Marshal(m) }

type countGame struct {
	players   []string
	count     int
	target    int
	lastMover string
	forfeitTo string
}

func (g *countGame) AddPlayer(id string) { g.players = append(g.players, id) }
func (g *countGame) RemovePlayer(id string) {
	for i, p := range g.players {
		if p == id {
			g.players = append(g.players[:i], g.players[i+1:]...)
			break
		}
	}
	if len(g.players) == 1 {
		g.forfeitTo = g.players[0]
	}
}
func (g *countGame) PlayerCount() int  { return len(g.players) }
func (g *countGame) State() game.State { return &countState{Count: g.count} }
func (g *countGame) IsValidMove(mv game.Move) bool {
	m, ok := mv.(countMove)
	if !ok || g.count >= g.target {
		return false
	}
	for _, p := range g.players {
		if p == m.Player {
			return true
		}
	}
	return false
}
func (g *countGame) ApplyMove(mv game.Move) {
	g.count++
	g.lastMover = mv.(countMove).Player
}
func (g *countGame) EndCondition() (bool, string) {
	if g.forfeitTo != "" {
		return true, g.forfeitTo
	}
	if g.count >= g.target {
		return true, g.lastMover
	}
	return false, ""
}

type countFactory struct {
	target int
}

func (f *countFactory) Descriptor() protocol.GameDescriptor {
	return protocol.GameDescriptor{
		Name:       "Counting",
		TypeID:     countingTag,
		MinPlayers: 2,
		MaxPlayers: 4,
	}
}
func (f *countFactory) New() game.Module { return &countGame{target: f.target} }
func (f *countFactory) DecodeState(data []byte) (game.State, error) {
	var s countState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
func (f *countFactory) DecodeMove(data []byte) (game.Move, error) {
	var m countMove
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	r := game.NewRegistry()
	require.NoError(t, r.Register(&countFactory{target: 3}))
	return NewManager(r, zaptest.NewLogger(t))
}

func move(player string) protocol.TaggedPayload {
	p, _ := game.EncodeMove(countingTag, countMove{Player: player})
	return p
}

func requireCode(t *testing.T, err error, want protocol.Code) {
	t.Helper()
	require.Error(t, err)
	code, ok := protocol.CodeOf(err)
	require.True(t, ok, "error %v carries no code", err)
	assert.Equal(t, want, code)
}

func TestManagerCreate(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "alice", snap.Owner)
	assert.Equal(t, []string{"alice"}, snap.Members)
	assert.Equal(t, protocol.LobbyWaiting, snap.Status)

	id, ok := m.LobbyOf("alice")
	require.True(t, ok)
	assert.Equal(t, snap.ID, id)
}

func TestManagerCreateUnknownGame(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("chess", "alice")
	requireCode(t, err, protocol.CodeUnknownGameType)
}

func TestManagerCreateWhileInLobby(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	_, err = m.Create(countingTag, "alice")
	requireCode(t, err, protocol.CodeAlreadyInLobby)
}

func TestManagerJoin(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	snap, err := m.Join(created.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, snap.Members)
	assert.Equal(t, "alice", snap.Owner)
}

func TestManagerJoinErrors(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	_, err = m.Join("no-such-lobby", "bob")
	requireCode(t, err, protocol.CodeLobbyNotFound)

	_, err = m.Join(created.ID, "alice")
	requireCode(t, err, protocol.CodeAlreadyInLobby)

	for _, id := range []string{"bob", "carol", "dave"} {
		_, err = m.Join(created.ID, id)
		require.NoError(t, err)
	}
	_, err = m.Join(created.ID, "eve")
	requireCode(t, err, protocol.CodeLobbyFull)
}

func TestManagerJoinAfterStart(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)
	_, err = m.Start("alice")
	require.NoError(t, err)

	_, err = m.Join(created.ID, "carol")
	requireCode(t, err, protocol.CodeLobbyAlreadyStarted)
}

func TestManagerStart(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)

	snap, err := m.Start("alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyInProgress, snap.Status)
	require.NotNil(t, snap.State)
	assert.Equal(t, countingTag, snap.State.TypeTag)
}

func TestManagerStartErrors(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	_, err = m.Start("bob")
	requireCode(t, err, protocol.CodeNotInLobby)

	_, err = m.Start("alice")
	requireCode(t, err, protocol.CodeNotEnoughPlayers)

	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)

	_, err = m.Start("bob")
	requireCode(t, err, protocol.CodeProtocolViolation)

	_, err = m.Start("alice")
	require.NoError(t, err)
	_, err = m.Start("alice")
	requireCode(t, err, protocol.CodeAlreadyStarted)
}

func TestManagerApplyMoveToEnd(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)
	_, err = m.Start("alice")
	require.NoError(t, err)

	snap, err := m.ApplyMove("alice", move("alice"))
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyInProgress, snap.Status)

	_, err = m.ApplyMove("bob", move("bob"))
	require.NoError(t, err)

	snap, err = m.ApplyMove("alice", move("alice"))
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyEnded, snap.Status)
	assert.Equal(t, "alice", snap.Winner)

	// Finished games accept no further moves.
	_, err = m.ApplyMove("bob", move("bob"))
	requireCode(t, err, protocol.CodeProtocolViolation)
}

func TestManagerApplyMoveErrors(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)

	_, err = m.ApplyMove("alice", move("alice"))
	requireCode(t, err, protocol.CodeProtocolViolation)

	_, err = m.Start("alice")
	require.NoError(t, err)

	_, err = m.ApplyMove("alice", protocol.TaggedPayload{TypeTag: "chess", Data: []byte(`{}`)})
	requireCode(t, err, protocol.CodeIllegalMove)

	_, err = m.ApplyMove("alice", protocol.TaggedPayload{TypeTag: countingTag, Data: []byte(`garbage`)})
	requireCode(t, err, protocol.CodePayloadDecode)

	// A move naming a player outside the lobby is rejected without mutating.
	_, err = m.ApplyMove("alice", move("mallory"))
	requireCode(t, err, protocol.CodeIllegalMove)

	snap, err := m.GetFor("alice")
	require.NoError(t, err)
	var s countState
	require.NoError(t, json.Unmarshal(snap.State.Data, &s))
	assert.Equal(t, 0, s.Count)
}

func TestManagerLeaveDestroysEmptyLobby(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	res, err := m.Leave("alice")
	require.NoError(t, err)
	assert.True(t, res.Destroyed)

	_, err = m.Get(created.ID)
	requireCode(t, err, protocol.CodeLobbyNotFound)
	_, ok := m.LobbyOf("alice")
	assert.False(t, ok)
}

func TestManagerLeaveNotInLobby(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Leave("alice")
	requireCode(t, err, protocol.CodeNotInLobby)
}

func TestManagerLeaveTransfersOwnership(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "carol")
	require.NoError(t, err)

	res, err := m.Leave("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Snapshot.Owner)

	// The new owner can start; the other member still cannot.
	_, err = m.Start("carol")
	requireCode(t, err, protocol.CodeProtocolViolation)
	_, err = m.Start("bob")
	require.NoError(t, err)
}

func TestManagerLeaveMidGameForfeits(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)
	_, err = m.Start("alice")
	require.NoError(t, err)

	res, err := m.Leave("bob")
	require.NoError(t, err)
	assert.False(t, res.Destroyed)
	assert.True(t, res.GameEnded)
	assert.Equal(t, protocol.LobbyEnded, res.Snapshot.Status)
	assert.Equal(t, "alice", res.Snapshot.Winner)
}

func TestManagerReturnResetsLobby(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	_, err = m.Join(created.ID, "bob")
	require.NoError(t, err)
	_, err = m.Start("alice")
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob", "alice"} {
		_, err = m.ApplyMove(p, move(p))
		require.NoError(t, err)
	}

	snap, err := m.Return("alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyEnded, snap.Status)

	snap, err = m.Return("bob")
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyWaiting, snap.Status)
	assert.Empty(t, snap.Winner)
	assert.Nil(t, snap.State)

	// The reset lobby can host another round.
	_, err = m.Start("alice")
	require.NoError(t, err)
}

func TestManagerLeaveCompletesPendingReset(t *testing.T) {
	m := newTestManager(t)
	created, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	for _, id := range []string{"bob", "carol"} {
		_, err = m.Join(created.ID, id)
		require.NoError(t, err)
	}
	_, err = m.Start("alice")
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob", "carol"} {
		_, err = m.ApplyMove(p, move(p))
		require.NoError(t, err)
	}

	_, err = m.Return("alice")
	require.NoError(t, err)
	_, err = m.Return("bob")
	require.NoError(t, err)

	// carol never returns; her departure is what completes the reset.
	res, err := m.Leave("carol")
	require.NoError(t, err)
	assert.Equal(t, protocol.LobbyWaiting, res.Snapshot.Status)
	assert.Empty(t, res.Snapshot.Winner)
	assert.Nil(t, res.Snapshot.State)

	_, err = m.Start("alice")
	require.NoError(t, err)
}

func TestManagerReturnBeforeEnd(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(countingTag, "alice")
	require.NoError(t, err)

	_, err = m.Return("alice")
	requireCode(t, err, protocol.CodeProtocolViolation)
}

func TestManagerListAndGet(t *testing.T) {
	m := newTestManager(t)
	a, err := m.Create(countingTag, "alice")
	require.NoError(t, err)
	b, err := m.Create(countingTag, "bob")
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)

	got, err = m.GetFor("bob")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = m.GetFor("carol")
	requireCode(t, err, protocol.CodeNotInLobby)
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := newTestManager(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sid := fmt.Sprintf("session-%d", n)
			if _, err := m.Create(countingTag, sid); err != nil {
				return
			}
			m.List()
			_, _ = m.Leave(sid)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, m.List())
}

// Sessions join, leave, and create lobbies in arbitrary order; membership
// must always map each session to at most one live lobby.
func TestPropertyOneLobbyPerSession(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := game.NewRegistry()
		if err := r.Register(&countFactory{target: 3}); err != nil {
			t.Fatalf("register: %v", err)
		}
		m := NewManager(r, zap.NewNop())
		sessions := []string{"s0", "s1", "s2", "s3", "s4"}

		n := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < n; i++ {
			sid := rapid.SampledFrom(sessions).Draw(t, "session")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, _ = m.Create(countingTag, sid)
			case 1:
				if lobbies := m.List(); len(lobbies) > 0 {
					target := rapid.SampledFrom(lobbies).Draw(t, "lobby")
					_, _ = m.Join(target.ID, sid)
				}
			case 2:
				_, _ = m.Leave(sid)
			}

			seen := make(map[string]string)
			for _, l := range m.List() {
				for _, member := range l.Members {
					prev, dup := seen[member]
					if dup {
						t.Fatalf("session %s is in lobbies %s and %s", member, prev, l.ID)
					}
					seen[member] = l.ID
				}
			}
		}
	})
}
