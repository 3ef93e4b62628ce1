package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecast-signaling-server/domain"
)

type mockConn struct {
	remote   string
	received [][]byte
	closed   bool
	mu       sync.Mutex
	sendErr  error
}

func (m *mockConn) RemoteAddr() string { return m.remote }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestHub_JoinUnknownRoom(t *testing.T) {
	h := New()
	conn := &mockConn{remote: "a"}

	_, err := h.JoinRoom(conn, "nowhere", "alice")

	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	rooms, clients := h.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, clients)
	_, _, ok := h.Session(conn)
	assert.False(t, ok)
}

func TestHub_CreateRoom(t *testing.T) {
	h := New()
	conn := &mockConn{remote: "a"}

	res, err := h.CreateRoom(conn, "R", "alice")

	require.NoError(t, err)
	require.Len(t, res.Roster, 1)
	assert.Equal(t, "alice", res.Roster[0].UserID)
	assert.Equal(t, res.ClientID, res.Roster[0].ID)
	assert.NotEmpty(t, res.ClientID)

	rooms, clients := h.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, clients)
}

func TestHub_JoinExistingRoom(t *testing.T) {
	h := New()
	connA := &mockConn{remote: "a"}
	connB := &mockConn{remote: "b"}

	resA, err := h.CreateRoom(connA, "R", "alice")
	require.NoError(t, err)

	resB, err := h.JoinRoom(connB, "R", "bob")
	require.NoError(t, err)

	assert.Len(t, resB.Roster, 2)
	assert.Len(t, resB.Members, 2)
	assert.Contains(t, resB.KnownIDs, resA.ClientID)
	assert.NotContains(t, resB.KnownIDs, resB.ClientID)
}

func TestHub_RejoinIsRejected(t *testing.T) {
	h := New()
	conn := &mockConn{remote: "a"}

	_, err := h.CreateRoom(conn, "R", "alice")
	require.NoError(t, err)

	_, err = h.JoinRoom(conn, "R", "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = h.CreateRoom(conn, "S", "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	rooms, clients := h.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, clients)
}

func TestHub_SeedRooms(t *testing.T) {
	h := New()
	h.SeedRooms("roomRoom1", "roomRoom2")

	rooms, _ := h.Stats()
	assert.Equal(t, 2, rooms)

	_, err := h.JoinRoom(&mockConn{remote: "a"}, "roomRoom1", "alice")
	assert.NoError(t, err)
}

func TestHub_PasswordGatedJoin(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*testing.T, *Hub)
		password string
		wantErr  error
	}{
		{
			name: "correct password",
			setup: func(t *testing.T, h *Hub) {
				h.SeedRooms("R")
				require.NoError(t, h.SetRoomPassword("R", "hunter2"))
			},
			password: "hunter2",
		},
		{
			name: "wrong password",
			setup: func(t *testing.T, h *Hub) {
				h.SeedRooms("R")
				require.NoError(t, h.SetRoomPassword("R", "hunter2"))
			},
			password: "wrong",
			wantErr:  domain.ErrBadPassword,
		},
		{
			name:     "new room with empty password",
			setup:    func(t *testing.T, h *Hub) {},
			password: "",
		},
		{
			name:     "new room with non-empty password",
			setup:    func(t *testing.T, h *Hub) {},
			password: "hunter2",
			wantErr:  domain.ErrBadPassword,
		},
		{
			name: "unset password admits only empty",
			setup: func(t *testing.T, h *Hub) {
				h.SeedRooms("R")
			},
			password: "anything",
			wantErr:  domain.ErrBadPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			tt.setup(t, h)
			conn := &mockConn{remote: "a"}

			_, err := h.JoinRoomWithPassword(conn, "R", "alice", tt.password)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				_, _, ok := h.Session(conn)
				assert.False(t, ok, "rejected join must not bind a session")
			} else {
				require.NoError(t, err)
				_, roomID, ok := h.Session(conn)
				require.True(t, ok)
				assert.Equal(t, "R", roomID)
			}
		})
	}
}

func TestHub_RejectedPasswordJoinCreatesNoRoom(t *testing.T) {
	h := New()

	_, err := h.JoinRoomWithPassword(&mockConn{remote: "a"}, "fresh", "alice", "nope")

	require.ErrorIs(t, err, domain.ErrBadPassword)
	rooms, clients := h.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, clients)
}

func TestHub_SetRoomPassword_RoomNotFound(t *testing.T) {
	h := New()
	assert.ErrorIs(t, h.SetRoomPassword("nowhere", "x"), domain.ErrRoomNotFound)
}

func TestHub_Disconnect(t *testing.T) {
	h := New()
	connA := &mockConn{remote: "a"}
	connB := &mockConn{remote: "b"}

	resA, err := h.CreateRoom(connA, "R", "alice")
	require.NoError(t, err)
	_, err = h.JoinRoom(connB, "R", "bob")
	require.NoError(t, err)

	h.Disconnect(connA)

	_, _, ok := h.Session(connA)
	assert.False(t, ok)

	list, _, ok := h.ClientList(connB)
	require.True(t, ok)
	assert.NotContains(t, list, resA.ClientID)

	rooms, clients := h.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, clients)

	// second disconnect of the same connection is a no-op
	h.Disconnect(connA)
	rooms, clients = h.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, clients)
}

func TestHub_DisconnectNeverJoined(t *testing.T) {
	h := New()
	h.Disconnect(&mockConn{remote: "ghost"})

	rooms, clients := h.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, clients)
}

func TestHub_EmptyRoomIsRemoved(t *testing.T) {
	h := New()
	conn := &mockConn{remote: "a"}

	_, err := h.CreateRoom(conn, "R", "alice")
	require.NoError(t, err)

	h.Disconnect(conn)

	rooms, clients := h.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, clients)
}

func TestHub_Resolve(t *testing.T) {
	h := New()
	connA := &mockConn{remote: "a"}
	connB := &mockConn{remote: "b"}
	connC := &mockConn{remote: "c"}

	_, err := h.CreateRoom(connA, "R", "alice")
	require.NoError(t, err)
	resB, err := h.JoinRoom(connB, "R", "bob")
	require.NoError(t, err)
	resC, err := h.CreateRoom(connC, "S", "carol")
	require.NoError(t, err)

	got, ok := h.Resolve(connA, resB.ClientID)
	require.True(t, ok)
	assert.Same(t, connB, got)

	// targets outside the caller's room are unreachable
	_, ok = h.Resolve(connA, resC.ClientID)
	assert.False(t, ok)

	// unjoined caller resolves nothing
	_, ok = h.Resolve(&mockConn{remote: "x"}, resB.ClientID)
	assert.False(t, ok)
}

func TestHub_PeersExcludesCaller(t *testing.T) {
	h := New()
	connA := &mockConn{remote: "a"}
	connB := &mockConn{remote: "b"}

	_, err := h.CreateRoom(connA, "R", "alice")
	require.NoError(t, err)
	_, err = h.JoinRoom(connB, "R", "bob")
	require.NoError(t, err)

	peers, ok := h.Peers(connA)
	require.True(t, ok)
	require.Len(t, peers, 1)
	assert.Same(t, connB, peers[0])
}

func TestHub_ClientListDeduplicates(t *testing.T) {
	h := New()
	connA := &mockConn{remote: "a"}
	connB := &mockConn{remote: "b"}

	resA, err := h.CreateRoom(connA, "R", "alice")
	require.NoError(t, err)
	resB, err := h.JoinRoom(connB, "R", "bob")
	require.NoError(t, err)

	// repeated queries keep appending to the known-id list; the returned
	// list must stay deduplicated
	for i := 0; i < 3; i++ {
		list, members, ok := h.ClientList(connB)
		require.True(t, ok)
		assert.Equal(t, []string{resA.ClientID}, list)
		assert.Len(t, members, 2)
	}

	list, _, ok := h.ClientList(connA)
	require.True(t, ok)
	assert.Equal(t, []string{resB.ClientID}, list)
}

func TestHub_ConcurrentIdentityUniqueness(t *testing.T) {
	const n = 100

	h := New()
	type result struct {
		id  string
		err error
	}
	results := make(chan result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.CreateRoom(&mockConn{remote: fmt.Sprintf("c%d", i)}, "R", fmt.Sprintf("user%d", i))
			results <- result{id: res.ClientID, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{}, n)
	for r := range results {
		require.NoError(t, r.err)
		_, dup := seen[r.id]
		require.False(t, dup, "duplicate client id %s", r.id)
		seen[r.id] = struct{}{}
	}
	assert.Len(t, seen, n)
}
