package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"livecast-signaling-server/domain"
	"livecast-signaling-server/metrics"
)

// session is the state bound to one joined connection: its assigned client
// id, the caller-supplied user id, and the room it belongs to.
type session struct {
	id     string
	userID string
	roomID string
	conn   domain.Connection
}

type room struct {
	participants []*session
	passwordHash []byte
	// knownIDs is the append-only identifier list the join reply and the
	// clientList broadcast expose. Every join appends the ids of all
	// current participants; consumers deduplicate.
	knownIDs []string
}

func (r *room) roster() []domain.RosterEntry {
	roster := make([]domain.RosterEntry, 0, len(r.participants))
	for _, s := range r.participants {
		roster = append(roster, domain.RosterEntry{ID: s.id, UserID: s.userID})
	}
	return roster
}

func (r *room) members() []domain.Connection {
	members := make([]domain.Connection, 0, len(r.participants))
	for _, s := range r.participants {
		members = append(members, s.conn)
	}
	return members
}

// Hub is the room directory and the connection registry. All shared state
// is guarded by a single RWMutex; at tens to low hundreds of rooms that is
// cheaper than per-room locking and rules out lock-order bugs.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	clients  map[string]*session
	sessions map[domain.Connection]*session
}

func New() *Hub {
	return &Hub{
		rooms:    make(map[string]*room),
		clients:  make(map[string]*session),
		sessions: make(map[domain.Connection]*session),
	}
}

// SeedRooms pre-creates empty rooms so that joins against a fixed room list
// succeed without an explicit create.
func (h *Hub) SeedRooms(names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		h.ensureRoom(name)
	}
}

// ensureRoom creates the room if absent. Caller holds the write lock.
func (h *Hub) ensureRoom(name string) *room {
	r, exists := h.rooms[name]
	if !exists {
		r = &room{}
		h.rooms[name] = r
		metrics.RoomsActive.Inc()
		slog.Info("room created", "room", name)
	}
	return r
}

// bind assigns a fresh client id to conn and appends it to the room.
// A duplicate id means the generator's uniqueness guarantee broke, which is
// a bug, not a recoverable condition. Caller holds the write lock.
func (h *Hub) bind(conn domain.Connection, roomID, userID string, r *room) *session {
	id := uuid.NewString()
	if _, taken := h.clients[id]; taken {
		panic("hub: client id collision: " + id)
	}
	s := &session{id: id, userID: userID, roomID: roomID, conn: conn}
	h.clients[id] = s
	h.sessions[conn] = s
	r.participants = append(r.participants, s)
	return s
}

// CreateRoom ensures the room exists and joins conn to it. Only the caller
// learns the roster; creation is typically the first member, so there is
// nobody else to notify.
func (h *Hub) CreateRoom(conn domain.Connection, roomID, userID string) (domain.JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := h.sessions[conn]; joined {
		return domain.JoinResult{}, domain.ErrAlreadyJoined
	}

	r := h.ensureRoom(roomID)
	s := h.bind(conn, roomID, userID, r)
	r.knownIDs = append(r.knownIDs, s.id)

	slog.Info("client joined", "room", roomID, "clientId", s.id, "userId", userID, "clients", len(r.participants))
	return domain.JoinResult{ClientID: s.id, Roster: r.roster()}, nil
}

// JoinRoom joins conn to an existing room. Unknown rooms fail with
// ErrRoomNotFound; only create/streamerAdd bring rooms into existence.
func (h *Hub) JoinRoom(conn domain.Connection, roomID, userID string) (domain.JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := h.sessions[conn]; joined {
		return domain.JoinResult{}, domain.ErrAlreadyJoined
	}
	r, exists := h.rooms[roomID]
	if !exists {
		return domain.JoinResult{}, domain.ErrRoomNotFound
	}

	return h.join(conn, roomID, userID, r), nil
}

// JoinRoomWithPassword is the password-gated join. The room is created on
// demand, but only once the password check passes, so a rejected attempt
// leaves no state behind. A room with no password set admits only an empty
// supplied password.
func (h *Hub) JoinRoomWithPassword(conn domain.Connection, roomID, userID, password string) (domain.JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := h.sessions[conn]; joined {
		return domain.JoinResult{}, domain.ErrAlreadyJoined
	}

	r, exists := h.rooms[roomID]
	var hash []byte
	if exists {
		hash = r.passwordHash
	}
	if hash == nil {
		if password != "" {
			return domain.JoinResult{}, domain.ErrBadPassword
		}
	} else if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return domain.JoinResult{}, domain.ErrBadPassword
	}

	if !exists {
		r = h.ensureRoom(roomID)
	}
	return h.join(conn, roomID, userID, r), nil
}

// join binds conn and builds the fanout snapshot. Caller holds the write
// lock and has already validated room existence and password.
func (h *Hub) join(conn domain.Connection, roomID, userID string, r *room) domain.JoinResult {
	s := h.bind(conn, roomID, userID, r)

	for _, p := range r.participants {
		r.knownIDs = append(r.knownIDs, p.id)
	}
	known := make([]string, 0, len(r.knownIDs))
	for _, id := range r.knownIDs {
		if id != s.id {
			known = append(known, id)
		}
	}

	slog.Info("client joined", "room", roomID, "clientId", s.id, "userId", userID, "clients", len(r.participants))
	return domain.JoinResult{
		ClientID: s.id,
		Roster:   r.roster(),
		KnownIDs: known,
		Members:  r.members(),
	}
}

// SetRoomPassword stores a bcrypt hash of password on an existing room.
func (h *Hub) SetRoomPassword(roomID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[roomID]
	if !exists {
		return domain.ErrRoomNotFound
	}
	r.passwordHash = hash
	slog.Info("room password set", "room", roomID)
	return nil
}

func (h *Hub) Session(conn domain.Connection) (clientID, roomID string, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, joined := h.sessions[conn]
	if !joined {
		return "", "", false
	}
	return s.id, s.roomID, true
}

// Resolve finds targetID among the participants of conn's own room. Targets
// outside the caller's room are unreachable by construction.
func (h *Hub) Resolve(conn domain.Connection, targetID string) (domain.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, joined := h.sessions[conn]
	if !joined {
		return nil, false
	}
	r, exists := h.rooms[s.roomID]
	if !exists {
		return nil, false
	}
	for _, p := range r.participants {
		if p.id == targetID {
			return p.conn, true
		}
	}
	return nil, false
}

func (h *Hub) Peers(conn domain.Connection) ([]domain.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, joined := h.sessions[conn]
	if !joined {
		return nil, false
	}
	r, exists := h.rooms[s.roomID]
	if !exists {
		return nil, false
	}
	peers := make([]domain.Connection, 0, len(r.participants))
	for _, p := range r.participants {
		if p.id != s.id {
			peers = append(peers, p.conn)
		}
	}
	return peers, true
}

// ClientList re-appends the current membership to the room's known-id list,
// then returns it deduplicated and without the caller, plus every member
// connection the result should be broadcast to.
func (h *Hub) ClientList(conn domain.Connection) (list []string, members []domain.Connection, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, joined := h.sessions[conn]
	if !joined {
		return nil, nil, false
	}
	r, exists := h.rooms[s.roomID]
	if !exists {
		return nil, nil, false
	}

	for _, p := range r.participants {
		r.knownIDs = append(r.knownIDs, p.id)
	}
	seen := make(map[string]struct{}, len(r.knownIDs))
	list = make([]string, 0, len(r.knownIDs))
	for _, id := range r.knownIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if id != s.id {
			list = append(list, id)
		}
	}
	return list, r.members(), true
}

// Disconnect removes conn's session and participant entry. Safe to call for
// a connection that never joined or was already cleaned up.
func (h *Hub) Disconnect(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, joined := h.sessions[conn]
	if !joined {
		return
	}
	delete(h.sessions, conn)
	delete(h.clients, s.id)

	r, exists := h.rooms[s.roomID]
	if !exists {
		return
	}
	for i, p := range r.participants {
		if p.id == s.id {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	// drop the id from the known list too, so client lists stop naming a
	// participant that can no longer be reached
	known := r.knownIDs[:0]
	for _, id := range r.knownIDs {
		if id != s.id {
			known = append(known, id)
		}
	}
	r.knownIDs = known
	slog.Info("client disconnected", "room", s.roomID, "clientId", s.id, "clients", len(r.participants))

	if len(r.participants) == 0 {
		delete(h.rooms, s.roomID)
		metrics.RoomsActive.Dec()
		slog.Info("room removed", "room", s.roomID)
	}
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.sessions)
}
