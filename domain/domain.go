package domain

import (
	"encoding/json"
	"errors"
)

// Sentinel errors surfaced by the registry. Handlers decide per error
// whether the caller gets a reply or the message is silently dropped.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrBadPassword   = errors.New("room password mismatch")
	ErrAlreadyJoined = errors.New("connection already joined a room")
)

// Envelope is the inbound message shape. Type is the discriminator; the
// remaining fields are populated per type. Negotiation payloads (offer,
// answer, candidate) and giftNo are carried as raw JSON and never inspected.
type Envelope struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	RoomPassword string          `json:"roomPassword,omitempty"`
	Target       string          `json:"target,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Negotiation  json.RawMessage `json:"negotiation,omitempty"`
	GiftNo       json.RawMessage `json:"giftNo,omitempty"`
	Message      string          `json:"message,omitempty"`
	SenderName   string          `json:"senderName,omitempty"`
	UserType     string          `json:"userType,omitempty"`
}

// RosterEntry is one participant as exposed to clients.
type RosterEntry struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type UserJoinedPayload struct {
	UserID   string        `json:"userId"`
	SocketID string        `json:"socketId"`
	AllUsers []RosterEntry `json:"allUsers"`
}

type UserJoinedMessage struct {
	Type    string            `json:"type"`
	Payload UserJoinedPayload `json:"payload"`
}

type ClientListMessage struct {
	Type string   `json:"type"`
	List []string `json:"list"`
}

type AllUsersMessage struct {
	Type    string        `json:"type"`
	Payload []RosterEntry `json:"payload"`
}

type OfferMessage struct {
	Type         string          `json:"type"`
	PayloadOffer json.RawMessage `json:"payloadOffer"`
	SenderID     string          `json:"senderID"`
	Negotiation  json.RawMessage `json:"negotiation,omitempty"`
}

type AnswerMessage struct {
	Type        string          `json:"type"`
	Answer      json.RawMessage `json:"answer"`
	SenderID    string          `json:"senderID"`
	Negotiation json.RawMessage `json:"negotiation,omitempty"`
}

type CandidateMessage struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	SenderID  string          `json:"senderID"`
}

type ChatMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	SenderID   string `json:"senderID"`
	SenderName string `json:"senderName"`
	UserType   string `json:"userType"`
}

type GiftChatMessage struct {
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	GiftNo     json.RawMessage `json:"giftNo,omitempty"`
	SenderID   string          `json:"senderID"`
	SenderName string          `json:"senderName"`
	UserType   string          `json:"userType"`
}

// Connection is the transport-level handle for one client. Send is
// best-effort: it must not block, and it reports an error instead of
// queueing once the connection is closing.
type Connection interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// JoinResult is the snapshot a successful create/join produces. Members
// holds the live connections of every participant at join time (including
// the joining one) for the userJoined fanout. KnownIDs is the room's
// accumulated identifier list excluding the joining client.
type JoinResult struct {
	ClientID string
	Roster   []RosterEntry
	KnownIDs []string
	Members  []Connection
}

// Registry is the room directory plus the connection registry: all shared
// state lives behind it, keyed either by room name or by the connection
// handle itself.
type Registry interface {
	CreateRoom(conn Connection, roomID, userID string) (JoinResult, error)
	JoinRoom(conn Connection, roomID, userID string) (JoinResult, error)
	JoinRoomWithPassword(conn Connection, roomID, userID, password string) (JoinResult, error)
	SetRoomPassword(roomID, password string) error

	// Session reports the identity bound to conn, if any.
	Session(conn Connection) (clientID, roomID string, ok bool)
	// Resolve finds targetID among the participants of conn's room.
	Resolve(conn Connection, targetID string) (Connection, bool)
	// Peers lists the live connections in conn's room, excluding conn.
	Peers(conn Connection) ([]Connection, bool)
	// ClientList returns the deduplicated known-id list excluding the
	// caller, plus every member connection to broadcast it to.
	ClientList(conn Connection) (list []string, members []Connection, ok bool)

	Disconnect(conn Connection)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
