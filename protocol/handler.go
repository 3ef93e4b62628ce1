package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"

	"livecast-signaling-server/domain"
	"livecast-signaling-server/metrics"
)

const payloadRoomNotFound = "roomDNE"

// Handler decodes inbound envelopes and routes them to the matching relay
// handler. A handler never closes the connection: malformed input and
// unknown types are logged and dropped.
type Handler struct {
	registry domain.Registry
}

func NewHandler(r domain.Registry) *Handler {
	return &Handler{registry: r}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	fn, known := h.route(msg.Type)
	if !known {
		slog.Info("unknown message type", "remote", conn.RemoteAddr(), "type", msg.Type)
		return
	}
	metrics.MessagesTotal.WithLabelValues(msg.Type).Inc()
	fn(conn, &msg)
}

func (h *Handler) route(msgType string) (func(domain.Connection, *domain.Envelope), bool) {
	switch msgType {
	case "joinRoom":
		return h.handleJoinRoom, true
	case "createRoom":
		return h.handleCreateRoom, true
	case "streamerAdd":
		return h.handleStreamerAdd, true
	case "roomPasswordAdd":
		return h.handleRoomPasswordAdd, true
	case "offer":
		return h.handleOffer, true
	case "answer":
		return h.handleAnswer, true
	case "iceCandidate":
		return h.handleIceCandidate, true
	case "clientList":
		return h.handleClientList, true
	case "chat":
		return h.handleChat, true
	case "giftChat":
		return h.handleGiftChat, true
	case "disconnect":
		return h.handleDisconnect, true
	}
	return nil, false
}

// send marshals v and pushes it to conn, best effort. Failures mean the
// connection is closing or its buffer is full; either way the message is
// dropped, never queued.
func send(conn domain.Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal error", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Debug("send dropped", "remote", conn.RemoteAddr(), "error", err)
	}
}

func (h *Handler) handleCreateRoom(conn domain.Connection, msg *domain.Envelope) {
	res, err := h.registry.CreateRoom(conn, msg.RoomID, msg.UserID)
	if err != nil {
		slog.Warn("create rejected", "room", msg.RoomID, "error", err)
		return
	}
	send(conn, domain.AllUsersMessage{Type: "allUsers", Payload: res.Roster})
}

func (h *Handler) handleJoinRoom(conn domain.Connection, msg *domain.Envelope) {
	res, err := h.registry.JoinRoom(conn, msg.RoomID, msg.UserID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		send(conn, domain.ErrorMessage{Type: "error", Payload: payloadRoomNotFound})
		return
	}
	if err != nil {
		slog.Warn("join rejected", "room", msg.RoomID, "error", err)
		return
	}
	h.announceJoin(conn, msg.UserID, res)
}

func (h *Handler) handleStreamerAdd(conn domain.Connection, msg *domain.Envelope) {
	res, err := h.registry.JoinRoomWithPassword(conn, msg.RoomID, msg.UserID, msg.RoomPassword)
	if errors.Is(err, domain.ErrBadPassword) {
		// No reply on a wrong password: clients are not told whether the
		// room exists or what went wrong.
		slog.Debug("password mismatch", "room", msg.RoomID, "remote", conn.RemoteAddr())
		return
	}
	if err != nil {
		slog.Warn("streamer add rejected", "room", msg.RoomID, "error", err)
		return
	}
	h.announceJoin(conn, msg.UserID, res)
}

// announceJoin broadcasts userJoined to every member (the joining client
// included) and replies to the joiner with the known-id list, once under
// each of its two historical names, plus the full roster.
func (h *Handler) announceJoin(conn domain.Connection, userID string, res domain.JoinResult) {
	joined := domain.UserJoinedMessage{
		Type: "userJoined",
		Payload: domain.UserJoinedPayload{
			UserID:   userID,
			SocketID: res.ClientID,
			AllUsers: res.Roster,
		},
	}
	for _, member := range res.Members {
		send(member, joined)
	}

	send(conn, domain.ClientListMessage{Type: "clientList", List: res.KnownIDs})
	send(conn, domain.ClientListMessage{Type: "initialClientList", List: res.KnownIDs})
	send(conn, domain.AllUsersMessage{Type: "allUsers", Payload: res.Roster})
}

func (h *Handler) handleRoomPasswordAdd(conn domain.Connection, msg *domain.Envelope) {
	err := h.registry.SetRoomPassword(msg.RoomID, msg.RoomPassword)
	if errors.Is(err, domain.ErrRoomNotFound) {
		send(conn, domain.ErrorMessage{Type: "error", Payload: payloadRoomNotFound})
		return
	}
	if err != nil {
		slog.Warn("set password failed", "room", msg.RoomID, "error", err)
	}
}

func (h *Handler) handleOffer(conn domain.Connection, msg *domain.Envelope) {
	senderID, target, ok := h.resolveTarget(conn, msg.Target)
	if !ok {
		return
	}
	send(target, domain.OfferMessage{
		Type:         "offer",
		PayloadOffer: msg.Offer,
		SenderID:     senderID,
		Negotiation:  msg.Negotiation,
	})
}

func (h *Handler) handleAnswer(conn domain.Connection, msg *domain.Envelope) {
	senderID, target, ok := h.resolveTarget(conn, msg.Target)
	if !ok {
		return
	}
	send(target, domain.AnswerMessage{
		Type:        "answer",
		Answer:      msg.Answer,
		SenderID:    senderID,
		Negotiation: msg.Negotiation,
	})
}

func (h *Handler) handleIceCandidate(conn domain.Connection, msg *domain.Envelope) {
	senderID, target, ok := h.resolveTarget(conn, msg.Target)
	if !ok {
		return
	}
	send(target, domain.CandidateMessage{
		Type:      "candidate",
		Candidate: msg.Candidate,
		SenderID:  senderID,
	})
}

// resolveTarget maps a targeted relay to its destination. A missing sender
// session or an unreachable target is an expected race (the peer may have
// just disconnected), so the relay is silently dropped.
func (h *Handler) resolveTarget(conn domain.Connection, targetID string) (senderID string, target domain.Connection, ok bool) {
	senderID, _, joined := h.registry.Session(conn)
	if !joined {
		slog.Debug("relay from unjoined connection", "remote", conn.RemoteAddr())
		return "", nil, false
	}
	target, found := h.registry.Resolve(conn, targetID)
	if !found {
		metrics.RelayDroppedTotal.Inc()
		slog.Debug("relay target unavailable", "target", targetID, "senderId", senderID)
		return "", nil, false
	}
	return senderID, target, true
}

func (h *Handler) handleClientList(conn domain.Connection, _ *domain.Envelope) {
	list, members, ok := h.registry.ClientList(conn)
	if !ok {
		slog.Debug("client list from unjoined connection", "remote", conn.RemoteAddr())
		return
	}
	out := domain.ClientListMessage{Type: "clientList", List: list}
	for _, member := range members {
		send(member, out)
	}
}

func (h *Handler) handleChat(conn domain.Connection, msg *domain.Envelope) {
	senderID, peers, ok := h.senderAndPeers(conn)
	if !ok {
		return
	}
	out := domain.ChatMessage{
		Type:       "chat",
		Message:    msg.Message,
		SenderID:   senderID,
		SenderName: msg.SenderName,
		UserType:   msg.UserType,
	}
	for _, peer := range peers {
		send(peer, out)
	}
}

func (h *Handler) handleGiftChat(conn domain.Connection, msg *domain.Envelope) {
	senderID, peers, ok := h.senderAndPeers(conn)
	if !ok {
		return
	}
	out := domain.GiftChatMessage{
		Type:       "giftChat",
		Message:    msg.Message,
		GiftNo:     msg.GiftNo,
		SenderID:   senderID,
		SenderName: msg.SenderName,
		UserType:   msg.UserType,
	}
	for _, peer := range peers {
		send(peer, out)
	}
}

func (h *Handler) senderAndPeers(conn domain.Connection) (string, []domain.Connection, bool) {
	senderID, _, joined := h.registry.Session(conn)
	if !joined {
		slog.Debug("broadcast from unjoined connection", "remote", conn.RemoteAddr())
		return "", nil, false
	}
	peers, _ := h.registry.Peers(conn)
	return senderID, peers, true
}

func (h *Handler) handleDisconnect(conn domain.Connection, _ *domain.Envelope) {
	h.registry.Disconnect(conn)
}
