package sandbox

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/pet-ride/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// chatSession is one connected party.
type chatSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *chatSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

// chatHub fans messages out to every connection on the same order and keeps
// the history so late joiners see the thread.
type chatHub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[*chatSession]struct{}
	history  map[string][]models.ChatMessage
}

func newChatHub(logger *slog.Logger) *chatHub {
	return &chatHub{
		logger:   logger,
		sessions: make(map[string]map[*chatSession]struct{}),
		history:  make(map[string][]models.ChatMessage),
	}
}

func (h *chatHub) add(orderID string, s *chatSession) []models.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[orderID] == nil {
		h.sessions[orderID] = make(map[*chatSession]struct{})
	}
	h.sessions[orderID][s] = struct{}{}
	return append([]models.ChatMessage(nil), h.history[orderID]...)
}

func (h *chatHub) remove(orderID string, s *chatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions[orderID], s)
	if len(h.sessions[orderID]) == 0 {
		delete(h.sessions, orderID)
	}
}

func (h *chatHub) record(m models.ChatMessage) {
	h.mu.Lock()
	h.history[m.OrderID] = append(h.history[m.OrderID], m)
	h.mu.Unlock()
}

func (h *chatHub) broadcast(orderID string, v any) {
	h.mu.RLock()
	targets := make([]*chatSession, 0, len(h.sessions[orderID]))
	for s := range h.sessions[orderID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.send(v); err != nil {
			h.logger.Warn("chat send failed", "order_id", orderID, "error", err)
		}
	}
}

func (h *chatHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.sessions {
		for s := range set {
			_ = s.conn.Close()
		}
	}
	h.sessions = make(map[string]map[*chatSession]struct{})
}

type chatFrame struct {
	Type     string `json:"type,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
	models.ChatMessage
}

// handleChat joins the caller to the order's conversation. Stored messages
// get a server id; the sender's client_id is echoed back unchanged.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	orderID := r.URL.Query().Get("order_id")
	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	role := models.RoleCustomer
	switch user {
	case o.CustomerID:
	case o.DriverID:
		role = models.RoleDriver
	default:
		writeError(w, http.StatusForbidden, "not a party to this order")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("chat upgrade failed", "order_id", orderID, "error", err)
		return
	}
	sess := &chatSession{conn: conn}
	for _, m := range s.hub.add(orderID, sess) {
		_ = sess.send(m)
	}
	s.logger.Info("chat joined", "order_id", orderID, "user_id", user, "role", role)
	defer func() {
		s.hub.remove(orderID, sess)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in chatFrame
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Warn("chat frame dropped", "order_id", orderID, "error", err)
			continue
		}
		if in.Type == "typing" {
			s.hub.broadcast(orderID, map[string]any{"type": "typing", "is_typing": in.IsTyping, "user_id": user, "role": role})
			continue
		}
		m := in.ChatMessage
		m.ID = uuid.NewString()
		m.OrderID = orderID
		m.UserID = user
		m.Role = role
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now().UTC()
		}
		s.hub.record(m)
		s.hub.broadcast(orderID, m)
	}
}
