// Package chat keeps the single websocket used to talk about the active
// order and the message thread it feeds.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/pet-ride/internal/logging"
	"github.com/example/pet-ride/internal/models"
	"github.com/example/pet-ride/internal/observability"
)

var ErrNotConnected = errors.New("chat: not connected")

// Key identifies a conversation. A transport holds at most one.
type Key struct {
	OrderID string
	UserID  string
	Role    models.Role
}

func (k Key) query() string {
	q := url.Values{}
	q.Set("order_id", k.OrderID)
	q.Set("user_id", k.UserID)
	q.Set("role", string(k.Role))
	return q.Encode()
}

const frameTyping = "typing"

type typingFrame struct {
	Type     string      `json:"type"`
	IsTyping bool        `json:"is_typing"`
	UserID   string      `json:"user_id,omitempty"`
	Role     models.Role `json:"role,omitempty"`
}

type inbound struct {
	Type     string `json:"type,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
	models.ChatMessage
}

// Typing is the other party's typing indicator.
type Typing struct {
	UserID   string
	Role     models.Role
	IsTyping bool
}

type Option func(*Transport)

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithToken sets the bearer token source sent on dial.
func WithToken(fn func() string) Option {
	return func(t *Transport) { t.token = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = logging.OrDefault(l) }
}

// OnMessages is called with the full thread after every change.
func OnMessages(fn func([]models.ChatMessage)) Option {
	return func(t *Transport) { t.onMessages = fn }
}

func OnTyping(fn func(Typing)) Option {
	return func(t *Transport) { t.onTyping = fn }
}

type session struct {
	key     Key
	conn    *websocket.Conn
	thread  *Thread
	writeMu sync.Mutex
	done    chan struct{}
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

type Transport struct {
	endpoint   string
	dialer     *websocket.Dialer
	token      func() string
	logger     *slog.Logger
	onMessages func([]models.ChatMessage)
	onTyping   func(Typing)
	now        func() time.Time

	mu  sync.Mutex
	cur *session
}

// NewTransport creates a transport for the chat endpoint, e.g.
// ws://localhost:8080/ws/chat.
func NewTransport(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		endpoint: strings.TrimRight(endpoint, "/"),
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Connect opens the conversation for key. Connecting to the key already open
// is a no-op; any other open connection is closed first.
func (t *Transport) Connect(ctx context.Context, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		select {
		case <-t.cur.done:
		default:
			if t.cur.key == key {
				return nil
			}
		}
		t.closeLocked()
	}

	header := http.Header{}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint+"?"+key.query(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("chat dial: %w", err)
	}
	s := &session{key: key, conn: conn, thread: NewThread(), done: make(chan struct{})}
	t.cur = s
	observability.ChatConnections.Inc()
	t.logger.Info("chat connected", "order_id", key.OrderID, "role", key.Role)
	go t.readLoop(s)
	return nil
}

func (t *Transport) readLoop(s *session) {
	defer func() {
		observability.ChatConnections.Dec()
		close(s.done)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				t.logger.Warn("chat read ended", "order_id", s.key.OrderID, "error", err)
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			t.logger.Warn("chat frame dropped", "order_id", s.key.OrderID, "error", err)
			continue
		}
		if in.Type == frameTyping {
			if in.UserID != s.key.UserID && t.onTyping != nil && t.live(s) {
				t.onTyping(Typing{UserID: in.UserID, Role: in.Role, IsTyping: in.IsTyping})
			}
			continue
		}
		if in.OrderID != "" && in.OrderID != s.key.OrderID {
			continue
		}
		if s.thread.Merge(in.ChatMessage) && t.onMessages != nil && t.live(s) {
			t.onMessages(s.thread.Messages())
		}
	}
}

// live reports whether s is still the open session.
func (t *Transport) live(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur == s
}

func (t *Transport) session() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return nil, ErrNotConnected
	}
	select {
	case <-t.cur.done:
		return nil, ErrNotConnected
	default:
	}
	return t.cur, nil
}

// Send appends text to the thread optimistically and writes it with a fresh
// client_id the server echoes back.
func (t *Transport) Send(text string) (models.ChatMessage, error) {
	s, err := t.session()
	if err != nil {
		return models.ChatMessage{}, err
	}
	m := models.ChatMessage{
		ClientID:  uuid.NewString(),
		Message:   text,
		Role:      s.key.Role,
		UserID:    s.key.UserID,
		OrderID:   s.key.OrderID,
		CreatedAt: t.now().UTC(),
	}
	s.thread.AddLocal(m)
	if t.onMessages != nil {
		t.onMessages(s.thread.Messages())
	}
	if err := s.write(m); err != nil {
		return m, fmt.Errorf("chat send: %w", err)
	}
	return m, nil
}

func (t *Transport) SetTyping(typing bool) error {
	s, err := t.session()
	if err != nil {
		return err
	}
	return s.write(typingFrame{Type: frameTyping, IsTyping: typing, UserID: s.key.UserID, Role: s.key.Role})
}

// Messages returns the thread of the open conversation.
func (t *Transport) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return nil
	}
	return t.cur.thread.Messages()
}

// Key reports the open conversation, if any.
func (t *Transport) Key() (Key, bool) {
	s, err := t.session()
	if err != nil {
		return Key{}, false
	}
	return s.key, true
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transport) closeLocked() {
	if t.cur == nil {
		return
	}
	s := t.cur
	t.cur = nil
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
	t.logger.Info("chat closed", "order_id", s.key.OrderID)
}
