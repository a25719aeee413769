package chat

import (
	"sync"
	"time"

	"github.com/example/pet-ride/internal/models"
)

// EchoWindow bounds how far apart an optimistic message and an echo without
// a client_id may be and still be treated as the same message.
const EchoWindow = 10 * time.Second

// Thread is the message list for one order.
type Thread struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
}

func NewThread() *Thread { return &Thread{} }

func (t *Thread) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ChatMessage(nil), t.msgs...)
}

func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// AddLocal appends a message the user just sent, before the server has it.
func (t *Thread) AddLocal(m models.ChatMessage) {
	t.mu.Lock()
	t.msgs = append(t.msgs, m)
	t.mu.Unlock()
}

// Merge folds a message from the server into the thread and reports whether
// the list changed. An echo of an optimistic message replaces it in place,
// matched by client_id or, for echoes without one, by content, sender and
// time. Server ids already present are ignored.
func (t *Thread) Merge(m models.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ID != "" {
		for _, x := range t.msgs {
			if x.ID == m.ID {
				return false
			}
		}
	}
	if m.ClientID != "" {
		for i, x := range t.msgs {
			if x.ID == "" && x.ClientID == m.ClientID {
				t.msgs[i] = m
				return true
			}
		}
	} else {
		for i, x := range t.msgs {
			if isEcho(x, m) {
				t.msgs[i] = m
				return true
			}
		}
	}
	t.msgs = append(t.msgs, m)
	return true
}

func isEcho(local, remote models.ChatMessage) bool {
	if local.ID != "" {
		return false
	}
	if local.Message != remote.Message || local.UserID != remote.UserID || local.Role != remote.Role {
		return false
	}
	d := remote.CreatedAt.Sub(local.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= EchoWindow
}
