package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/models"
)

// echoServer stores each message, stamps an id and sends it back to every
// connection on the same order.
type echoServer struct {
	stripClientID bool

	mu     sync.Mutex
	conns  map[*websocket.Conn]string
	opened atomic.Int32
	closed atomic.Int32
	seq    atomic.Int32
	auth   atomic.Value
}

func newEchoServer(t *testing.T, strip bool) (*echoServer, string) {
	t.Helper()
	es := &echoServer{stripClientID: strip, conns: map[*websocket.Conn]string{}}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.auth.Store(r.Header.Get("Authorization"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		order := r.URL.Query().Get("order_id")
		es.mu.Lock()
		es.conns[conn] = order
		es.mu.Unlock()
		es.opened.Add(1)
		defer func() {
			es.mu.Lock()
			delete(es.conns, conn)
			es.mu.Unlock()
			es.closed.Add(1)
			conn.Close()
		}()
		for {
			var in inbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			var out any = in
			if in.Type != frameTyping {
				m := in.ChatMessage
				m.ID = fmt.Sprintf("srv-%d", es.seq.Add(1))
				if es.stripClientID {
					m.ClientID = ""
				}
				out = m
			}
			es.broadcast(order, out)
		}
	}))
	t.Cleanup(srv.Close)
	return es, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
}

func (es *echoServer) broadcast(order string, v any) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for c, o := range es.conns {
		if o == order {
			_ = c.WriteJSON(v)
		}
	}
}

var customer = Key{OrderID: "o1", UserID: "c1", Role: models.RoleCustomer}

func TestTransport_SendIsReplacedByEcho(t *testing.T) {
	for _, strip := range []bool{false, true} {
		t.Run(fmt.Sprintf("strip_client_id=%v", strip), func(t *testing.T) {
			es, url := newEchoServer(t, strip)
			tr := NewTransport(url, WithToken(func() string { return "c1" }))
			defer tr.Close()
			require.NoError(t, tr.Connect(context.Background(), customer))

			sent, err := tr.Send("leaving now")
			require.NoError(t, err)
			assert.NotEmpty(t, sent.ClientID)

			require.Eventually(t, func() bool {
				msgs := tr.Messages()
				return len(msgs) == 1 && msgs[0].ID != ""
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, "leaving now", tr.Messages()[0].Message)
			assert.Equal(t, "Bearer c1", es.auth.Load())
		})
	}
}

func TestTransport_OneConnectionPerKey(t *testing.T) {
	es, url := newEchoServer(t, false)
	tr := NewTransport(url)
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx, customer))
	require.NoError(t, tr.Connect(ctx, customer))
	require.Eventually(t, func() bool { return es.opened.Load() == 1 }, time.Second, 5*time.Millisecond)

	next := Key{OrderID: "o2", UserID: "c1", Role: models.RoleCustomer}
	require.NoError(t, tr.Connect(ctx, next))
	require.Eventually(t, func() bool { return es.opened.Load() == 2 && es.closed.Load() == 1 }, time.Second, 5*time.Millisecond)

	k, ok := tr.Key()
	require.True(t, ok)
	assert.Equal(t, "o2", k.OrderID)
	assert.Empty(t, tr.Messages(), "a new order starts a new thread")

	require.NoError(t, tr.Close())
	_, err := tr.Send("hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTransport_TypingFromOtherParty(t *testing.T) {
	_, url := newEchoServer(t, false)
	var got atomic.Value
	driver := NewTransport(url, OnTyping(func(ty Typing) { got.Store(ty) }))
	defer driver.Close()
	cust := NewTransport(url)
	defer cust.Close()

	ctx := context.Background()
	require.NoError(t, driver.Connect(ctx, Key{OrderID: "o1", UserID: "d1", Role: models.RoleDriver}))
	require.NoError(t, cust.Connect(ctx, customer))

	require.Eventually(t, func() bool {
		_ = cust.SetTyping(true)
		v, ok := got.Load().(Typing)
		return ok && v.IsTyping && v.UserID == "c1"
	}, time.Second, 10*time.Millisecond)
}

func TestTransport_OnMessagesSeesBothParties(t *testing.T) {
	es, url := newEchoServer(t, false)
	var mu sync.Mutex
	var last []models.ChatMessage
	driver := NewTransport(url, OnMessages(func(m []models.ChatMessage) {
		mu.Lock()
		last = m
		mu.Unlock()
	}))
	defer driver.Close()
	cust := NewTransport(url)
	defer cust.Close()

	ctx := context.Background()
	require.NoError(t, driver.Connect(ctx, Key{OrderID: "o1", UserID: "d1", Role: models.RoleDriver}))
	require.NoError(t, cust.Connect(ctx, customer))
	require.Eventually(t, func() bool { return es.opened.Load() == 2 }, time.Second, 5*time.Millisecond)

	_, err := cust.Send("is the cat carrier ok?")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Role == models.RoleCustomer
	}, time.Second, 5*time.Millisecond)
}
