package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/chat"
	"github.com/example/pet-ride/internal/models"
)

func (e *env) chatURL() string {
	return "ws" + strings.TrimPrefix(e.url, "http") + "/ws/chat"
}

func (e *env) transport(user string, opts ...chat.Option) *chat.Transport {
	opts = append(opts, chat.WithToken(func() string { return user }))
	return chat.NewTransport(e.chatURL(), opts...)
}

func TestChatBetweenCustomerAndDriver(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, err := e.client("c1").CreateOrder(ctx, orderRequest("c1", models.PayCash))
	require.NoError(t, err)
	_, err = e.client("d1").AcceptOrder(ctx, o.ID)
	require.NoError(t, err)

	cust := e.transport("c1")
	defer cust.Close()
	require.NoError(t, cust.Connect(ctx, chat.Key{OrderID: o.ID, UserID: "c1", Role: models.RoleCustomer}))

	sent, err := cust.Send("the cat is in a carrier")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := cust.Messages()
		return len(msgs) == 1 && msgs[0].ID != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, sent.ClientID, cust.Messages()[0].ClientID)

	// the driver joins late and still sees the thread
	drv := e.transport("d1")
	defer drv.Close()
	require.NoError(t, drv.Connect(ctx, chat.Key{OrderID: o.ID, UserID: "d1", Role: models.RoleDriver}))
	require.Eventually(t, func() bool { return len(drv.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = drv.Send("ok, 5 minutes")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := cust.Messages()
		return len(msgs) == 2 && msgs[1].Role == models.RoleDriver && msgs[1].UserID == "d1"
	}, time.Second, 5*time.Millisecond)
}

func TestChatRejectsOutsiders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, err := e.client("c1").CreateOrder(ctx, orderRequest("c1", models.PayCash))
	require.NoError(t, err)

	stranger := e.transport("x9")
	defer stranger.Close()
	err = stranger.Connect(ctx, chat.Key{OrderID: o.ID, UserID: "x9", Role: models.RoleCustomer})
	assert.Error(t, err)
}
