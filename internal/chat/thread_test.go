package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/models"
)

func msg(text string, at time.Time) models.ChatMessage {
	return models.ChatMessage{Message: text, Role: models.RoleCustomer, UserID: "c1", OrderID: "o1", CreatedAt: at}
}

func TestMerge_EchoWithoutKeyReplacesOptimistic(t *testing.T) {
	now := time.Now()
	th := NewThread()
	th.AddLocal(msg("on my way", now))

	echo := msg("on my way", now.Add(2*time.Second))
	echo.ID = "srv-1"
	assert.True(t, th.Merge(echo))

	got := th.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
}

func TestMerge_ClientIDMatch(t *testing.T) {
	now := time.Now()
	th := NewThread()
	local := msg("hi", now)
	local.ClientID = "k1"
	th.AddLocal(local)
	th.AddLocal(msg("hi", now))

	echo := msg("hi", now.Add(time.Minute))
	echo.ID, echo.ClientID = "srv-1", "k1"
	th.Merge(echo)

	got := th.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Empty(t, got[1].ID, "keyed echoes never match heuristically")
}

func TestMerge_DistinctMessagesAppend(t *testing.T) {
	now := time.Now()
	th := NewThread()
	th.AddLocal(msg("hi", now))

	other := msg("hi", now.Add(30*time.Second))
	other.ID = "srv-2"
	th.Merge(other)

	fromDriver := msg("hi", now)
	fromDriver.ID, fromDriver.Role, fromDriver.UserID = "srv-3", models.RoleDriver, "d1"
	th.Merge(fromDriver)

	assert.Equal(t, 3, th.Len())
}

func TestMerge_KnownServerIDIgnored(t *testing.T) {
	th := NewThread()
	m := msg("hi", time.Now())
	m.ID = "srv-1"
	assert.True(t, th.Merge(m))
	assert.False(t, th.Merge(m))
	assert.Equal(t, 1, th.Len())
}
