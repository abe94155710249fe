package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	h := NewHub(false)

	var events []Event
	unsubscribe := h.Subscribe(func(ev Event) {
		events = append(events, ev)
	})

	assert.True(t, h.SetOnline(true))
	assert.False(t, h.SetOnline(true), "unchanged connectivity is not an event")
	h.SetSyncing(true, 3)
	h.Notify(LevelError, "save failed")

	require.Len(t, events, 3)
	assert.Equal(t, EventOnline, events[0].Kind)
	assert.True(t, events[0].Online)
	assert.Equal(t, EventSyncing, events[1].Kind)
	assert.Equal(t, EventNotification, events[2].Kind)
	assert.Equal(t, "save failed", events[2].Notification.Message)

	unsubscribe()
	h.SetOnline(false)
	assert.Len(t, events, 3)
	assert.False(t, h.Online())
}

func TestHub_SyncState(t *testing.T) {
	h := NewHub(true)
	h.SetSyncing(true, 2)
	assert.True(t, h.State().Syncing)
	assert.Equal(t, 2, h.State().Pending)
	assert.True(t, h.State().LastSync.IsZero())

	h.SetSyncing(false, 0)
	s := h.State()
	assert.False(t, s.Syncing)
	assert.False(t, s.LastSync.IsZero())
}

func TestHub_NotificationsAreBounded(t *testing.T) {
	h := NewHub(true)
	for i := 0; i < maxNotifications+5; i++ {
		h.Notify(LevelInfo, "n")
	}
	assert.Len(t, h.Notifications(), maxNotifications)
}

func TestHub_Dismiss(t *testing.T) {
	h := NewHub(true)
	n := h.Notify(LevelWarning, "queue stalled")
	assert.True(t, h.Dismiss(n.ID))
	assert.False(t, h.Dismiss(n.ID))
	assert.Empty(t, h.Notifications())
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	h := NewHub(true)
	calls := 0
	h.Subscribe(func(Event) { calls++ })

	h.Close()
	h.SetOnline(false)
	h.Notify(LevelInfo, "ignored")

	assert.Zero(t, calls)
	assert.True(t, h.Online())
	assert.Empty(t, h.Notifications())
}
