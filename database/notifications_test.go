package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationStore_HasRecent(t *testing.T) {
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Notification{
		ID: "n1", Recipient: "a@x.com", Type: NotificationDeadlineApproaching,
		Title: "Deadline approaching", Message: "soon", TaskID: "t1", CreatedAt: base,
	}))

	recent, err := store.HasRecent(ctx, "a@x.com", "t1", NotificationDeadlineApproaching, base.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = store.HasRecent(ctx, "a@x.com", "t1", NotificationDeadlineApproaching, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, recent, "outside the window")

	recent, err = store.HasRecent(ctx, "a@x.com", "t1", NotificationDeadlineOverdue, base.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.False(t, recent, "type is part of the key")

	recent, err = store.HasRecent(ctx, "b@x.com", "t1", NotificationDeadlineApproaching, base.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.False(t, recent, "recipient is part of the key")
}

func TestNotificationStore_ListAndMarkRead(t *testing.T) {
	store := NewNotificationStore(newTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"n1", "n2"} {
		require.NoError(t, store.Create(ctx, &Notification{
			ID: id, Recipient: "a@x.com", Type: NotificationAssigned, Title: "New task assigned",
			TaskID: "t1", Metadata: map[string]interface{}{"assignedBy": "b@x.com"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := store.ListForRecipient(ctx, "a@x.com", true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID, "newest first")
	assert.Equal(t, "b@x.com", list[0].Metadata["assignedBy"])

	require.NoError(t, store.MarkRead(ctx, "a@x.com", "n1"))
	assert.ErrorIs(t, store.MarkRead(ctx, "b@x.com", "n2"), ErrNotificationNotFound)

	list, err = store.ListForRecipient(ctx, "a@x.com", true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n2", list[0].ID)

	list, err = store.ListForRecipient(ctx, "a@x.com", false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
