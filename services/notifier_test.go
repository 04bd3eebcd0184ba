package services

import (
	"context"
	"testing"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProjector shows every task to every viewer.
type staticProjector struct{}

func (staticProjector) GetVisible(_ context.Context, viewer, taskID string) (TaskView, bool, error) {
	return TaskView{Task: database.Task{ID: taskID, Version: 1}, DisplayStatus: database.StatusBacklog}, true, nil
}

func startHub(t *testing.T, p Projector) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	hub.Attach(p)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func next(t *testing.T, sub *Subscription) ReconciledTask {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return ReconciledTask{}
}

func TestHub_DeliversOnlyToAudience(t *testing.T) {
	hub, _ := startHub(t, staticProjector{})
	subA := hub.Subscribe(userA)
	defer subA.Close()

	hub.Publish(ChangeEvent{ID: "e1", TaskID: "t1", Owner: userC, Audience: []string{userB}})
	hub.Publish(ChangeEvent{ID: "e2", TaskID: "t2", Owner: userC, Audience: []string{userA, userC},
		Columns: []ColumnOrder{{Status: database.StatusBacklog, TaskIDs: []string{"t2"}}}})

	u := next(t, subA)
	assert.Equal(t, "e2", u.EventID)
	assert.True(t, u.Visible)
	require.NotNil(t, u.Task)
	assert.Equal(t, "t2", u.Task.ID)
	assert.Empty(t, u.Columns, "column order goes to the owner only")
}

func TestHub_OwnerGetsColumns(t *testing.T) {
	hub, _ := startHub(t, staticProjector{})
	subC := hub.Subscribe(userC)
	defer subC.Close()

	cols := []ColumnOrder{{Status: database.StatusBacklog, TaskIDs: []string{"t1"}}}
	hub.Publish(ChangeEvent{ID: "e1", TaskID: "t1", Owner: userC, Audience: []string{userC}, Columns: cols})

	u := next(t, subC)
	assert.Equal(t, cols, u.Columns)
}

func TestHub_ShutdownClosesSubscriptions(t *testing.T) {
	hub, cancel := startHub(t, staticProjector{})
	sub := hub.Subscribe(userA)

	cancel()
	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on shutdown")
	}

	// Neither call blocks once the hub is gone.
	sub.Close()
	hub.Publish(ChangeEvent{ID: "late"})
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub, _ := startHub(t, staticProjector{})
	sub := hub.Subscribe(userA)
	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestHub_WithTaskService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hub, _ := startHub(t, nil)
	svc := NewTaskService(f.repo, f.resolver, WithPublisher(hub), WithClock(f.clock.Now))
	hub.Attach(svc)

	subB := hub.Subscribe(userB)
	defer subB.Close()

	task, err := svc.CreateTask(ctx, userC, TaskFields{Title: "Ship report"},
		[]database.Target{database.TeamTarget("design")})
	require.NoError(t, err)

	u := next(t, subB)
	assert.Equal(t, task.ID, u.TaskID)
	require.True(t, u.Visible)
	assert.Equal(t, database.StatusBacklog, u.Task.DisplayStatus)
	assert.Equal(t, PerspectiveAssignee, u.Task.Perspective)

	_, err = svc.UpdateAssignments(ctx, userC, task.ID, nil, []database.Target{database.TeamTarget("design")})
	require.NoError(t, err)

	u = next(t, subB)
	assert.Equal(t, task.ID, u.TaskID)
	assert.False(t, u.Visible, "B lost access and is told to drop the task")
	assert.Nil(t, u.Task)
}
