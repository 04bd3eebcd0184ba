package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeadlineConfig() DeadlineConfig {
	return DeadlineConfig{Schedule: "@every 15m", Lookahead: 24 * time.Hour, DedupWindow: 4 * time.Hour}
}

func TestDeadlineScheduler_DedupWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	T := f.clock.Now()

	due := T.Add(-time.Minute)
	task, err := f.svc.CreateTask(ctx, userC, TaskFields{Title: "Overdue thing", DueDate: &due}, nil)
	require.NoError(t, err)

	s := NewDeadlineScheduler(f.svc, f.resolver, f.notes, testDeadlineConfig())

	report, err := s.RunOnce(ctx, T)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Tasks: 1, Emitted: 1}, report)

	report, err = s.RunOnce(ctx, T.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, RunReport{Tasks: 1, Skipped: 1}, report)

	report, err = s.RunOnce(ctx, T.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, RunReport{Tasks: 1, Emitted: 1}, report)

	notes, err := f.notes.ListForRecipient(ctx, userC, false)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, database.NotificationDeadlineOverdue, n.Type)
		assert.Equal(t, task.ID, n.TaskID)
		assert.Equal(t, "overdue", n.Metadata["urgency"])
	}
}

func TestDeadlineScheduler_ApproachingResolvesTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	soon := now.Add(2*time.Hour + 30*time.Minute)
	_, err := f.svc.CreateTask(ctx, userC, TaskFields{Title: "Ship report", DueDate: &soon},
		[]database.Target{database.TeamTarget("design")})
	require.NoError(t, err)

	far := now.Add(72 * time.Hour)
	_, err = f.svc.CreateTask(ctx, userC, TaskFields{Title: "Later", DueDate: &far}, nil)
	require.NoError(t, err)

	done := f.create(t, userC, "Finished")
	_, err = f.svc.UpdateTaskContent(ctx, userC, done.ID, TaskPatch{DueDate: &soon})
	require.NoError(t, err)
	_, err = f.svc.TransitionCanonicalStatus(ctx, userC, done.ID, database.StatusDone, nil)
	require.NoError(t, err)

	s := NewDeadlineScheduler(f.svc, f.resolver, f.notes, testDeadlineConfig())
	report, err := s.RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Tasks: 1, Emitted: 3}, report)

	for _, who := range []string{userA, userB, userC} {
		notes, err := f.notes.ListForRecipient(ctx, who, false)
		require.NoError(t, err)
		var deadline []database.Notification
		for _, n := range notes {
			if n.Type == database.NotificationDeadlineApproaching {
				deadline = append(deadline, n)
			}
		}
		require.Len(t, deadline, 1, who)
		assert.Equal(t, float64(2), deadline[0].Metadata["hoursRemaining"])
		assert.Equal(t, "approaching", deadline[0].Metadata["urgency"])
	}
}

type fakeTasks struct {
	tasks []*database.Task
	err   error
}

func (f fakeTasks) DueTasks(context.Context, time.Time, time.Duration) ([]*database.Task, error) {
	return f.tasks, f.err
}

type fakeRecipients map[string]Identities

func (f fakeRecipients) Recipients(_ context.Context, task *database.Task) (Identities, error) {
	ids, ok := f[task.ID]
	if !ok {
		return nil, transient("resolve", errDirectoryDown)
	}
	return ids, nil
}

type flakySink struct {
	failFor string
	created []*database.Notification
}

func (s *flakySink) HasRecent(context.Context, string, string, database.NotificationType, time.Time) (bool, error) {
	return false, nil
}

func (s *flakySink) Create(_ context.Context, n *database.Notification) error {
	if n.Recipient == s.failFor {
		return errors.New("sink unavailable")
	}
	s.created = append(s.created, n)
	return nil
}

func TestDeadlineScheduler_FailuresAreIsolated(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(time.Hour)
	tasks := fakeTasks{tasks: []*database.Task{
		{ID: "t1", Title: "one", DueDate: &due, CreatedBy: userC},
		{ID: "t2", Title: "two", DueDate: &due, CreatedBy: userC},
	}}
	recipients := fakeRecipients{"t1": Identities{userA: {}, userB: {}, userC: {}}}
	sink := &flakySink{failFor: userB}

	s := NewDeadlineScheduler(tasks, recipients, sink, testDeadlineConfig())
	report, err := s.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, RunReport{Tasks: 2, Emitted: 2, Failed: 2}, report)
	assert.Len(t, sink.created, 2)

	_, err = NewDeadlineScheduler(fakeTasks{err: errors.New("db locked")}, recipients, sink, testDeadlineConfig()).
		RunOnce(context.Background(), now)
	assert.Error(t, err)
}

func TestDeadlineScheduler_Start(t *testing.T) {
	bad := testDeadlineConfig()
	bad.Schedule = "every now and then"
	s := NewDeadlineScheduler(fakeTasks{}, fakeRecipients{}, &flakySink{}, bad)
	assert.Error(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	s = NewDeadlineScheduler(fakeTasks{}, fakeRecipients{}, &flakySink{}, testDeadlineConfig())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
}

func TestHoursRemaining(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		due  time.Time
		want int
	}{
		{now.Add(2*time.Hour + 59*time.Minute), 2},
		{now.Add(59 * time.Minute), 0},
		{now.Add(24 * time.Hour), 24},
		{now.Add(-3 * time.Hour), 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hoursRemaining(tc.due, now), tc.due.String())
	}
}

func TestDeadlineNotification_Messages(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(30 * time.Minute)
	n := deadlineNotification(&database.Task{ID: "t1", Title: "Ship", DueDate: &due}, userA, now)
	assert.Equal(t, database.NotificationDeadlineApproaching, n.Type)
	assert.Contains(t, n.Message, "less than an hour")
	assert.Equal(t, 0, n.Metadata["hoursRemaining"])

	past := now.Add(-time.Hour)
	n = deadlineNotification(&database.Task{ID: "t1", Title: "Ship", DueDate: &past}, userA, now)
	assert.Equal(t, database.NotificationDeadlineOverdue, n.Type)
	assert.Equal(t, "Task overdue", n.Title)
}
