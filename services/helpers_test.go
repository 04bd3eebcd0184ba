package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/stretchr/testify/require"
)

const (
	userA = "a@x.com"
	userB = "b@x.com"
	userC = "c@x.com"
	userD = "d@x.com"
)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) Publish(e ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last() ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *TaskService
	repo      *database.TaskRepo
	directory *database.DirectoryStore
	notes     *database.NotificationStore
	resolver  *Resolver
	events    *recorder
	clock     *clock
}

// newFixture seeds users A-D and team "design" with members A and B.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		repo:      database.NewTaskRepo(db),
		directory: database.NewDirectoryStore(db),
		notes:     database.NewNotificationStore(db),
		events:    &recorder{},
		clock:     &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, f.directory.Seed(context.Background(), &database.DirectorySeed{
		Users: []database.User{{Email: userA}, {Email: userB}, {Email: userC}, {Email: userD}},
		Teams: []database.Team{{Tag: "design", Name: "Design", Members: []string{userA, userB}}},
	}))

	f.resolver = NewResolver(f.directory)
	f.svc = NewTaskService(f.repo, f.resolver,
		WithPublisher(f.events),
		WithAssignmentNotifications(f.notes),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) create(t *testing.T, creator, title string, targets ...database.Target) *database.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), creator, TaskFields{Title: title}, targets)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return task
}

func (f *fixture) viewOf(t *testing.T, viewer, taskID string) (TaskView, bool) {
	t.Helper()
	views, err := f.svc.ListVisible(context.Background(), viewer)
	require.NoError(t, err)
	for _, v := range views {
		if v.ID == taskID {
			return v, true
		}
	}
	return TaskView{}, false
}

// requireContiguous checks every column of owner holds positions 0..n-1.
func (f *fixture) requireContiguous(t *testing.T, owner string) {
	t.Helper()
	ctx := context.Background()
	for _, status := range database.Statuses {
		ids, err := f.repo.ColumnIDs(ctx, f.repo.DB(), owner, status)
		require.NoError(t, err)
		for i, id := range ids {
			task, err := f.repo.GetTask(ctx, f.repo.DB(), id)
			require.NoError(t, err)
			require.Equal(t, i, task.Position, "column %s of %s", status, owner)
		}
	}
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
