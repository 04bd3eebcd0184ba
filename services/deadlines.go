package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DueTaskSource lists open tasks whose due date is past or near.
type DueTaskSource interface {
	DueTasks(ctx context.Context, now time.Time, lookahead time.Duration) ([]*database.Task, error)
}

// RecipientResolver expands a task into the users who should hear about it.
type RecipientResolver interface {
	Recipients(ctx context.Context, task *database.Task) (Identities, error)
}

// NotificationSink stores notifications and answers de-duplication lookups.
type NotificationSink interface {
	HasRecent(ctx context.Context, recipient, taskID string, typ database.NotificationType, since time.Time) (bool, error)
	Create(ctx context.Context, n *database.Notification) error
}

type DeadlineConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 15m".
	Schedule    string
	Lookahead   time.Duration
	DedupWindow time.Duration
}

// RunReport summarizes one scan.
type RunReport struct {
	Tasks   int `json:"tasks"`
	Emitted int `json:"emitted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DeadlineScheduler periodically notifies creators and assignees of tasks
// that are overdue or due within the lookahead window.
type DeadlineScheduler struct {
	tasks    DueTaskSource
	resolver RecipientResolver
	sink     NotificationSink
	cfg      DeadlineConfig
	now      func() time.Time
	cron     *cron.Cron
}

func NewDeadlineScheduler(tasks DueTaskSource, resolver RecipientResolver, sink NotificationSink, cfg DeadlineConfig) *DeadlineScheduler {
	return &DeadlineScheduler{
		tasks:    tasks,
		resolver: resolver,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start registers the scan on the configured schedule. The scheduler stops
// when ctx is cancelled. Overlapping runs are skipped.
func (s *DeadlineScheduler) Start(ctx context.Context) error {
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		report, err := s.RunOnce(ctx, s.now())
		if err != nil {
			log.Printf("[deadlines] run failed, retrying next tick: %v", err)
			return
		}
		log.Printf("[deadlines] scanned %d tasks: %d emitted, %d skipped, %d failed",
			report.Tasks, report.Emitted, report.Skipped, report.Failed)
	}); err != nil {
		return fmt.Errorf("invalid deadline schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	log.Printf("[deadlines] started (%s, lookahead %s, dedup %s)", s.cfg.Schedule, s.cfg.Lookahead, s.cfg.DedupWindow)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running scan to finish.
func (s *DeadlineScheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[deadlines] stop timeout waiting for running scan")
	}
}

// RunOnce performs one scan at now. Failing to list tasks fails the run;
// failures for a single task or recipient are logged and skipped.
func (s *DeadlineScheduler) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	var report RunReport
	now = now.UTC()

	tasks, err := s.tasks.DueTasks(ctx, now, s.cfg.Lookahead)
	if err != nil {
		return report, fmt.Errorf("list due tasks: %w", err)
	}
	report.Tasks = len(tasks)

	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		recipients, err := s.resolver.Recipients(ctx, task)
		if err != nil {
			log.Printf("[deadlines] resolving recipients of %s: %v", task.ID, err)
			report.Failed++
			continue
		}
		for _, recipient := range recipients.Sorted() {
			switch err := s.notify(ctx, task, recipient, now); err {
			case nil:
				report.Emitted++
			case errDuplicate:
				report.Skipped++
			default:
				log.Printf("[deadlines] notifying %s of %s: %v", recipient, task.ID, err)
				report.Failed++
			}
		}
	}
	return report, nil
}

var errDuplicate = errors.New("notified within dedup window")

func (s *DeadlineScheduler) notify(ctx context.Context, task *database.Task, recipient string, now time.Time) error {
	n := deadlineNotification(task, recipient, now)

	recent, err := s.sink.HasRecent(ctx, recipient, task.ID, n.Type, now.Add(-s.cfg.DedupWindow))
	if err != nil {
		return transient("deadline dedup", err)
	}
	if recent {
		return errDuplicate
	}
	if err := s.sink.Create(ctx, n); err != nil {
		return transient("deadline notify", err)
	}
	return nil
}

// hoursRemaining is floor((due-now)/1h), never negative.
func hoursRemaining(due, now time.Time) int {
	h := math.Floor(due.Sub(now).Hours())
	if h < 0 {
		return 0
	}
	return int(h)
}

func deadlineNotification(task *database.Task, recipient string, now time.Time) *database.Notification {
	due := task.DueDate.UTC()
	n := &database.Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		TaskID:    task.ID,
		CreatedAt: now,
	}

	if due.Before(now) {
		n.Type = database.NotificationDeadlineOverdue
		n.Title = "Task overdue"
		n.Message = fmt.Sprintf("%q was due %s", task.Title, due.Format(time.RFC1123))
		n.Metadata = map[string]interface{}{
			"dueDate":        due.Format(time.RFC3339),
			"hoursRemaining": 0,
			"urgency":        "overdue",
		}
		return n
	}

	hours := hoursRemaining(due, now)
	n.Type = database.NotificationDeadlineApproaching
	n.Title = "Deadline approaching"
	if hours == 0 {
		n.Message = fmt.Sprintf("%q is due in less than an hour", task.Title)
	} else {
		n.Message = fmt.Sprintf("%q is due in %d hours", task.Title, hours)
	}
	n.Metadata = map[string]interface{}{
		"dueDate":        due.Format(time.RFC3339),
		"hoursRemaining": hours,
		"urgency":        "approaching",
	}
	return n
}
