package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/google/uuid"
)

// Publisher receives committed task changes.
type Publisher interface {
	Publish(event ChangeEvent)
}

// NotificationWriter persists notification records.
type NotificationWriter interface {
	Create(ctx context.Context, n *database.Notification) error
}

// TaskFields are the creator-owned content fields of a new task.
type TaskFields struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	DueDate        *time.Time        `json:"dueDate,omitempty"`
	Priority       database.Priority `json:"priority"`
	ChannelID      *string           `json:"channelId,omitempty"`
	ClientID       *string           `json:"clientId,omitempty"`
	IsRecurring    bool              `json:"isRecurring"`
	RecurrenceRule *string           `json:"recurrenceRule,omitempty"`
}

// TaskPatch is a partial content update. nil means "no change";
// ClearDueDate removes the due date.
type TaskPatch struct {
	Title          *string            `json:"title,omitempty"`
	Description    *string            `json:"description,omitempty"`
	DueDate        *time.Time         `json:"dueDate,omitempty"`
	ClearDueDate   bool               `json:"clearDueDate,omitempty"`
	Priority       *database.Priority `json:"priority,omitempty"`
	ChannelID      *string            `json:"channelId,omitempty"`
	ClientID       *string            `json:"clientId,omitempty"`
	IsRecurring    *bool              `json:"isRecurring,omitempty"`
	RecurrenceRule *string            `json:"recurrenceRule,omitempty"`
}

// TaskService is the single writer of task, assignment and position state.
type TaskService struct {
	repo       *database.TaskRepo
	resolver   *Resolver
	positioner *Positioner
	publisher  Publisher
	notes      NotificationWriter
	now        func() time.Time
}

type TaskServiceOption func(*TaskService)

// WithPublisher fans committed changes out to live clients.
func WithPublisher(p Publisher) TaskServiceOption {
	return func(s *TaskService) { s.publisher = p }
}

// WithAssignmentNotifications writes an "assigned" notification for every
// newly assigned user.
func WithAssignmentNotifications(w NotificationWriter) TaskServiceOption {
	return func(s *TaskService) { s.notes = w }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TaskServiceOption {
	return func(s *TaskService) { s.now = now }
}

func NewTaskService(repo *database.TaskRepo, resolver *Resolver, opts ...TaskServiceOption) *TaskService {
	s := &TaskService{
		repo:       repo,
		resolver:   resolver,
		positioner: NewPositioner(repo),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func dedupeTargets(targets []database.Target) []database.Target {
	seen := map[database.Target]bool{}
	out := make([]database.Target, 0, len(targets))
	for _, t := range targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func validateFields(op string, f *TaskFields) error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return validationf(op, "title is required")
	}
	if f.Priority == "" {
		f.Priority = database.PriorityMedium
	}
	if !f.Priority.Valid() {
		return validationf(op, "unknown priority %q", f.Priority)
	}
	return nil
}

func (s *TaskService) load(ctx context.Context, q database.Querier, op, id string) (*database.Task, error) {
	task, err := s.repo.GetTask(ctx, q, id)
	if errors.Is(err, database.ErrTaskNotFound) {
		return nil, notFound(op, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return task, nil
}

// CreateTask creates a backlog task at the end of the creator's backlog
// column. Every target is resolved first; an unknown user rejects the whole
// call, an empty team does not.
func (s *TaskService) CreateTask(ctx context.Context, creator string, fields TaskFields, targets []database.Target) (*database.Task, error) {
	const op = "create task"
	if err := validateFields(op, &fields); err != nil {
		return nil, err
	}
	targets = dedupeTargets(targets)
	assignees, err := s.resolver.ResolveAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &database.Task{
		ID:             uuid.NewString(),
		Title:          fields.Title,
		Description:    fields.Description,
		DueDate:        fields.DueDate,
		Priority:       fields.Priority,
		Status:         database.StatusBacklog,
		Position:       database.ParkPosition,
		CreatedBy:      creator,
		ChannelID:      fields.ChannelID,
		ClientID:       fields.ClientID,
		IsRecurring:    fields.IsRecurring,
		RecurrenceRule: fields.RecurrenceRule,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var created *database.Task
	var columns []ColumnOrder
	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		for _, t := range targets {
			if err := s.repo.InsertAssignment(ctx, tx, task.ID, t, now); err != nil {
				return err
			}
		}
		if _, err := s.positioner.Reposition(ctx, tx, creator, task.ID, "", database.StatusBacklog, nil); err != nil {
			return err
		}
		if columns, err = s.columnOrders(ctx, tx, creator, database.StatusBacklog); err != nil {
			return err
		}
		created, err = s.repo.GetTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}

	log.Printf("[tasks] %s created task %s with %d targets", creator, created.ID, len(targets))
	audience := Identities{creator: {}}
	for id := range assignees {
		audience.Add(id)
	}
	s.publish(created, creator, []string{"created"}, audience, columns)
	s.notifyAssigned(ctx, created, assignees)
	return created, nil
}

// UpdateTaskContent edits the content fields. Only the creator may call it;
// status and position are never touched.
func (s *TaskService) UpdateTaskContent(ctx context.Context, actor, taskID string, patch TaskPatch) (*database.Task, error) {
	const op = "update task"
	var (
		updated *database.Task
		changed []string
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := s.load(ctx, tx, op, taskID)
		if err != nil {
			return err
		}
		if task.CreatedBy != actor {
			return denied(op, "only the creator may edit a task")
		}

		changed = applyPatch(task, patch)
		fields := TaskFields{Title: task.Title, Priority: task.Priority}
		if err := validateFields(op, &fields); err != nil {
			return err
		}
		task.Title = fields.Title
		if len(changed) == 0 {
			updated = task
			return nil
		}

		if err := s.repo.UpdateContent(ctx, tx, task); err != nil {
			return err
		}
		if err := s.repo.Touch(ctx, tx, task.ID, s.now()); err != nil {
			return err
		}
		updated, err = s.repo.GetTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}
	if len(changed) > 0 {
		s.publish(updated, actor, changed, s.audience(ctx, updated), nil)
	}
	return updated, nil
}

func applyPatch(t *database.Task, p TaskPatch) []string {
	var changed []string
	if p.Title != nil {
		t.Title = *p.Title
		changed = append(changed, "title")
	}
	if p.Description != nil {
		t.Description = *p.Description
		changed = append(changed, "description")
	}
	if p.ClearDueDate {
		t.DueDate = nil
		changed = append(changed, "dueDate")
	} else if p.DueDate != nil {
		d := p.DueDate.UTC()
		t.DueDate = &d
		changed = append(changed, "dueDate")
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
		changed = append(changed, "priority")
	}
	if p.ChannelID != nil {
		t.ChannelID = p.ChannelID
		changed = append(changed, "channelId")
	}
	if p.ClientID != nil {
		t.ClientID = p.ClientID
		changed = append(changed, "clientId")
	}
	if p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
		changed = append(changed, "isRecurring")
	}
	if p.RecurrenceRule != nil {
		t.RecurrenceRule = p.RecurrenceRule
		changed = append(changed, "recurrenceRule")
	}
	return changed
}

// UpdateAssignments adds and removes assignment targets. Only the creator
// may call it. A user's personal status is dropped only once they no longer
// reach the task through any remaining target. Added targets are validated
// like on creation and a failure leaves the task unchanged.
func (s *TaskService) UpdateAssignments(ctx context.Context, actor, taskID string, add, remove []database.Target) (*database.Task, error) {
	const op = "update assignments"
	before, err := s.load(ctx, s.repo.DB(), op, taskID)
	if err != nil {
		return nil, err
	}
	if before.CreatedBy != actor {
		return nil, denied(op, "only the creator may change assignments")
	}

	add = dedupeTargets(add)
	added, err := s.resolver.ResolveAll(ctx, add)
	if err != nil {
		return nil, err
	}
	prior, err := s.resolver.Recipients(ctx, before)
	if err != nil {
		return nil, err
	}
	remove = dedupeTargets(remove)
	remaining, err := s.resolver.Assignees(ctx, withTargets(before, add, remove))
	if err != nil {
		return nil, err
	}

	var updated *database.Task
	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := s.load(ctx, tx, op, taskID)
		if err != nil {
			return err
		}
		if task.CreatedBy != actor {
			return denied(op, "only the creator may change assignments")
		}
		for _, t := range remove {
			if err := s.carryPersonalStatus(ctx, tx, task, t, remaining); err != nil {
				return err
			}
			if err := s.repo.DeleteAssignment(ctx, tx, task.ID, t); err != nil {
				return err
			}
		}
		// Member statuses survive for as long as their user is still an
		// assignee through any target.
		if err := s.repo.PruneMemberStatuses(ctx, tx, task.ID, remaining.Sorted()); err != nil {
			return err
		}
		now := s.now()
		for _, t := range add {
			if err := s.repo.InsertAssignment(ctx, tx, task.ID, t, now); err != nil {
				return err
			}
		}
		if err := s.repo.Touch(ctx, tx, task.ID, now); err != nil {
			return err
		}
		updated, err = s.repo.GetTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}

	audience := s.audience(ctx, updated)
	for id := range prior {
		audience.Add(id)
	}
	s.publish(updated, actor, []string{"assignments"}, audience, nil)

	fresh := Identities{}
	for id := range added {
		if !prior.Has(id) {
			fresh.Add(id)
		}
	}
	s.notifyAssigned(ctx, updated, fresh)
	return updated, nil
}

// withTargets returns a copy of task whose assignments have add applied and
// remove taken away.
func withTargets(task *database.Task, add, remove []database.Target) *database.Task {
	drop := make(map[database.Target]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	next := *task
	next.Assignments = nil
	for _, a := range task.Assignments {
		if !drop[a.Target] {
			next.Assignments = append(next.Assignments, a)
		}
	}
	for _, t := range add {
		next.Assignments = append(next.Assignments, database.Assignment{TaskID: task.ID, Target: t})
	}
	return &next
}

// carryPersonalStatus keeps the personal status of a direct assignee who is
// being unassigned but still reaches the task through a team.
func (s *TaskService) carryPersonalStatus(ctx context.Context, tx *sql.Tx, task *database.Task, target database.Target, remaining Identities) error {
	if target.Kind != database.TargetUser || !remaining.Has(target.Ref) {
		return nil
	}
	for _, a := range task.Assignments {
		if a.Target == target && a.PersonalStatus != nil {
			return s.repo.UpsertMemberStatus(ctx, tx, database.MemberStatus{
				TaskID: task.ID, UserEmail: target.Ref, Status: *a.PersonalStatus,
			})
		}
	}
	return nil
}

// TransitionCanonicalStatus moves the task to another column of the
// creator's board, or to targetIndex within its column. Entering hidden is
// reserved for SoftDelete.
func (s *TaskService) TransitionCanonicalStatus(ctx context.Context, actor, taskID string, status database.Status, targetIndex *int) (*database.Task, error) {
	const op = "transition status"
	if !status.Valid() {
		return nil, validationf(op, "unknown status %q", status)
	}
	if status == database.StatusHidden {
		return nil, validationf(op, "use delete to hide a task")
	}

	var (
		updated *database.Task
		columns []ColumnOrder
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := s.load(ctx, tx, op, taskID)
		if err != nil {
			return err
		}
		if task.CreatedBy != actor {
			return denied(op, "only the creator may change the task status")
		}
		if _, err := s.positioner.Reposition(ctx, tx, task.CreatedBy, task.ID, task.Status, status, targetIndex); err != nil {
			return err
		}
		if err := s.repo.Touch(ctx, tx, task.ID, s.now()); err != nil {
			return err
		}
		if columns, err = s.columnOrders(ctx, tx, task.CreatedBy, task.Status, status); err != nil {
			return err
		}
		updated, err = s.repo.GetTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}
	s.publish(updated, actor, []string{"status", "position"}, s.audience(ctx, updated), columns)
	return updated, nil
}

// TransitionPersonalStatus sets actor's own status on the task. actor must
// currently resolve against one of the assignment targets. The canonical
// status and position are never touched.
func (s *TaskService) TransitionPersonalStatus(ctx context.Context, actor, taskID string, status database.Status) (*database.Task, error) {
	const op = "transition personal status"
	if !status.Valid() {
		return nil, validationf(op, "unknown status %q", status)
	}
	task, err := s.load(ctx, s.repo.DB(), op, taskID)
	if err != nil {
		return nil, err
	}
	member, err := s.resolver.IsMember(ctx, task, actor)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, denied(op, "only assignees may set a personal status")
	}
	teams, err := s.resolver.TeamsOf(ctx, actor)
	if err != nil {
		return nil, err
	}

	var updated *database.Task
	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := s.load(ctx, tx, op, taskID)
		if err != nil {
			return err
		}
		rel := relate(current, actor, teams)
		switch {
		case rel.direct != nil:
			err = s.repo.SetPersonalStatus(ctx, tx, current.ID, actor, status)
		case len(rel.teams) > 0:
			err = s.repo.UpsertMemberStatus(ctx, tx, database.MemberStatus{
				TaskID: current.ID, UserEmail: actor, Status: status,
			})
		default:
			err = denied(op, "assignment was removed")
		}
		if err != nil {
			return err
		}
		if err := s.repo.Touch(ctx, tx, current.ID, s.now()); err != nil {
			return err
		}
		updated, err = s.repo.GetTask(ctx, tx, current.ID)
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}
	s.publish(updated, actor, []string{"personalStatus"}, Identities{actor: {}, updated.CreatedBy: {}}, nil)
	return updated, nil
}

// SoftDelete hides the task. Deleting a hidden task is a no-op.
func (s *TaskService) SoftDelete(ctx context.Context, actor, taskID string) error {
	const op = "delete task"
	var (
		deleted *database.Task
		columns []ColumnOrder
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := s.load(ctx, tx, op, taskID)
		if err != nil {
			return err
		}
		if task.CreatedBy != actor {
			return denied(op, "only the creator may delete a task")
		}
		if task.Status == database.StatusHidden {
			return nil
		}
		if _, err := s.positioner.Reposition(ctx, tx, task.CreatedBy, task.ID, task.Status, database.StatusHidden, nil); err != nil {
			return err
		}
		if err := s.repo.Touch(ctx, tx, task.ID, s.now()); err != nil {
			return err
		}
		if columns, err = s.columnOrders(ctx, tx, task.CreatedBy, task.Status); err != nil {
			return err
		}
		deleted, err = s.repo.GetTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return wrapOp(op, err)
	}
	if deleted != nil {
		log.Printf("[tasks] %s deleted task %s", actor, taskID)
		s.publish(deleted, actor, []string{"status"}, s.audience(ctx, deleted), columns)
	}
	return nil
}

// ListVisible returns every task viewer can see, projected for viewer and
// ordered by column then position.
func (s *TaskService) ListVisible(ctx context.Context, viewer string) ([]TaskView, error) {
	teams, err := s.resolver.TeamsOf(ctx, viewer)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.CandidateTasks(ctx, s.repo.DB(), viewer, teams)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	views := []TaskView{}
	for _, t := range tasks {
		view, ok, err := s.projectFor(ctx, t, viewer, teams)
		if err != nil {
			return nil, err
		}
		if ok {
			views = append(views, view)
		}
	}
	sortViews(views)
	return views, nil
}

// Board groups ListVisible into kanban columns.
func (s *TaskService) Board(ctx context.Context, viewer string) ([]Column, error) {
	views, err := s.ListVisible(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return groupColumns(views), nil
}

// GetVisible projects one task for viewer. The bool is false when the task
// is not in viewer's listing (including when it no longer exists).
func (s *TaskService) GetVisible(ctx context.Context, viewer, taskID string) (TaskView, bool, error) {
	task, err := s.repo.GetTask(ctx, s.repo.DB(), taskID)
	if errors.Is(err, database.ErrTaskNotFound) {
		return TaskView{}, false, nil
	}
	if err != nil {
		return TaskView{}, false, err
	}
	teams, err := s.resolver.TeamsOf(ctx, viewer)
	if err != nil {
		return TaskView{}, false, err
	}
	return s.projectFor(ctx, task, viewer, teams)
}

// View projects a task the caller already holds for viewer, whether or not
// it is in viewer's default listing.
func (s *TaskService) View(ctx context.Context, viewer string, task *database.Task) (TaskView, error) {
	teams, err := s.resolver.TeamsOf(ctx, viewer)
	if err != nil {
		return TaskView{}, err
	}
	view, _, err := s.projectFor(ctx, task, viewer, teams)
	if err != nil {
		return TaskView{}, err
	}
	if view.ID == "" {
		view = TaskView{Task: *task, DisplayStatus: task.Status}
	}
	return view, nil
}

// DueTasks returns open tasks due before now+lookahead, overdue ones
// included.
func (s *TaskService) DueTasks(ctx context.Context, now time.Time, lookahead time.Duration) ([]*database.Task, error) {
	return s.repo.DueTasks(ctx, s.repo.DB(), now.Add(lookahead))
}

func (s *TaskService) projectFor(ctx context.Context, t *database.Task, viewer string, teams []string) (TaskView, bool, error) {
	var statuses []database.MemberStatus
	if rel := relate(t, viewer, teams); !rel.creator && rel.direct == nil && len(rel.teams) > 0 {
		var err error
		if statuses, err = s.repo.MemberStatuses(ctx, s.repo.DB(), t.ID); err != nil {
			return TaskView{}, false, err
		}
	}
	view, ok := project(t, viewer, teams, statuses)
	return view, ok, nil
}

// columnOrders snapshots the position order of the named columns of owner.
func (s *TaskService) columnOrders(ctx context.Context, q database.Querier, owner string, statuses ...database.Status) ([]ColumnOrder, error) {
	var out []ColumnOrder
	seen := map[database.Status]bool{}
	for _, st := range statuses {
		if seen[st] {
			continue
		}
		seen[st] = true
		ids, err := s.repo.ColumnIDs(ctx, q, owner, st)
		if err != nil {
			return nil, err
		}
		out = append(out, ColumnOrder{Status: st, TaskIDs: ids})
	}
	return out, nil
}

// audience is the creator plus the current assignees. Falls back to the
// creator and direct user targets if the directory is unreachable.
func (s *TaskService) audience(ctx context.Context, task *database.Task) Identities {
	ids, err := s.resolver.Recipients(ctx, task)
	if err == nil {
		return ids
	}
	log.Printf("[tasks] resolving audience of %s: %v", task.ID, err)
	ids = Identities{task.CreatedBy: {}}
	for _, a := range task.Assignments {
		if a.Target.Kind == database.TargetUser {
			ids.Add(a.Target.Ref)
		}
	}
	return ids
}

func (s *TaskService) publish(task *database.Task, actor string, fields []string, audience Identities, columns []ColumnOrder) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ChangeEvent{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Owner:    task.CreatedBy,
		Fields:   fields,
		Version:  task.Version,
		Actor:    actor,
		Audience: audience.Sorted(),
		Columns:  columns,
		At:       s.now().UTC(),
	})
}

// notifyAssigned is best effort: the assignment is already committed.
func (s *TaskService) notifyAssigned(ctx context.Context, task *database.Task, recipients Identities) {
	if s.notes == nil {
		return
	}
	for _, r := range recipients.Sorted() {
		if r == task.CreatedBy {
			continue
		}
		n := &database.Notification{
			ID:        uuid.NewString(),
			Recipient: r,
			Type:      database.NotificationAssigned,
			Title:     "New task assigned",
			Message:   fmt.Sprintf("%s assigned you to %q", task.CreatedBy, task.Title),
			TaskID:    task.ID,
			Metadata:  map[string]interface{}{"assignedBy": task.CreatedBy},
			CreatedAt: s.now().UTC(),
		}
		if err := s.notes.Create(ctx, n); err != nil {
			log.Printf("[tasks] failed to notify %s of assignment to %s: %v", r, task.ID, err)
		}
	}
}

// wrapOp leaves taxonomy errors untouched and prefixes everything else.
func wrapOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
