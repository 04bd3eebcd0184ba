package database

import (
	"fmt"
	"strings"
	"time"
)

// Status is a kanban column / workflow state.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusHidden     Status = "hidden"
)

// Statuses lists every status in board order.
var Statuses = []Status{StatusBacklog, StatusInProgress, StatusReview, StatusDone, StatusHidden}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TargetKind tags an assignment target.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetTeam TargetKind = "team"
)

// Target is an assignment target: a single user identity or a team tag.
type Target struct {
	Kind TargetKind `json:"kind"`
	Ref  string     `json:"ref"`
}

func UserTarget(email string) Target { return Target{Kind: TargetUser, Ref: email} }
func TeamTarget(tag string) Target   { return Target{Kind: TargetTeam, Ref: tag} }

// String returns the wire form, "user:<email>" or "team:<tag>".
func (t Target) String() string {
	return string(t.Kind) + ":" + t.Ref
}

// ParseTarget parses the wire form of a target. A bare value containing "@"
// is accepted as a user target.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	kind, ref, ok := strings.Cut(s, ":")
	if !ok {
		if strings.Contains(s, "@") {
			return UserTarget(s), nil
		}
		return Target{}, fmt.Errorf("target %q has no kind prefix", s)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Target{}, fmt.Errorf("target %q has an empty reference", s)
	}
	switch TargetKind(kind) {
	case TargetUser:
		return UserTarget(ref), nil
	case TargetTeam:
		return TeamTarget(ref), nil
	}
	return Target{}, fmt.Errorf("target %q has unknown kind %q", s, kind)
}

// Task is a unit of work. Status and Position belong to the creator.
type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	Position       int        `json:"position"`
	CreatedBy      string     `json:"createdBy"`
	ChannelID      *string    `json:"channelId,omitempty"`
	ClientID       *string    `json:"clientId,omitempty"`
	IsRecurring    bool       `json:"isRecurring"`
	RecurrenceRule *string    `json:"recurrenceRule,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Assignments []Assignment `json:"assignments"`
}

// Assignment links a target to a task. PersonalStatus is only ever set for
// user targets.
type Assignment struct {
	TaskID         string    `json:"taskId"`
	Target         Target    `json:"target"`
	PersonalStatus *Status   `json:"personalStatus,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MemberStatus is an explicit personal status chosen by a user who reaches
// the task through a team assignment rather than a direct one. It belongs to
// the user, not to any one team, and lasts as long as the user is still an
// assignee through some target.
type MemberStatus struct {
	TaskID    string `json:"taskId"`
	UserEmail string `json:"userEmail"`
	Status    Status `json:"status"`
}

type NotificationType string

const (
	NotificationDeadlineApproaching NotificationType = "deadline_approaching"
	NotificationDeadlineOverdue     NotificationType = "deadline_overdue"
	NotificationAssigned            NotificationType = "assigned"
)

type Notification struct {
	ID        string                 `json:"id"`
	Recipient string                 `json:"recipient"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	TaskID    string                 `json:"taskId"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"createdAt"`
	Read      bool                   `json:"read"`
}

// User and Team are the directory rows consulted by the resolver.
type User struct {
	Email       string `json:"email" yaml:"email"`
	DisplayName string `json:"displayName" yaml:"displayName"`
}

type Team struct {
	Tag     string   `json:"tag" yaml:"tag"`
	Name    string   `json:"name" yaml:"name"`
	Members []string `json:"members" yaml:"members"`
}
