package services

import (
	"context"
	"errors"
	"sort"

	"github.com/IRCHrocks25/KatCon-sub001/database"
)

// DirectorySource is the external user/team directory.
type DirectorySource interface {
	UserExists(ctx context.Context, email string) (bool, error)
	TeamMembers(ctx context.Context, tag string) ([]string, error)
	TeamsOf(ctx context.Context, email string) ([]string, error)
}

// Resolver turns assignment targets into user identities. Team membership is
// read live on every call and never snapshotted.
type Resolver struct {
	source DirectorySource
}

func NewResolver(source DirectorySource) *Resolver {
	return &Resolver{source: source}
}

// Identities is a set of user emails.
type Identities map[string]struct{}

func (ids Identities) Add(email string) { ids[email] = struct{}{} }

func (ids Identities) Has(email string) bool {
	_, ok := ids[email]
	return ok
}

// Sorted returns the members in lexical order.
func (ids Identities) Sorted() []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the identities behind one target. Unknown users are a
// validation error; unknown or empty teams resolve to nobody. Directory
// failures are transient.
func (r *Resolver) Resolve(ctx context.Context, target database.Target) (Identities, error) {
	const op = "resolve"
	ids := Identities{}
	switch target.Kind {
	case database.TargetUser:
		ok, err := r.source.UserExists(ctx, target.Ref)
		if err != nil {
			return nil, transient(op, err)
		}
		if !ok {
			return nil, validationf(op, "unknown user %q", target.Ref)
		}
		ids.Add(target.Ref)
	case database.TargetTeam:
		members, err := r.source.TeamMembers(ctx, target.Ref)
		if err != nil {
			return nil, transient(op, err)
		}
		for _, m := range members {
			ids.Add(m)
		}
	default:
		return nil, validationf(op, "unknown target kind %q", target.Kind)
	}
	return ids, nil
}

// ResolveAll resolves every target, failing on the first error.
func (r *Resolver) ResolveAll(ctx context.Context, targets []database.Target) (Identities, error) {
	all := Identities{}
	for _, t := range targets {
		ids, err := r.Resolve(ctx, t)
		if err != nil {
			return nil, err
		}
		for id := range ids {
			all.Add(id)
		}
	}
	return all, nil
}

// Assignees resolves the current assignees of a task. Direct user targets
// whose user has since left the directory are skipped rather than failing.
func (r *Resolver) Assignees(ctx context.Context, task *database.Task) (Identities, error) {
	all := Identities{}
	for _, a := range task.Assignments {
		ids, err := r.Resolve(ctx, a.Target)
		if errors.Is(err, ErrValidation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for id := range ids {
			all.Add(id)
		}
	}
	return all, nil
}

// Recipients is the creator plus every current assignee.
func (r *Resolver) Recipients(ctx context.Context, task *database.Task) (Identities, error) {
	ids, err := r.Assignees(ctx, task)
	if err != nil {
		return nil, err
	}
	ids.Add(task.CreatedBy)
	return ids, nil
}

// TeamsOf returns the teams email currently belongs to.
func (r *Resolver) TeamsOf(ctx context.Context, email string) ([]string, error) {
	tags, err := r.source.TeamsOf(ctx, email)
	if err != nil {
		return nil, transient("teams", err)
	}
	return tags, nil
}

// IsMember reports whether email resolves against any of the task's
// assignment targets right now.
func (r *Resolver) IsMember(ctx context.Context, task *database.Task, email string) (bool, error) {
	ids, err := r.Assignees(ctx, task)
	if err != nil {
		return false, err
	}
	return ids.Has(email), nil
}
