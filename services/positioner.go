package services

import (
	"context"
	"fmt"

	"github.com/IRCHrocks25/KatCon-sub001/database"
)

// Positioner keeps every (owner, status) column densely ordered 0..n-1. It
// only ever runs inside a Task Store transaction.
type Positioner struct {
	repo *database.TaskRepo
}

func NewPositioner(repo *database.TaskRepo) *Positioner {
	return &Positioner{repo: repo}
}

// Reposition moves taskID from one column to another (or within a column) and
// returns its new position. A nil targetIndex means the end of the
// destination column, or "stay put" for a move within the same column.
// Out-of-range indexes are clamped. An empty from places a freshly inserted
// task that is already parked in to.
func (p *Positioner) Reposition(ctx context.Context, q database.Querier, owner, taskID string, from, to database.Status, targetIndex *int) (int, error) {
	if from == to {
		return p.moveWithin(ctx, q, owner, taskID, to, targetIndex)
	}

	if from != "" {
		if err := p.repo.Park(ctx, q, taskID, to); err != nil {
			return 0, err
		}
		origin, err := p.repo.ColumnIDs(ctx, q, owner, from)
		if err != nil {
			return 0, err
		}
		if err := p.repo.RenumberColumn(ctx, q, owner, from, origin); err != nil {
			return 0, fmt.Errorf("compact %s column: %w", from, err)
		}
	}

	dest, err := p.repo.ColumnIDs(ctx, q, owner, to)
	if err != nil {
		return 0, err
	}
	dest, _ = remove(dest, taskID)
	idx := len(dest)
	if targetIndex != nil {
		idx = clamp(*targetIndex, 0, len(dest))
	}
	dest = insert(dest, idx, taskID)
	if err := p.repo.RenumberColumn(ctx, q, owner, to, dest); err != nil {
		return 0, fmt.Errorf("renumber %s column: %w", to, err)
	}
	return idx, nil
}

func (p *Positioner) moveWithin(ctx context.Context, q database.Querier, owner, taskID string, status database.Status, targetIndex *int) (int, error) {
	ids, err := p.repo.ColumnIDs(ctx, q, owner, status)
	if err != nil {
		return 0, err
	}
	rest, cur := remove(ids, taskID)
	if cur < 0 {
		return 0, fmt.Errorf("task %s is not in column %s", taskID, status)
	}
	idx := cur
	if targetIndex != nil {
		idx = clamp(*targetIndex, 0, len(rest))
	}
	// Rewriting the whole column also repairs any duplicated positions, with
	// ties already broken by creation time.
	if err := p.repo.RenumberColumn(ctx, q, owner, status, insert(rest, idx, taskID)); err != nil {
		return 0, fmt.Errorf("renumber %s column: %w", status, err)
	}
	return idx, nil
}

func remove(ids []string, id string) ([]string, int) {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...), i
		}
	}
	return ids, -1
}

func insert(ids []string, idx int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:idx]...)
	out = append(out, id)
	return append(out, ids[idx:]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
