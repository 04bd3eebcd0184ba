package services

import (
	"sort"
	"sync"

	"github.com/IRCHrocks25/KatCon-sub001/database"
)

// Action is what VisibleSet.Apply did with an update.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionReplace Action = "replace"
	ActionRemove  Action = "remove"
	ActionIgnore  Action = "ignore"
)

// seenLimit bounds the event ids remembered for de-duplication.
const seenLimit = 1024

// VisibleSet is a client's cached view of its visible tasks. It tolerates
// duplicate and out-of-order updates and converges on the next Reset.
type VisibleSet struct {
	mu       sync.Mutex
	tasks    map[string]TaskView
	versions map[string]int64
	seen     map[string]struct{}
	seenLog  []string
	hints    map[database.Status][]string
}

func NewVisibleSet() *VisibleSet {
	return &VisibleSet{
		tasks:    make(map[string]TaskView),
		versions: make(map[string]int64),
		seen:     make(map[string]struct{}),
		hints:    make(map[database.Status][]string),
	}
}

// Reset replaces the whole set with a full listing and drops local order
// hints. A cached task that is newer than its snapshot row is kept.
func (v *VisibleSet) Reset(views []TaskView) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tasks := make(map[string]TaskView, len(views))
	for _, t := range views {
		if cached, ok := v.tasks[t.ID]; ok && cached.Version > t.Version {
			tasks[t.ID] = cached
			continue
		}
		if v.versions[t.ID] > t.Version {
			// Removed by a newer update.
			continue
		}
		tasks[t.ID] = t
		v.versions[t.ID] = t.Version
	}
	v.tasks = tasks
	v.hints = make(map[database.Status][]string)
}

// Apply reconciles one update into the set.
func (v *VisibleSet) Apply(u ReconciledTask) Action {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, dup := v.seen[u.EventID]; dup {
		return ActionIgnore
	}
	v.remember(u.EventID)

	if u.Version < v.versions[u.TaskID] {
		return ActionIgnore
	}
	v.versions[u.TaskID] = u.Version

	for _, col := range u.Columns {
		v.applyOrder(col)
	}

	current, present := v.tasks[u.TaskID]
	switch {
	case !u.Visible || u.Task == nil:
		if !present {
			return ActionIgnore
		}
		delete(v.tasks, u.TaskID)
		v.dropHint(current.DisplayStatus, u.TaskID)
		return ActionRemove
	case present:
		if current.DisplayStatus != u.Task.DisplayStatus {
			v.dropHint(current.DisplayStatus, u.TaskID)
		}
		v.tasks[u.TaskID] = *u.Task
		return ActionReplace
	default:
		v.tasks[u.TaskID] = *u.Task
		return ActionInsert
	}
}

// Reorder records an optimistic local order for a column, e.g. mid-drag.
// It is kept across replaces until the server sends an order that
// contradicts it.
func (v *VisibleSet) Reorder(status database.Status, ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hints[status] = append([]string(nil), ids...)
}

// Get returns one cached task.
func (v *VisibleSet) Get(id string) (TaskView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.tasks[id]
	return t, ok
}

// Len is the number of visible tasks.
func (v *VisibleSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}

// Tasks returns every cached task in board order.
func (v *VisibleSet) Tasks() []TaskView {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]TaskView, 0, len(v.tasks))
	for _, t := range v.tasks {
		out = append(out, t)
	}
	sortViews(out)
	return out
}

// Column returns the tasks displayed in one column: hinted tasks first in
// hint order, the rest by position.
func (v *VisibleSet) Column(status database.Status) []TaskView {
	v.mu.Lock()
	defer v.mu.Unlock()

	var col []TaskView
	for _, t := range v.tasks {
		if t.DisplayStatus == status {
			col = append(col, t)
		}
	}
	sortViews(col)

	hint := v.hints[status]
	if len(hint) == 0 {
		return col
	}
	rank := make(map[string]int, len(hint))
	for i, id := range hint {
		rank[id] = i
	}
	sort.SliceStable(col, func(i, j int) bool {
		ri, iok := rank[col[i].ID]
		rj, jok := rank[col[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return false
	})
	return col
}

func (v *VisibleSet) remember(id string) {
	if id == "" {
		return
	}
	v.seen[id] = struct{}{}
	v.seenLog = append(v.seenLog, id)
	if len(v.seenLog) > seenLimit {
		delete(v.seen, v.seenLog[0])
		v.seenLog = v.seenLog[1:]
	}
}

// applyOrder writes authoritative positions and discards a hint that
// disagrees with them.
func (v *VisibleSet) applyOrder(col ColumnOrder) {
	pos := make(map[string]int, len(col.TaskIDs))
	for i, id := range col.TaskIDs {
		pos[id] = i
		if t, ok := v.tasks[id]; ok && t.Status == col.Status {
			t.Position = i
			v.tasks[id] = t
		}
	}

	hint := v.hints[col.Status]
	last := -1
	for _, id := range hint {
		p, ok := pos[id]
		if !ok {
			continue
		}
		if p < last {
			delete(v.hints, col.Status)
			return
		}
		last = p
	}
}

func (v *VisibleSet) dropHint(status database.Status, id string) {
	hint := v.hints[status]
	if rest, i := remove(hint, id); i >= 0 {
		v.hints[status] = rest
	}
}
