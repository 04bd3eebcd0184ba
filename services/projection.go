package services

import (
	"sort"

	"github.com/IRCHrocks25/KatCon-sub001/database"
)

// Perspective says which status field a view was projected from.
type Perspective string

const (
	PerspectiveCreator  Perspective = "creator"
	PerspectiveAssignee Perspective = "assignee"
)

// TaskView is a task as one viewer sees it. Status is always the canonical
// status; DisplayStatus is the column this viewer should place the task in.
type TaskView struct {
	database.Task
	DisplayStatus database.Status `json:"displayStatus"`
	Perspective   Perspective     `json:"perspective"`
}

// relation describes how a viewer reaches a task.
type relation struct {
	creator bool
	direct  *database.Assignment
	teams   []string
}

func (r relation) assignee() bool { return r.direct != nil || len(r.teams) > 0 }

// relate works out the viewer's relation to task given the viewer's current
// team tags.
func relate(task *database.Task, viewer string, viewerTeams []string) relation {
	rel := relation{creator: task.CreatedBy == viewer}
	member := make(map[string]bool, len(viewerTeams))
	for _, t := range viewerTeams {
		member[t] = true
	}
	for i := range task.Assignments {
		a := &task.Assignments[i]
		switch a.Target.Kind {
		case database.TargetUser:
			if a.Target.Ref == viewer {
				rel.direct = a
			}
		case database.TargetTeam:
			if member[a.Target.Ref] {
				rel.teams = append(rel.teams, a.Target.Ref)
			}
		}
	}
	sort.Strings(rel.teams)
	return rel
}

// project returns viewer's view of task and whether the task belongs in the
// viewer's default listing. memberStatuses are the explicit statuses
// team-resolved members set on the task.
func project(task *database.Task, viewer string, viewerTeams []string, memberStatuses []database.MemberStatus) (TaskView, bool) {
	view := TaskView{Task: *task, DisplayStatus: task.Status}
	rel := relate(task, viewer, viewerTeams)

	switch {
	case rel.creator:
		view.Perspective = PerspectiveCreator
		return view, task.Status != database.StatusHidden
	case rel.assignee():
		view.Perspective = PerspectiveAssignee
		view.DisplayStatus = personalStatus(task, viewer, rel, memberStatuses)
		if task.Status == database.StatusHidden || view.DisplayStatus == database.StatusHidden {
			return view, false
		}
		return view, true
	}
	return TaskView{}, false
}

// personalStatus picks the direct assignment's status, then the viewer's
// member status if they reach the task through a team, then the canonical
// status.
func personalStatus(task *database.Task, viewer string, rel relation, memberStatuses []database.MemberStatus) database.Status {
	if rel.direct != nil {
		if rel.direct.PersonalStatus != nil {
			return *rel.direct.PersonalStatus
		}
		return task.Status
	}
	if len(rel.teams) > 0 {
		for _, ms := range memberStatuses {
			if ms.UserEmail == viewer {
				return ms.Status
			}
		}
	}
	return task.Status
}

// statusRank orders columns on the board.
func statusRank(s database.Status) int {
	for i, v := range database.Statuses {
		if v == s {
			return i
		}
	}
	return len(database.Statuses)
}

func sortViews(views []TaskView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if ra, rb := statusRank(a.DisplayStatus), statusRank(b.DisplayStatus); ra != rb {
			return ra < rb
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Column is one kanban column of a viewer's board.
type Column struct {
	Status database.Status `json:"status"`
	Tasks  []TaskView      `json:"tasks"`
}

// groupColumns lays sorted views out into the visible board columns.
func groupColumns(views []TaskView) []Column {
	var cols []Column
	index := map[database.Status]int{}
	for _, s := range database.Statuses {
		if s == database.StatusHidden {
			continue
		}
		index[s] = len(cols)
		cols = append(cols, Column{Status: s, Tasks: []TaskView{}})
	}
	for _, v := range views {
		if i, ok := index[v.DisplayStatus]; ok {
			cols[i].Tasks = append(cols[i].Tasks, v)
		}
	}
	return cols
}
