package services

import (
	"context"
	"math/rand"
	"testing"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositioner_RandomTransitionsStayContiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.create(t, userC, "task").ID)
	}
	// A second owner shares statuses but never positions.
	for i := 0; i < 2; i++ {
		f.create(t, userA, "other")
	}

	open := []database.Status{database.StatusBacklog, database.StatusInProgress, database.StatusReview, database.StatusDone}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 60; i++ {
		id := ids[rng.Intn(len(ids))]
		status := open[rng.Intn(len(open))]
		var idx *int
		if rng.Intn(3) > 0 {
			idx = intPtr(rng.Intn(10) - 2)
		}
		_, err := f.svc.TransitionCanonicalStatus(ctx, userC, id, status, idx)
		require.NoError(t, err)
		f.requireContiguous(t, userC)
	}
	f.requireContiguous(t, userA)

	total := 0
	for _, status := range open {
		col, err := f.repo.ColumnIDs(ctx, f.repo.DB(), userC, status)
		require.NoError(t, err)
		total += len(col)
	}
	assert.Equal(t, len(ids), total, "no task is lost or duplicated")
}

func TestPositioner_Helpers(t *testing.T) {
	rest, i := remove([]string{"a", "b", "c"}, "b")
	assert.Equal(t, []string{"a", "c"}, rest)
	assert.Equal(t, 1, i)

	_, i = remove([]string{"a"}, "z")
	assert.Equal(t, -1, i)

	assert.Equal(t, []string{"z", "a"}, insert([]string{"a"}, 0, "z"))
	assert.Equal(t, []string{"a", "z"}, insert([]string{"a"}, 1, "z"))

	assert.Equal(t, 0, clamp(-1, 0, 3))
	assert.Equal(t, 3, clamp(7, 0, 3))
	assert.Equal(t, 2, clamp(2, 0, 3))
}
