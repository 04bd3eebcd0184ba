package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/IRCHrocks25/KatCon-sub001/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writeResult struct {
	status  database.Status
	version int64
	err     error
}

func TestTaskService_ConcurrentWritesSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shared := f.create(t, userC, "shared", database.UserTarget(userA), database.TeamTarget("design"))
	others := []string{f.create(t, userC, "x").ID, f.create(t, userC, "y").ID}

	_, err := f.svc.TransitionPersonalStatus(ctx, userB, shared.ID, database.StatusReview)
	require.NoError(t, err)

	open := []database.Status{database.StatusBacklog, database.StatusInProgress, database.StatusReview, database.StatusDone}
	const workers, rounds = 8, 25

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		canonical []writeResult
		personal  []writeResult
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				status := open[(w+i)%len(open)]
				switch i % 3 {
				case 0:
					got, err := f.svc.TransitionPersonalStatus(ctx, userA, shared.ID, status)
					res := writeResult{status: status, err: err}
					if err == nil {
						res.version = got.Version
						for _, a := range got.Assignments {
							if a.Target == database.UserTarget(userA) && (a.PersonalStatus == nil || *a.PersonalStatus != status) {
								res.err = fmt.Errorf("returned personal status %v, want %s", a.PersonalStatus, status)
							}
						}
					}
					mu.Lock()
					personal = append(personal, res)
					mu.Unlock()
				case 1:
					got, err := f.svc.TransitionCanonicalStatus(ctx, userC, shared.ID, status, intPtr(i%3))
					res := writeResult{status: status, err: err}
					if err == nil {
						res.version = got.Version
						if got.Status != status {
							res.err = fmt.Errorf("returned status %s, want %s", got.Status, status)
						}
					}
					mu.Lock()
					canonical = append(canonical, res)
					mu.Unlock()
				default:
					_, err := f.svc.TransitionCanonicalStatus(ctx, userC, others[(w+i)%len(others)], status, intPtr(0))
					mu.Lock()
					canonical = append(canonical, writeResult{err: err})
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	for _, r := range append(append([]writeResult{}, canonical...), personal...) {
		require.NoError(t, r.err)
	}
	f.requireContiguous(t, userC)

	final, err := f.repo.GetTask(ctx, f.repo.DB(), shared.ID)
	require.NoError(t, err)

	// Every write bumps the version, so the highest returned version is the
	// last committer.
	last := func(results []writeResult) writeResult {
		var best writeResult
		for _, r := range results {
			if r.version > best.version {
				best = r
			}
		}
		return best
	}
	assert.Equal(t, last(canonical).status, final.Status)

	viewA, ok, err := f.svc.GetVisible(ctx, userA, shared.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last(personal).status, viewA.DisplayStatus)

	// Nobody else's writes touched B's own status.
	viewB, ok, err := f.svc.GetVisible(ctx, userB, shared.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, database.StatusReview, viewB.DisplayStatus)
}
