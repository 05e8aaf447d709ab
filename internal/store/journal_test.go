package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(v int64) *int64 { return &v }

func TestRecordUpdate_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.UnixMilli(1700000000123).UTC()

	require.NoError(t, s.RecordUpdate(ctx, UpdateRecord{
		RunID:     "run-1",
		Dataset:   "parks",
		Action:    "add",
		Ref:       ref(0),
		Status:    StatusOK,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}))

	got, err := s.RecentUpdates(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, int64(1), rec.Seq)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "parks", rec.Dataset)
	assert.Equal(t, "add", rec.Action)
	require.NotNil(t, rec.Ref)
	assert.Equal(t, int64(0), *rec.Ref, "entity id 0 must survive the journal")
	assert.Equal(t, StatusOK, rec.Status)
	assert.Empty(t, rec.Error)
	assert.True(t, started.Equal(rec.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, rec.Duration)
}

func TestRecordUpdate_BulkHasNoRef(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUpdate(ctx, UpdateRecord{
		RunID: "run-bulk", Dataset: "parks", Action: "bulk",
		Status: StatusFailed, Error: "EMPTY_RESULT: no matching feature",
		StartedAt: time.Now(),
	}))

	got, err := s.RecentUpdates(ctx, Filter{Dataset: "parks"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Ref)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, "EMPTY_RESULT: no matching feature", got[0].Error)
}

func TestRecordUpdate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := UpdateRecord{RunID: "dup", Dataset: "parks", Action: "bulk", Status: StatusOK, StartedAt: time.Now()}

	require.NoError(t, s.RecordUpdate(ctx, rec))
	require.NoError(t, s.RecordUpdate(ctx, rec))

	got, err := s.RecentUpdates(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecordUpdate_RejectsUnknownAction(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordUpdate(context.Background(), UpdateRecord{
		RunID: "bad", Dataset: "parks", Action: "upsert", Status: StatusOK, StartedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestRecentUpdates_NewestFirstFilteredAndLimited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ds := "parks"
		if i%2 == 0 {
			ds = "trees"
		}
		require.NoError(t, s.RecordUpdate(ctx, UpdateRecord{
			RunID: fmt.Sprintf("run-%d", i), Dataset: ds, Action: "add", Ref: ref(int64(i)),
			Status: StatusOK, StartedAt: time.Now(),
		}))
	}

	parks, err := s.RecentUpdates(ctx, Filter{Dataset: "parks"})
	require.NoError(t, err)
	require.Len(t, parks, 3)
	assert.Equal(t, "run-5", parks[0].RunID)
	assert.Equal(t, "run-3", parks[1].RunID)
	assert.Equal(t, "run-1", parks[2].RunID)

	limited, err := s.RecentUpdates(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-5", limited[0].RunID)
	assert.Equal(t, "run-4", limited[1].RunID)
}

func TestRecordUpdate_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				err := s.RecordUpdate(ctx, UpdateRecord{
					RunID: fmt.Sprintf("w%d-%d", w, i), Dataset: fmt.Sprintf("ds%d", w),
					Action: "bulk", Status: StatusOK, StartedAt: time.Now(),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	got, err := s.RecentUpdates(ctx, Filter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, got, 40)
}
