package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-worker/internal/clock"
	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n), nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() (*Store, *clock.Manual) {
	clk := clock.NewManual(epoch)
	return NewStore(clk, &seqIDs{}), clk
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()

	id, err := store.CreateJob(ctx, "demo", "https://example.com", crawler.Metadata{"source": "test"})
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, job.Status)
	require.Equal(t, job.CreatedAt, job.UpdatedAt)

	clk.Advance(time.Second)
	require.NoError(t, store.UpdateJobStatus(ctx, id, crawler.JobStatusProcessing, nil))
	job, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, job.Status)
	require.Equal(t, crawler.Metadata{"source": "test"}, job.Metadata, "nil metadata keeps the stored map")
	require.Equal(t, epoch.Add(time.Second), job.UpdatedAt)

	clk.Advance(time.Second)
	require.NoError(t, store.UpdateJobStatus(ctx, id, crawler.JobStatusFailed, crawler.Metadata{"error": "boom"}))
	job, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, crawler.Metadata{"error": "boom"}, job.Metadata, "metadata is replaced, not merged")
}

func TestStoreRejectsIllegalTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		path  []crawler.JobStatus
		final crawler.JobStatus
	}{
		{"pending to completed", nil, crawler.JobStatusCompleted},
		{"pending to failed", nil, crawler.JobStatusFailed},
		{"pending to pending", nil, crawler.JobStatusPending},
		{"processing to processing", []crawler.JobStatus{crawler.JobStatusProcessing}, crawler.JobStatusProcessing},
		{
			"completed to pending",
			[]crawler.JobStatus{crawler.JobStatusProcessing, crawler.JobStatusCompleted},
			crawler.JobStatusPending,
		},
		{
			"failed to processing",
			[]crawler.JobStatus{crawler.JobStatusProcessing, crawler.JobStatusFailed},
			crawler.JobStatusProcessing,
		},
		{
			"completed to failed",
			[]crawler.JobStatus{crawler.JobStatusProcessing, crawler.JobStatusCompleted},
			crawler.JobStatusFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, _ := newTestStore()
			ctx := context.Background()
			id, err := store.CreateJob(ctx, "demo", "k", nil)
			require.NoError(t, err)
			for _, step := range tc.path {
				require.NoError(t, store.UpdateJobStatus(ctx, id, step, nil))
			}
			before, err := store.GetJob(ctx, id)
			require.NoError(t, err)

			err = store.UpdateJobStatus(ctx, id, tc.final, crawler.Metadata{"x": 1})
			require.ErrorIs(t, err, crawler.ErrInvalidTransition)

			after, err := store.GetJob(ctx, id)
			require.NoError(t, err)
			require.Equal(t, before, after, "rejected update must not mutate the job")
		})
	}
}

func TestStoreUpdateUnknownJob(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	err := store.UpdateJobStatus(context.Background(), "missing", crawler.JobStatusProcessing, nil)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStoreUpdatedAtNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()
	id, err := store.CreateJob(ctx, "demo", "k", nil)
	require.NoError(t, err)

	clk.Set(epoch.Add(-time.Hour))
	require.NoError(t, store.UpdateJobStatus(ctx, id, crawler.JobStatusProcessing, nil))
	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, epoch, job.UpdatedAt)
	require.False(t, job.UpdatedAt.Before(job.CreatedAt))
}

func TestGetPendingJobOrdering(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()

	clk.Set(epoch.Add(2 * time.Second))
	late, err := store.CreateJob(ctx, "page", "late", nil)
	require.NoError(t, err)

	clk.Set(epoch)
	firstTie, err := store.CreateJob(ctx, "youtube", "a", nil)
	require.NoError(t, err)
	secondTie, err := store.CreateJob(ctx, "page", "b", nil)
	require.NoError(t, err)

	job, err := store.GetPendingJob(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, firstTie, job.ID, "equal created_at falls back to insertion order")

	job, err = store.GetPendingJob(ctx, "page")
	require.NoError(t, err)
	require.Equal(t, secondTie, job.ID)

	require.NoError(t, store.UpdateJobStatus(ctx, secondTie, crawler.JobStatusProcessing, nil))
	job, err = store.GetPendingJob(ctx, "page")
	require.NoError(t, err)
	require.Equal(t, late, job.ID)

	job, err = store.GetPendingJob(ctx, "bluesky")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestSaveResultRequiresJob(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	_, err := store.SaveResult(context.Background(), crawler.ResultInput{JobID: "nope"})
	require.True(t, errors.Is(err, crawler.ErrNotFound))
}

func TestListResultsReturnsCopies(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore()
	ctx := context.Background()
	id, err := store.CreateJob(ctx, "demo", "k", nil)
	require.NoError(t, err)
	_, err = store.SaveResult(ctx, crawler.ResultInput{
		JobID:    id,
		FinalURL: "https://example.com",
		Data:     crawler.Payload{"markdown": "Hello"},
		Success:  true,
	})
	require.NoError(t, err)

	results, err := store.ListResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	results[0].Data["markdown"] = "mutated"

	again, err := store.ListResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Hello", again[0].Data["markdown"])
}

func seedResult(t *testing.T, store *Store, worker, key string, success bool, data crawler.Payload) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateJob(ctx, worker, key, nil)
	require.NoError(t, err)
	_, err = store.SaveResult(ctx, crawler.ResultInput{
		JobID:       id,
		FinalURL:    key,
		OriginalURL: key,
		Data:        data,
		Success:     success,
		Metadata:    crawler.Metadata{"job": id},
	})
	require.NoError(t, err)
	return id
}

func TestGetCachedResultFreshnessBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		age  time.Duration
		hit  bool
	}{
		{"younger than window", 3599 * time.Second, true},
		{"exactly window", 3600 * time.Second, false},
		{"older than window", 3601 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, clk := newTestStore()
			seedResult(t, store, "page", "https://example.com", true, crawler.Payload{"markdown": "Hello"})
			clk.Advance(tc.age)

			got, err := store.GetCachedResult(context.Background(), "page", "https://example.com", time.Hour)
			require.NoError(t, err)
			if tc.hit {
				require.NotNil(t, got)
				require.Equal(t, "Hello", got.Data["markdown"])
			} else {
				require.Nil(t, got)
			}
		})
	}
}

func TestGetCachedResultPicksNewestJobAndFilters(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()

	seedResult(t, store, "page", "https://example.com", true, crawler.Payload{"v": "old"})
	clk.Advance(time.Minute)
	newest := seedResult(t, store, "page", "https://example.com", true, crawler.Payload{"v": "new"})
	clk.Advance(time.Minute)
	seedResult(t, store, "page", "https://example.com", false, crawler.Payload{"v": "failed"})
	seedResult(t, store, "youtube", "https://example.com", true, crawler.Payload{"v": "other worker"})
	seedResult(t, store, "page", "https://other.example", true, crawler.Payload{"v": "other key"})

	got, err := store.GetCachedResult(ctx, "page", "https://example.com", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, newest, got.JobID)
	require.Equal(t, "new", got.Data["v"])

	again, err := store.GetCachedResult(ctx, "page", "https://example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, got, again, "cache reads are idempotent")

	none, err := store.GetCachedResult(ctx, "page", "https://example.com", 0)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestGetCachedResultAnchorsOnJobCreation(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()
	id, err := store.CreateJob(ctx, "page", "k", nil)
	require.NoError(t, err)

	// The result is written long after scheduling; freshness still counts from the job.
	clk.Advance(50 * time.Minute)
	_, err = store.SaveResult(ctx, crawler.ResultInput{JobID: id, FinalURL: "k", Data: crawler.Payload{}, Success: true})
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)

	got, err := store.GetCachedResult(ctx, "page", "k", time.Hour)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListJobsFiltersAndPages(t *testing.T) {
	t.Parallel()

	store, clk := newTestStore()
	ctx := context.Background()

	var ids []string
	for i, worker := range []string{"page", "youtube", "page", "page"} {
		clk.Set(epoch.Add(time.Duration(i) * time.Minute))
		id, err := store.CreateJob(ctx, worker, fmt.Sprintf("k-%d", i), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, store.UpdateJobStatus(ctx, ids[2], crawler.JobStatusProcessing, nil))

	all, err := store.ListJobs(ctx, crawler.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, ids[3], all[0].ID, "newest first")

	pages, err := store.ListJobs(ctx, crawler.JobFilter{Worker: "page", Status: crawler.JobStatusPending})
	require.NoError(t, err)
	require.Equal(t, []string{ids[3], ids[0]}, []string{pages[0].ID, pages[1].ID})

	window, err := store.ListJobs(ctx, crawler.JobFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []string{ids[2], ids[1]}, []string{window[0].ID, window[1].ID})

	past, err := store.ListJobs(ctx, crawler.JobFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, past)
}
