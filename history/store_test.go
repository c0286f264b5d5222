package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/jobs"
	"github.com/bill-scraper/vendors"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func finished(id string, completed time.Time, results ...automation.RunResult) jobs.Snapshot {
	return jobs.Snapshot{
		ID:             id,
		Status:         jobs.StatusCompleted,
		CreatedAt:      completed.Add(-time.Minute),
		CompletedAt:    &completed,
		TotalUnits:     len(results),
		CompletedUnits: len(results),
		Results:        results,
		Metadata:       jobs.Metadata{Mode: jobs.ModeAll, RequestedBy: "scheduler"},
	}
}

func TestArchiveAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 12, 3, 6, 0, 0, 0, time.UTC)

	older := finished("job-1", base,
		automation.RunResult{Vendor: "rogers", Success: true, FilePath: "/bills/a.pdf"})
	newer := finished("job-2", base.Add(time.Hour),
		automation.RunResult{Vendor: "rogers", Success: true, FilePath: "/bills/b.pdf"},
		automation.RunResult{Vendor: "hwater", AccountIndex: 1, Stage: vendors.StageAuth, Reason: "authentication failed"})

	require.NoError(t, s.Archive(ctx, older))
	require.NoError(t, s.Archive(ctx, newer))

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := records[0]
	assert.Equal(t, "job-2", got.ID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, jobs.ModeAll, got.Mode)
	assert.Equal(t, "scheduler", got.RequestedBy)
	assert.Equal(t, 2, got.TotalUnits)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.True(t, got.CompletedAt.Equal(base.Add(time.Hour)))
	require.Len(t, got.Results, 2)
	assert.Equal(t, vendors.StageAuth, got.Results[1].Stage)

	limited, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestArchive_Replaces(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	snap := finished("job-1", now)
	require.NoError(t, s.Archive(ctx, snap))

	snap.Status = jobs.StatusFailed
	snap.ErrorMessage = "panic: boom"
	require.NoError(t, s.Archive(ctx, snap))

	r, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, r.Status)
	assert.Equal(t, "panic: boom", r.ErrorMessage)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestArchive_RejectsActiveJob(t *testing.T) {
	s := openTemp(t)
	err := s.Archive(context.Background(), jobs.Snapshot{ID: "x", Status: jobs.StatusRunning})
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
