package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	fileutil "tubefetch/internal/file"
	"tubefetch/internal/job"
	"tubefetch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedJob(t *testing.T, m *Manager) job.Job {
	t.Helper()
	id, err := m.Submit(Request{URL: testURL, FormatID: "18"})
	require.NoError(t, err)
	done := waitTerminal(t, m, id)
	require.Equal(t, job.StatusCompleted, done.Status)
	return done
}

func TestSweepDropsStaleJobs(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), func(o *Options) { o.StaleAfter = time.Hour })
	done := completedJob(t, m)

	stats := m.Sweep(time.Now())
	assert.Equal(t, SweepStats{}, stats, "fresh undelivered job is kept")
	assert.FileExists(t, done.OutputPath)

	stats = m.Sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, stats.Stale)
	_, err := m.Status(done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, m.jobDir(done.ID))
}

func TestSweepNeverTouchesRunningJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ext := testutil.NewFakeExtractor()
	ext.Fetch = testutil.BlockingFetch(started, release)
	m := newTestManager(t, ext, func(o *Options) { o.StaleAfter = time.Minute })

	id, err := m.Submit(Request{URL: testURL, FormatID: "18"})
	require.NoError(t, err)
	<-started

	stats := m.Sweep(time.Now().Add(24 * time.Hour))
	assert.Equal(t, SweepStats{}, stats)
	snap, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, snap.Status)
	assert.FileExists(t, filepath.Join(m.jobDir(id), "output.mp4"))

	close(release)
	assert.Equal(t, job.StatusCompleted, waitTerminal(t, m, id).Status)
}

func TestSweepReclaimsDeliveredJobs(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), nil)
	done := completedJob(t, m)

	d, err := m.Deliver(done.ID)
	require.NoError(t, err)

	// a transfer in flight keeps its files
	assert.Equal(t, SweepStats{}, m.Sweep(time.Now()))
	assert.FileExists(t, done.OutputPath)

	// simulate a delivery whose inline reclaim never ran
	m.mu.Lock()
	delete(m.streaming, done.ID)
	m.mu.Unlock()
	require.NoError(t, d.File.Close())

	stats := m.Sweep(time.Now())
	assert.Equal(t, 1, stats.Delivered)
	snap, err := m.Status(done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusExpired, snap.Status)
	assert.NoDirExists(t, m.jobDir(done.ID))
}

func TestSweepRemovesOldOrphanDirs(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), func(o *Options) { o.StaleAfter = time.Hour })
	old := filepath.Join(m.jobsRoot(), "left-over")
	fresh := filepath.Join(m.jobsRoot(), "just-created")
	require.NoError(t, fileutil.EnsureDir(old))
	require.NoError(t, fileutil.EnsureDir(fresh))
	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	stats := m.Sweep(time.Now())
	assert.Equal(t, 1, stats.Orphans)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
}

func TestPurgeOrphans(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), nil)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, fileutil.EnsureDir(filepath.Join(m.jobsRoot(), name)))
	}

	removed, err := m.PurgeOrphans()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.True(t, testutil.DirEmpty(m.jobsRoot()))

	removed, err = m.PurgeOrphans()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestReclaimRefusesActiveJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ext := testutil.NewFakeExtractor()
	ext.Fetch = testutil.BlockingFetch(started, release)
	m := newTestManager(t, ext, nil)

	id, err := m.Submit(Request{URL: testURL, FormatID: "18"})
	require.NoError(t, err)
	<-started
	require.Error(t, m.Reclaim(id))
	assert.DirExists(t, m.jobDir(id))

	close(release)
	waitTerminal(t, m, id)
	require.ErrorIs(t, m.Reclaim("missing"), ErrNotFound)
}

func TestStartSweeperStopsWithContext(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), func(o *Options) { o.StaleAfter = time.Hour })
	orphan := filepath.Join(m.jobsRoot(), "orphan")
	require.NoError(t, fileutil.EnsureDir(orphan))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, past, past))

	ctx, cancel := context.WithCancel(context.Background())
	m.StartSweeper(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(orphan); os.IsNotExist(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.NoDirExists(t, orphan)

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	assert.True(t, m.WaitAll(waitCtx))
}

func TestReclaimSkipsJobsBeingDelivered(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), func(o *Options) { o.StaleAfter = time.Hour })
	done := completedJob(t, m)

	d, err := m.Deliver(done.ID)
	require.NoError(t, err)

	require.ErrorIs(t, m.Reclaim(done.ID), errStreaming)
	require.ErrorIs(t, m.reclaim(done.ID, true), errStreaming)
	assert.Equal(t, SweepStats{}, m.Sweep(time.Now().Add(2*time.Hour)))
	assert.FileExists(t, done.OutputPath)
	snap, err := m.Status(done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, snap.Status)

	assert.Equal(t, "media-bytes", readAll(t, d))
	require.NoError(t, d.Close())
	snap, err = m.Status(done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusExpired, snap.Status)
	assert.NoDirExists(t, m.jobDir(done.ID))
}

func TestReclaimedJobCannotBeClaimed(t *testing.T) {
	m := newTestManager(t, testutil.NewFakeExtractor(), nil)
	done := completedJob(t, m)

	require.NoError(t, m.Reclaim(done.ID))
	_, err := m.Deliver(done.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, m.jobDir(done.ID))
}
