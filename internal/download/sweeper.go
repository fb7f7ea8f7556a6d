package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	fileutil "tubefetch/internal/file"
	"tubefetch/internal/job"
	"tubefetch/internal/metrics"

	"github.com/rs/zerolog/log"
)

// SweepStats counts what one Sweep removed.
type SweepStats struct {
	Delivered int
	Stale     int
	Orphans   int
}

// StartSweeper runs Sweep every interval until ctx is done. The loop counts
// as a worker for WaitAll.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := m.Sweep(m.store.Now())
				if stats != (SweepStats{}) {
					log.Info().Int("delivered", stats.Delivered).Int("stale", stats.Stale).
						Int("orphans", stats.Orphans).Msg("sweep reclaimed jobs")
				}
			}
		}
	}()
}

// Sweep reclaims delivered jobs, drops terminal jobs idle for longer than
// the staleness threshold and removes job directories nobody owns.
// Queued and running jobs are never touched.
func (m *Manager) Sweep(now time.Time) SweepStats {
	var stats SweepStats
	for _, j := range m.store.List() {
		if !j.Status.IsTerminal() || m.isStreaming(j.ID) {
			continue
		}
		if now.Sub(j.LastActivity()) >= m.opts.StaleAfter {
			if err := m.reclaim(j.ID, true); err == nil {
				stats.Stale++
				metrics.RecordReclaim("stale")
			} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, errStreaming) {
				log.Warn().Str("job_id", j.ID).Err(err).Msg("stale reclaim failed")
			}
			continue
		}
		if j.Delivered && j.Status == job.StatusCompleted {
			if err := m.reclaim(j.ID, false); err == nil {
				stats.Delivered++
				metrics.RecordReclaim("delivered")
			}
		}
	}

	dirs, err := fileutil.ListDirs(m.jobsRoot())
	if err != nil {
		log.Warn().Err(err).Msg("list job dirs failed")
		return stats
	}
	for _, d := range dirs {
		if _, err := m.store.Get(d.Name); err == nil {
			continue
		}
		if now.Sub(d.ModTime) < m.opts.StaleAfter {
			continue
		}
		if err := fileutil.RemoveTree(d.Path); err != nil {
			log.Warn().Str("dir", d.Path).Err(err).Msg("remove orphan dir failed")
			continue
		}
		stats.Orphans++
		metrics.RecordReclaim("orphan")
	}
	return stats
}

// Reclaim removes the files of a terminal job and marks it expired. The
// record stays so a repeated download request still reports AlreadyDelivered.
func (m *Manager) Reclaim(id string) error {
	if err := m.reclaim(id, false); err != nil {
		return err
	}
	metrics.RecordReclaim("delivered")
	return nil
}

func (m *Manager) reclaim(id string, drop bool) error {
	// expiring under m.mu excludes a Deliver claiming the job at the same time
	m.mu.Lock()
	if _, ok := m.streaming[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("reclaim %s: %w", id, errStreaming)
	}
	_, err := m.store.Update(id, func(j *job.Job) error {
		if j.Status.IsActive() {
			return fmt.Errorf("job is %s", j.Status)
		}
		j.Status = job.StatusExpired
		j.StatusText = "Expired"
		j.OutputPath = ""
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("reclaim %s: %w", id, err)
	}

	if err := fileutil.RemoveTree(m.jobDir(id)); err != nil {
		return fmt.Errorf("reclaim %s: %w", id, err)
	}
	if drop {
		if err := m.store.Delete(id); err != nil {
			return fmt.Errorf("reclaim %s: %w", id, err)
		}
	}
	return nil
}

// PurgeOrphans removes every job directory not owned by a live record. At
// startup that is everything a previous process left behind.
func (m *Manager) PurgeOrphans() (int, error) {
	dirs, err := fileutil.ListDirs(m.jobsRoot())
	if err != nil {
		return 0, fmt.Errorf("purge orphans: %w", err)
	}
	removed := 0
	for _, d := range dirs {
		if _, err := m.store.Get(d.Name); err == nil {
			continue
		}
		if err := fileutil.RemoveTree(d.Path); err != nil {
			return removed, fmt.Errorf("purge orphans: %w", err)
		}
		removed++
		metrics.RecordReclaim("orphan")
	}
	return removed, nil
}
