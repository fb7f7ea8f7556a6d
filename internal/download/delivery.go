package download

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tubefetch/internal/job"
	"tubefetch/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Delivery is an opened artifact handed to exactly one client. Close it when
// the transfer ends; closing reclaims the job's files.
type Delivery struct {
	JobID   string
	Name    string
	Size    int64
	ModTime time.Time
	*os.File

	m    *Manager
	once sync.Once
}

// Close releases the file and reclaims the job. It is safe to call twice.
func (d *Delivery) Close() error {
	var err error
	d.once.Do(func() {
		err = d.File.Close()
		d.m.mu.Lock()
		delete(d.m.streaming, d.JobID)
		d.m.mu.Unlock()
		if rErr := d.m.Reclaim(d.JobID); rErr != nil && !errors.Is(rErr, ErrNotFound) {
			log.Warn().Str("job_id", d.JobID).Err(rErr).Msg("reclaim after delivery failed")
		}
	})
	return err
}

// Deliver hands out the artifact of a completed job. Only the first call for a
// job succeeds; later calls return ErrAlreadyDelivered.
func (m *Manager) Deliver(id string) (*Delivery, error) {
	snapshot, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("deliver %s: %w", id, err)
	}
	if err := deliverable(snapshot); err != nil {
		return nil, err
	}

	// open before claiming so a sweep right after the claim cannot pull the
	// file from under us
	f, err := os.Open(snapshot.OutputPath)
	if err != nil {
		// a concurrent delivery may have reclaimed it in the meantime
		if current, getErr := m.store.Get(id); getErr == nil {
			if stateErr := deliverable(current); stateErr != nil {
				return nil, stateErr
			}
		}
		return nil, fmt.Errorf("open artifact of %s: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat artifact of %s: %w", id, err)
	}

	m.mu.Lock()
	_, err = m.store.Update(id, func(j *job.Job) error {
		if err := deliverable(*j); err != nil {
			return err
		}
		j.Delivered = true
		j.StatusText = "Delivered"
		return nil
	})
	if err == nil {
		m.streaming[id] = struct{}{}
	}
	m.mu.Unlock()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	metrics.RecordDelivery()
	log.Info().Str("job_id", id).Int64("bytes", info.Size()).Msg("delivering artifact")
	return &Delivery{
		JobID:   id,
		Name:    snapshot.OutputName,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		File:    f,
		m:       m,
	}, nil
}

func deliverable(j job.Job) error {
	if j.Delivered {
		return ErrAlreadyDelivered
	}
	switch j.Status {
	case job.StatusCompleted:
		return nil
	case job.StatusError:
		return &JobFailedError{Kind: j.ErrorKind, Detail: j.ErrorDetail}
	case job.StatusExpired:
		return fmt.Errorf("%w: job expired", ErrNotFound)
	default:
		return ErrNotReady
	}
}
