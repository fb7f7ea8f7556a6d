package download

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"tubefetch/internal/extract"
	"tubefetch/internal/job"
	"tubefetch/internal/merge"
	"tubefetch/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Manager admits download jobs, runs them in the background and hands out
// their artifacts.
type Manager struct {
	opts      Options
	store     *job.Store
	extractor extract.Extractor
	merger    merge.Merger
	validator *validator

	// slots bounds the number of jobs holding a worker. admitMu serializes
	// taking a slot in Submit with the terminal update plus release in finish,
	// so a job observed as terminal has always given its slot back.
	slots   chan struct{}
	admitMu sync.Mutex

	mu        sync.RWMutex
	baseCtx   context.Context
	streaming map[string]struct{}

	workersWG sync.WaitGroup
}

func NewManager(opts Options, extractor extract.Extractor, merger merge.Merger) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:      opts,
		store:     job.NewStore(),
		extractor: extractor,
		merger:    merger,
		validator: newValidator(opts.AllowedHosts),
		slots:     make(chan struct{}, opts.MaxConcurrentJobs),
		baseCtx:   context.Background(),
		streaming: make(map[string]struct{}),
	}
}

// Store exposes the job registry. Intended for tests and diagnostics.
func (m *Manager) Store() *job.Store { return m.store }

// IsBusy reports whether every worker slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.slots) >= cap(m.slots)
}

// Submit validates r, takes a worker slot and starts the job in the
// background. It returns the new job id without waiting for any work.
func (m *Manager) Submit(r Request) (string, error) {
	template, err := m.validator.normalize(r)
	if err != nil {
		metrics.RecordReject("invalid")
		return "", err
	}

	m.admitMu.Lock()
	select {
	case m.slots <- struct{}{}:
	default:
		m.admitMu.Unlock()
		metrics.RecordReject("busy")
		return "", ErrBusy
	}
	created := m.store.Create(template)
	m.workersWG.Add(1)
	m.admitMu.Unlock()

	metrics.RecordSubmit(string(created.Mode))
	log.Info().Str("job_id", created.ID).Str("mode", string(created.Mode)).
		Strs("formats", created.RequestedFormats).Msg("job admitted")

	go func() {
		defer m.workersWG.Done()
		m.run(created)
	}()
	return created.ID, nil
}

// Status returns a fresh snapshot of the job.
func (m *Manager) Status(id string) (job.Job, error) {
	snapshot, err := m.store.Get(id)
	if err != nil {
		return job.Job{}, fmt.Errorf("status %s: %w", id, err)
	}
	return snapshot, nil
}

// Formats lists and groups the formats offered for pageURL.
func (m *Manager) Formats(ctx context.Context, pageURL string) (extract.Analysis, error) {
	checked, err := m.validator.checkURL(pageURL)
	if err != nil {
		return extract.Analysis{}, err
	}
	info, err := m.extractor.ListFormats(ctx, checked)
	if err != nil {
		return extract.Analysis{}, fmt.Errorf("list formats: %w", err)
	}
	return extract.Analyze(info, m.opts.MergeContainer), nil
}

// SetBaseContext sets the parent context of every job. Intended to be set at
// process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

func (m *Manager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

// WaitAll blocks until all in-flight workers and the sweeper finish or the
// context is done. Returns true if everything finished.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) jobsRoot() string {
	return filepath.Join(m.opts.DataDir, jobsDirName)
}

func (m *Manager) jobDir(id string) string {
	return filepath.Join(m.jobsRoot(), id)
}

// finish commits the terminal state of a running job and gives its slot back
// in one step.
func (m *Manager) finish(id string, started time.Time, mutate func(*job.Job)) job.Job {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()
	defer func() { <-m.slots }()

	final, err := m.store.Update(id, func(j *job.Job) error {
		mutate(j)
		return nil
	})
	if err != nil {
		log.Error().Str("job_id", id).Err(err).Msg("commit terminal state failed")
	}
	metrics.RecordFinish(string(final.Mode), string(final.Status), string(final.ErrorKind), time.Since(started))
	return final
}

func (m *Manager) isStreaming(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streaming[id]
	return ok
}
