package download

import (
	"time"

	"tubefetch/internal/job"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// progressReporter maps a phase-local fraction onto a slice of the job's
// 0-100 progress and writes it to the store at a bounded rate.
type progressReporter struct {
	store   *job.Store
	id      string
	limiter *rate.Limiter
	logger  zerolog.Logger
	lo, hi  int
}

func newProgressReporter(store *job.Store, id string, interval time.Duration, logger zerolog.Logger) *progressReporter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &progressReporter{
		store:   store,
		id:      id,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// phase starts a new slice [lo,hi] and publishes it immediately.
func (r *progressReporter) phase(lo, hi int, text string) {
	r.lo, r.hi = lo, hi
	r.write(lo, text)
}

// bytes is an extract.ProgressFunc.
func (r *progressReporter) bytes(received, total int64) {
	if total <= 0 {
		return
	}
	r.fraction(float64(received) / float64(total))
}

func (r *progressReporter) fraction(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	// totals may be estimates, so 1 is throttled too; end marks the boundary
	if !r.limiter.Allow() {
		return
	}
	r.write(r.lo+int(f*float64(r.hi-r.lo)), "")
}

// end publishes the upper bound of the current phase regardless of the limiter.
func (r *progressReporter) end() {
	r.write(r.hi, "")
}

func (r *progressReporter) write(p int, text string) {
	_, err := r.store.Update(r.id, func(j *job.Job) error {
		j.SetProgress(p)
		if text != "" {
			j.StatusText = text
		}
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("progress update failed")
	}
}
