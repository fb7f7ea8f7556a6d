package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tubefetch/internal/extract"
	fileutil "tubefetch/internal/file"
	"tubefetch/internal/job"
	"tubefetch/internal/merge"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Progress slices of a merge job.
const (
	videoPhaseEnd = 60
	audioPhaseEnd = 80

	maxDetailLen = 300
)

// artifact is what a successful run leaves behind.
type artifact struct {
	path string
	name string
}

// run drives one job from queued to a terminal status. It owns the slot taken
// by Submit and returns it via finish.
func (m *Manager) run(queued job.Job) {
	logger := log.With().Str("job_id", queued.ID).Logger()
	started := time.Now()

	ctx, cancel := context.WithTimeout(m.baseContext(), m.opts.JobTimeout)
	defer cancel()

	running, err := m.store.Update(queued.ID, func(j *job.Job) error {
		j.Status = job.StatusRunning
		j.StatusText = "Reading video information"
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("start job failed")
		m.finish(queued.ID, started, func(*job.Job) {})
		return
	}
	logger.Info().Str("url", running.URL).Msg("job started")

	dir := m.jobDir(running.ID)
	reporter := newProgressReporter(m.store, running.ID, m.opts.ProgressInterval, logger)

	out, err := m.execute(ctx, running, dir, reporter)
	if err != nil {
		m.fail(ctx, running.ID, started, dir, logger, err)
		return
	}

	final := m.finish(running.ID, started, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.SetProgress(100)
		j.StatusText = "Ready for download"
		j.OutputPath = out.path
		j.OutputName = out.name
	})
	logger.Info().Str("output", final.OutputName).Dur("took", time.Since(started)).Msg("job completed")
}

func (m *Manager) execute(ctx context.Context, j job.Job, dir string, reporter *progressReporter) (artifact, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return artifact{}, failAt(job.FailureInternal, "Could not prepare working directory", err)
	}

	info, err := m.extractor.ListFormats(ctx, j.URL)
	if err != nil {
		return artifact{}, failAt(job.FailureExtraction, "Could not read video information", err)
	}
	if _, err := m.store.Update(j.ID, func(draft *job.Job) error {
		draft.Title = info.Title
		return nil
	}); err != nil {
		return artifact{}, failAt(job.FailureInternal, "Could not record video title", err)
	}
	baseName := fileutil.SanitizeFilename(info.Title, "video")

	if j.Mode == job.ModeMerge {
		return m.executeMerge(ctx, j, info, dir, baseName, reporter)
	}

	format, err := info.Lookup(j.RequestedFormats[0])
	if err != nil {
		return artifact{}, failAt(job.FailureExtraction, "Selected format is not available", err)
	}
	dest := filepath.Join(dir, "output."+format.Container)
	reporter.phase(0, 100, "Downloading")
	if err := m.extractor.FetchStream(ctx, extract.FetchRequest{PageURL: j.URL, Format: format, Dest: dest}, reporter.bytes); err != nil {
		return artifact{}, failAt(job.FailureDownload, "Download failed", err)
	}
	reporter.end()
	return artifact{path: dest, name: baseName + "." + format.Container}, nil
}

func (m *Manager) executeMerge(ctx context.Context, j job.Job, info *extract.Info, dir, baseName string, reporter *progressReporter) (artifact, error) {
	video, err := info.Lookup(j.RequestedFormats[0])
	if err != nil {
		return artifact{}, failAt(job.FailureExtraction, "Selected video format is not available", err)
	}
	if !video.HasVideo {
		return artifact{}, failAt(job.FailureExtraction, "Selected video format has no video stream",
			fmt.Errorf("format %s", video.ID))
	}
	audio, err := info.Lookup(j.RequestedFormats[1])
	if err != nil {
		return artifact{}, failAt(job.FailureExtraction, "Selected audio format is not available", err)
	}
	if !audio.HasAudio {
		return artifact{}, failAt(job.FailureExtraction, "Selected audio format has no audio stream",
			fmt.Errorf("format %s", audio.ID))
	}

	videoPath := filepath.Join(dir, "video."+video.Container)
	audioPath := filepath.Join(dir, "audio."+audio.Container)
	outPath := filepath.Join(dir, "output."+m.opts.MergeContainer)

	reporter.phase(0, videoPhaseEnd, "Downloading video stream")
	if err := m.extractor.FetchStream(ctx, extract.FetchRequest{PageURL: j.URL, Format: video, Dest: videoPath}, reporter.bytes); err != nil {
		return artifact{}, failAt(job.FailureDownload, "Video download failed", err)
	}
	reporter.end()
	reporter.phase(videoPhaseEnd, audioPhaseEnd, "Downloading audio stream")
	if err := m.extractor.FetchStream(ctx, extract.FetchRequest{PageURL: j.URL, Format: audio, Dest: audioPath}, reporter.bytes); err != nil {
		return artifact{}, failAt(job.FailureDownload, "Audio download failed", err)
	}
	reporter.end()

	reporter.phase(audioPhaseEnd, 100, "Merging audio and video")
	err = m.merger.Merge(ctx, merge.Request{
		VideoPath:  videoPath,
		AudioPath:  audioPath,
		OutputPath: outPath,
		Duration:   info.Duration,
	}, reporter.fraction)
	if err != nil {
		return artifact{}, failAt(job.FailureMerge, "Merging failed", err)
	}
	reporter.end()
	if err := fileutil.RemoveFiles(videoPath, audioPath); err != nil {
		reporter.logger.Warn().Err(err).Msg("remove merge inputs failed")
	}
	return artifact{path: outPath, name: baseName + "." + m.opts.MergeContainer}, nil
}

// fail removes everything the job wrote, then records the failure and
// releases the slot.
func (m *Manager) fail(ctx context.Context, id string, started time.Time, dir string, logger zerolog.Logger, err error) {
	kind, detail := m.classify(ctx, err)
	if rmErr := fileutil.RemoveTree(dir); rmErr != nil {
		logger.Warn().Err(rmErr).Msg("remove job dir failed")
	}
	m.finish(id, started, func(j *job.Job) {
		j.Status = job.StatusError
		j.StatusText = "Failed"
		j.ErrorKind = kind
		j.ErrorDetail = detail
	})
	logger.Warn().Err(err).Str("kind", string(kind)).Dur("took", time.Since(started)).Msg("job failed")
}

// classify turns a worker error into a failure kind and a one-line message.
// Deadline and shutdown take precedence over the phase the error surfaced in.
func (m *Manager) classify(ctx context.Context, err error) (job.FailureKind, string) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return job.FailureTimeout, fmt.Sprintf("Download did not finish within %s", m.opts.JobTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return job.FailureCanceled, "Server is shutting down"
	}

	var se *stageError
	if !errors.As(err, &se) {
		return job.FailureInternal, "Unexpected internal error"
	}
	detail := se.detail
	if errors.Is(err, extract.ErrUnavailable) {
		detail = "Video is unavailable"
	}
	if reason := shortReason(se.err); reason != "" {
		detail += ": " + reason
	}
	return se.kind, truncate(detail, maxDetailLen)
}

// shortReason keeps the last line of tool output, never a whole stderr dump.
func shortReason(err error) string {
	var toolErr *extract.ToolError
	msg := err.Error()
	if errors.As(err, &toolErr) && toolErr.Detail != "" {
		msg = toolErr.Detail
	}
	msg = strings.TrimSpace(msg)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	return strings.TrimPrefix(msg, "ERROR: ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
