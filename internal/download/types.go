package download

import (
	"time"

	"tubefetch/internal/job"
)

// Request is a client's download submission.
type Request struct {
	URL           string   `json:"url"`
	Mode          job.Mode `json:"mode"`
	FormatID      string   `json:"format_id"`
	VideoFormatID string   `json:"video_format_id"`
	AudioFormatID string   `json:"audio_format_id"`
}

type Options struct {
	DataDir           string
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	StaleAfter        time.Duration
	ProgressInterval  time.Duration
	MergeContainer    string
	AllowedHosts      []string
}

const (
	defaultMaxConcurrent    = 1
	defaultJobTimeout       = 30 * time.Minute
	defaultStaleAfter       = time.Hour
	defaultProgressInterval = 250 * time.Millisecond
	defaultMergeContainer   = "mp4"

	jobsDirName = "jobs"
)

var defaultAllowedHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtu.be",
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	if o.MaxConcurrentJobs <= 0 {
		o.MaxConcurrentJobs = defaultMaxConcurrent
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = defaultJobTimeout
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	// negative disables progress throttling
	if o.ProgressInterval == 0 {
		o.ProgressInterval = defaultProgressInterval
	}
	if o.MergeContainer == "" {
		o.MergeContainer = defaultMergeContainer
	}
	if len(o.AllowedHosts) == 0 {
		o.AllowedHosts = defaultAllowedHosts
	}
	return o
}
