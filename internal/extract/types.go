// Package extract resolves media page URLs into downloadable stream
// descriptors and fetches individual streams. The default implementation
// drives the yt-dlp command line tool.
package extract

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the video does not exist, was removed or is private.
	ErrUnavailable = errors.New("video unavailable")
	// ErrFormatNotFound means the requested format id is not offered for the video.
	ErrFormatNotFound = errors.New("format not found")
)

// ToolError wraps a failed external tool invocation with its last stderr line.
type ToolError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Detail)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Format describes one stream offered for a video.
type Format struct {
	ID         string  `json:"format_id"`
	Container  string  `json:"container"`
	Resolution string  `json:"resolution"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	HasAudio   bool    `json:"has_audio"`
	HasVideo   bool    `json:"has_video"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	AudioKbps  float64 `json:"abr,omitempty"`
	ApproxSize int64   `json:"approx_size"`

	Protocol string            `json:"-"`
	URL      string            `json:"-"`
	Headers  map[string]string `json:"-"`
}

// DirectHTTP reports whether the stream can be fetched with a single GET.
func (f Format) DirectHTTP() bool {
	return f.URL != "" && (f.Protocol == "https" || f.Protocol == "http")
}

// Info is the metadata of one video.
type Info struct {
	ID        string   `json:"video_id"`
	Title     string   `json:"title"`
	Uploader  string   `json:"author"`
	Duration  float64  `json:"duration"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Formats   []Format `json:"formats"`
}

// Lookup returns the format with the given id.
func (i *Info) Lookup(formatID string) (Format, error) {
	for _, f := range i.Formats {
		if f.ID == formatID {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: %s", ErrFormatNotFound, formatID)
}

// ProgressFunc receives cumulative bytes written and the expected total (0 if unknown).
type ProgressFunc func(received, total int64)

// FetchRequest names one stream of one video and where to store it.
type FetchRequest struct {
	PageURL string
	Format  Format
	Dest    string
}

// Extractor is the contract the download worker depends on.
type Extractor interface {
	ListFormats(ctx context.Context, pageURL string) (*Info, error)
	FetchStream(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error
}
