// Package testutil provides in-memory stand-ins for the external tools so
// job behaviour can be tested without yt-dlp or ffmpeg.
package testutil

import (
	"context"
	"errors"
	"os"
	"sync"

	"tubefetch/internal/extract"
	"tubefetch/internal/merge"
)

// SampleInfo describes a video offering a progressive, a video-only and an
// audio-only format.
func SampleInfo() *extract.Info {
	return &extract.Info{
		ID:       "dQw4w9WgXcQ",
		Title:    "Sample Clip: Live",
		Uploader: "Tester",
		Duration: 10,
		Formats: []extract.Format{
			{ID: "18", Container: "mp4", Resolution: "360p", Height: 360, HasVideo: true, HasAudio: true, ApproxSize: 4096},
			{ID: "137", Container: "mp4", Resolution: "1080p", Height: 1080, HasVideo: true, ApproxSize: 8192},
			{ID: "140", Container: "m4a", Resolution: "Audio", HasAudio: true, AudioKbps: 128, ApproxSize: 2048},
		},
	}
}

// FakeExtractor serves Info and writes Payload for every fetched stream,
// reporting progress in Chunks steps.
type FakeExtractor struct {
	Info    *extract.Info
	ListErr error
	Payload []byte
	Chunks  int
	// Fetch replaces the default stream writer when set.
	Fetch func(ctx context.Context, req extract.FetchRequest, onProgress extract.ProgressFunc) error

	mu      sync.Mutex
	fetched []extract.FetchRequest
}

func NewFakeExtractor() *FakeExtractor {
	return &FakeExtractor{Info: SampleInfo(), Payload: []byte("media-bytes"), Chunks: 4}
}

func (f *FakeExtractor) ListFormats(ctx context.Context, _ string) (*extract.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	info := *f.Info
	info.Formats = append([]extract.Format(nil), f.Info.Formats...)
	return &info, nil
}

func (f *FakeExtractor) FetchStream(ctx context.Context, req extract.FetchRequest, onProgress extract.ProgressFunc) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, req)
	f.mu.Unlock()
	if f.Fetch != nil {
		return f.Fetch(ctx, req, onProgress)
	}
	total := int64(len(f.Payload))
	chunks := max(f.Chunks, 1)
	for i := 1; i <= chunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(total*int64(i)/int64(chunks), total)
		}
	}
	if err := os.WriteFile(req.Dest, f.Payload, 0o600); err != nil {
		return err
	}
	return nil
}

// Fetched returns the requests seen so far.
func (f *FakeExtractor) Fetched() []extract.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extract.FetchRequest(nil), f.fetched...)
}

// BlockingFetch returns a Fetch func that writes a partial file and then
// waits for release or context cancellation. started is closed once the
// partial file exists.
func BlockingFetch(started chan<- struct{}, release <-chan struct{}) func(context.Context, extract.FetchRequest, extract.ProgressFunc) error {
	var once sync.Once
	return func(ctx context.Context, req extract.FetchRequest, onProgress extract.ProgressFunc) error {
		if err := os.WriteFile(req.Dest, []byte("partial"), 0o600); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(1, 10)
		}
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return os.WriteFile(req.Dest, []byte("complete"), 0o600)
		}
	}
}

// FakeMerger concatenates the inputs into the output.
type FakeMerger struct {
	Err error
}

func (f *FakeMerger) Check(context.Context) error { return nil }

func (f *FakeMerger) Merge(ctx context.Context, req merge.Request, onProgress func(float64)) error {
	if f.Err != nil {
		return f.Err
	}
	video, err := os.ReadFile(req.VideoPath)
	if err != nil {
		return errors.Join(merge.ErrMissingInput, err)
	}
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return errors.Join(merge.ErrMissingInput, err)
	}
	if onProgress != nil {
		onProgress(0.5)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return err
	}
	_, _ = out.Write(video)
	_, _ = out.Write(audio)
	if err := out.Close(); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// DirEmpty reports whether dir has no entries or does not exist.
func DirEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return os.IsNotExist(err)
	}
	return len(entries) == 0
}

var (
	_ extract.Extractor = (*FakeExtractor)(nil)
	_ merge.Merger      = (*FakeMerger)(nil)
)
