// Package merge combines a video-only and an audio-only stream into one
// container using ffmpeg stream copy.
package merge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"tubefetch/internal/procgroup"

	"github.com/rs/zerolog/log"
)

const defaultBinary = "ffmpeg"

// ErrMissingInput is returned when one of the input streams is absent.
var ErrMissingInput = errors.New("merge input missing")

// Request names the inputs and output of one merge.
type Request struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	// Duration in seconds, used to turn ffmpeg's output time into a fraction.
	// Zero means unknown; only the final 1.0 is reported then.
	Duration float64
}

// Merger is the contract the download worker depends on.
type Merger interface {
	Merge(ctx context.Context, req Request, onProgress func(fraction float64)) error
	Check(ctx context.Context) error
}

// FFmpeg implements Merger with the ffmpeg binary.
type FFmpeg struct {
	bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if strings.TrimSpace(bin) == "" {
		bin = defaultBinary
	}
	return &FFmpeg{bin: bin}
}

// Check runs "ffmpeg -version".
func (f *FFmpeg) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.bin, "-hide_banner", "-version")
	procgroup.Prepare(cmd)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("ffmpeg not usable at %q: %w", f.bin, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	log.Info().Str("bin", f.bin).Str("version", strings.TrimSpace(first)).Msg("ffmpeg available")
	return nil
}

// Merge writes req.OutputPath. On failure the output is removed.
func (f *FFmpeg) Merge(ctx context.Context, req Request, onProgress func(fraction float64)) error {
	for _, p := range []string{req.VideoPath, req.AudioPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingInput, p)
		}
	}

	cmd := exec.CommandContext(ctx, f.bin, buildArgs(req)...)
	procgroup.Prepare(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr procgroup.Tail
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		fraction, ok := parseProgress(scanner.Text(), req.Duration)
		if ok && onProgress != nil {
			onProgress(fraction)
		}
	}
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(req.OutputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if last := stderr.Last(); last != "" {
			return fmt.Errorf("ffmpeg failed: %s", last)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

func buildArgs(req Request) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", req.VideoPath,
		"-i", req.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-progress", "pipe:1",
		"-nostats",
		req.OutputPath,
	}
}

// parseProgress decodes one key=value line of ffmpeg -progress output.
func parseProgress(line string, duration float64) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// both keys carry microseconds
		if duration <= 0 {
			return 0, false
		}
		us, err := strconv.ParseFloat(value, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		ratio := us / 1_000_000 / duration
		if ratio > 1 {
			ratio = 1
		}
		return ratio, true
	case "progress":
		if value == "end" {
			return 1, true
		}
	}
	return 0, false
}

var _ Merger = (*FFmpeg)(nil)
