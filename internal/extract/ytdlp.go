package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"tubefetch/internal/fetch"
	"tubefetch/internal/procgroup"

	"github.com/rs/zerolog/log"
)

const (
	defaultBinary = "yt-dlp"

	// progressMarker prefixes every machine readable progress line we ask yt-dlp for.
	progressMarker   = "tubefetch-progress"
	progressTemplate = "download:" + progressMarker +
		" %(progress.downloaded_bytes)s %(progress.total_bytes)s %(progress.total_bytes_estimate)s"
)

var unavailableMarkers = []string{
	"video unavailable",
	"private video",
	"has been removed",
	"This video is not available",
	"is not a valid URL",
	"Unsupported URL",
}

// YTDLP implements Extractor on top of the yt-dlp binary.
type YTDLP struct {
	bin     string
	fetcher *fetch.Client
}

// NewYTDLP builds an adapter. Direct HTTP formats are streamed through fetcher;
// any other protocol is downloaded by yt-dlp itself.
func NewYTDLP(bin string, fetcher *fetch.Client) *YTDLP {
	if strings.TrimSpace(bin) == "" {
		bin = defaultBinary
	}
	return &YTDLP{bin: bin, fetcher: fetcher}
}

// Check verifies the binary can be executed.
func (y *YTDLP) Check(ctx context.Context) error {
	out, err := y.run(ctx, "--version")
	if err != nil {
		return err
	}
	log.Info().Str("bin", y.bin).Str("version", strings.TrimSpace(string(out))).Msg("yt-dlp available")
	return nil
}

// ListFormats runs yt-dlp in metadata-only mode.
func (y *YTDLP) ListFormats(ctx context.Context, pageURL string) (*Info, error) {
	out, err := y.run(ctx, "-J", "--no-warnings", "--skip-download", "--no-playlist", pageURL)
	if err != nil {
		return nil, err
	}
	return parseInfo(out)
}

// FetchStream downloads one format to req.Dest.
func (y *YTDLP) FetchStream(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error {
	if req.Format.DirectHTTP() && y.fetcher != nil {
		_, err := y.fetcher.Download(ctx, fetch.Source{
			URL:          req.Format.URL,
			Headers:      req.Format.Headers,
			ExpectedSize: req.Format.ApproxSize,
		}, req.Dest, fetch.ProgressFunc(onProgress))
		if err != nil {
			return fmt.Errorf("fetch format %s: %w", req.Format.ID, err)
		}
		return nil
	}
	return y.downloadWithTool(ctx, req, onProgress)
}

func (y *YTDLP) downloadWithTool(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error {
	args := []string{
		"-f", req.Format.ID,
		"-o", req.Dest,
		"--no-playlist",
		"--no-part",
		"--force-overwrites",
		"--no-warnings",
		"--newline",
		"--progress",
		"--progress-template", progressTemplate,
		req.PageURL,
	}
	cmd := exec.CommandContext(ctx, y.bin, args...)
	procgroup.Prepare(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp stdout pipe: %w", err)
	}
	var stderr procgroup.Tail
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		received, total, ok := parseProgressLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(received, total)
		}
	}
	// drain so Wait does not block on a full pipe after a scanner error
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(req.Dest)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyToolError(filepath.Base(y.bin), stderr.Last(), err)
	}
	if _, err := os.Stat(req.Dest); err != nil {
		return fmt.Errorf("yt-dlp produced no output for format %s: %w", req.Format.ID, err)
	}
	return nil
}

func (y *YTDLP) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.bin, args...)
	procgroup.Prepare(cmd)
	var stdout bytes.Buffer
	var stderr procgroup.Tail
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyToolError(filepath.Base(y.bin), stderr.Last(), err)
	}
	return stdout.Bytes(), nil
}

func classifyToolError(tool, detail string, err error) error {
	lower := strings.ToLower(detail)
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return &ToolError{Tool: tool, Detail: detail, Err: ErrUnavailable}
		}
	}
	return &ToolError{Tool: tool, Detail: detail, Err: err}
}

type rawFormat struct {
	FormatID       string            `json:"format_id"`
	Ext            string            `json:"ext"`
	Height         *float64          `json:"height"`
	FPS            *float64          `json:"fps"`
	VCodec         *string           `json:"vcodec"`
	ACodec         *string           `json:"acodec"`
	ABR            *float64          `json:"abr"`
	Filesize       *float64          `json:"filesize"`
	FilesizeApprox *float64          `json:"filesize_approx"`
	Protocol       string            `json:"protocol"`
	URL            string            `json:"url"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

type rawInfo struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Uploader  string      `json:"uploader"`
	Duration  *float64    `json:"duration"`
	Thumbnail string      `json:"thumbnail"`
	Formats   []rawFormat `json:"formats"`
}

func parseInfo(data []byte) (*Info, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yt-dlp metadata: %w", err)
	}
	if raw.ID == "" && len(raw.Formats) == 0 {
		return nil, fmt.Errorf("%w: empty metadata", ErrUnavailable)
	}
	info := &Info{
		ID:        raw.ID,
		Title:     orDefault(raw.Title, "Unknown"),
		Uploader:  orDefault(raw.Uploader, "Unknown"),
		Duration:  deref(raw.Duration),
		Thumbnail: raw.Thumbnail,
		Formats:   make([]Format, 0, len(raw.Formats)),
	}
	for _, rf := range raw.Formats {
		if rf.FormatID == "" || rf.Ext == "mhtml" {
			continue
		}
		vcodec := codecOrNone(rf.VCodec)
		acodec := codecOrNone(rf.ACodec)
		height := int(deref(rf.Height))
		size := deref(rf.Filesize)
		if size <= 0 {
			size = deref(rf.FilesizeApprox)
		}
		f := Format{
			ID:         rf.FormatID,
			Container:  orDefault(rf.Ext, "unknown"),
			Height:     height,
			FPS:        deref(rf.FPS),
			HasVideo:   vcodec != "none",
			HasAudio:   acodec != "none",
			VCodec:     vcodec,
			ACodec:     acodec,
			AudioKbps:  deref(rf.ABR),
			ApproxSize: int64(math.Round(size)),
			Protocol:   rf.Protocol,
			URL:        rf.URL,
			Headers:    rf.HTTPHeaders,
		}
		f.Resolution = "Audio"
		if height > 0 {
			f.Resolution = strconv.Itoa(height) + "p"
		}
		info.Formats = append(info.Formats, f)
	}
	return info, nil
}

// parseProgressLine decodes a line emitted through progressTemplate.
// Unknown values are printed by yt-dlp as "NA".
func parseProgressLine(line string) (received, total int64, ok bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 4 || fields[0] != progressMarker {
		return 0, 0, false
	}
	received, ok = parseBytes(fields[1])
	if !ok {
		return 0, 0, false
	}
	if t, known := parseBytes(fields[2]); known {
		total = t
	} else if t, known := parseBytes(fields[3]); known {
		total = t
	}
	return received, total, true
}

func parseBytes(s string) (int64, bool) {
	if s == "" || s == "NA" || s == "None" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(v), true
}

func codecOrNone(c *string) string {
	if c == nil || *c == "" {
		return "none"
	}
	return *c
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var _ Extractor = (*YTDLP)(nil)
