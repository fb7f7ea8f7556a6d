package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.MaxConcurrentJobs != 1 || cfg.JobTimeout != 30*time.Minute {
		t.Fatalf("default config invalid: %+v", cfg)
	}

	got := normalizeHosts([]string{"YouTube.com", "youtube.com.", "  ", "youtu.be"})
	if len(got) != 2 || got[0] != "youtube.com" || got[1] != "youtu.be" {
		t.Fatalf("expected deduplicated lower-case hosts, got %v", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.MergeContainer != "mp4" {
		t.Fatalf("expected default container, got %q", cfg.MergeContainer)
	}
}

func TestLoadReadsAndValidates(t *testing.T) {
	path := writeConfig(t, `port: 9090
data_dir: testdata
max_concurrent_jobs: 2
job_timeout: 10m
stale_after: 2h
sweep_interval: 30s
progress_interval: 100ms
fetch_header_timeout: 5s
ffmpeg_path: /usr/local/bin/ffmpeg
merge_container: .MKV
allowed_hosts: [YouTu.be]
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" || cfg.MaxConcurrentJobs != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.JobTimeout != 10*time.Minute || cfg.StaleAfter != 2*time.Hour || cfg.SweepInterval != 30*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg)
	}
	if cfg.ProgressInterval != 100*time.Millisecond {
		t.Fatalf("progress interval not parsed: %s", cfg.ProgressInterval)
	}
	if cfg.FetchHeaderTimeout != 5*time.Second {
		t.Fatalf("fetch header timeout not parsed: %s", cfg.FetchHeaderTimeout)
	}
	if cfg.MergeContainer != "mkv" {
		t.Fatalf("container not normalized: %q", cfg.MergeContainer)
	}
	if len(cfg.AllowedHosts) != 1 || cfg.AllowedHosts[0] != "youtu.be" {
		t.Fatalf("hosts not normalized: %v", cfg.AllowedHosts)
	}
	if cfg.YTDLPPath != "yt-dlp" || cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Fatalf("unexpected tool paths: %q %q", cfg.YTDLPPath, cfg.FFmpegPath)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.Level())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []string{
		"max_concurrent_jobs: 0\n",
		"job_timeout: 0s\n",
		"stale_after: -1m\n",
		"progress_interval: -5ms\n",
		"fetch_header_timeout: 0s\n",
		"merge_container: avi\n",
		"log_level: loud\n",
		"job_timeout: soon\n",
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}
