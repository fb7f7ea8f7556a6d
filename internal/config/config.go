package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 8080
	defaultDataDir           = "data"
	defaultMaxConcurrentJobs = 1
	defaultJobTimeout        = 30 * time.Minute
	defaultStaleAfter        = time.Hour
	defaultSweepInterval     = time.Minute
	defaultProgressInterval  = 250 * time.Millisecond
	defaultFetchTimeout      = 20 * time.Second
	defaultMergeContainer    = "mp4"
	defaultLogLevel          = "info"
)

// mergeContainers are the accepted extensions for merged output.
var mergeContainers = map[string]struct{}{"mp4": {}, "mkv": {}, "webm": {}, "mov": {}}

// Config describes runtime configuration for the service.
type Config struct {
	Port               int           `yaml:"port"`
	DataDir            string        `yaml:"data_dir"`
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	ProgressInterval   time.Duration `yaml:"progress_interval"`
	// FetchHeaderTimeout bounds the wait for response headers on direct
	// stream downloads. Bodies are limited only by job_timeout.
	FetchHeaderTimeout time.Duration `yaml:"fetch_header_timeout"`
	YTDLPPath          string        `yaml:"ytdlp_path"`
	FFmpegPath         string        `yaml:"ffmpeg_path"`
	MergeContainer     string        `yaml:"merge_container"`
	AllowedHosts       []string      `yaml:"allowed_hosts"`
	LogLevel           string        `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		MaxConcurrentJobs:  defaultMaxConcurrentJobs,
		JobTimeout:         defaultJobTimeout,
		StaleAfter:         defaultStaleAfter,
		SweepInterval:      defaultSweepInterval,
		ProgressInterval:   defaultProgressInterval,
		FetchHeaderTimeout: defaultFetchTimeout,
		YTDLPPath:          "yt-dlp",
		FFmpegPath:         "ffmpeg",
		MergeContainer:     defaultMergeContainer,
		AllowedHosts:       []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be"},
		LogLevel:           defaultLogLevel,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	// values < 1 are not allowed
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", c.MaxConcurrentJobs)
	}
	for name, d := range map[string]time.Duration{
		"job_timeout":          c.JobTimeout,
		"stale_after":          c.StaleAfter,
		"sweep_interval":       c.SweepInterval,
		"fetch_header_timeout": c.FetchHeaderTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %s (must be > 0)", name, d)
		}
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("invalid progress_interval: %s", c.ProgressInterval)
	}
	if strings.TrimSpace(c.YTDLPPath) == "" {
		c.YTDLPPath = "yt-dlp"
	}
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	c.MergeContainer = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.MergeContainer)), ".")
	if c.MergeContainer == "" {
		c.MergeContainer = defaultMergeContainer
	}
	if _, ok := mergeContainers[c.MergeContainer]; !ok {
		return fmt.Errorf("invalid merge_container: %q", c.MergeContainer)
	}
	c.AllowedHosts = normalizeHosts(c.AllowedHosts)
	if len(c.AllowedHosts) == 0 {
		c.AllowedHosts = Default().AllowedHosts
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// Level returns the configured zerolog level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func normalizeHosts(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, host := range in {
		h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		normalized = append(normalized, h)
	}
	return normalized
}
