package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tubefetch/internal/api"
	"tubefetch/internal/config"
	"tubefetch/internal/download"
	"tubefetch/internal/extract"
	"tubefetch/internal/fetch"
	fileutil "tubefetch/internal/file"
	"tubefetch/internal/merge"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	toolCheckTimeout  = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	manager, err := buildManager(baseCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise downloader")
	}
	manager.SetBaseContext(baseCtx)

	router := setupRouter()
	api.NewAPI(manager, cfg.ProgressInterval).RegisterRoutes(router)
	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(sigCtx)
	manager.StartSweeper(baseCtx, cfg.SweepInterval)
	group.Go(func() error {
		log.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Int("max_jobs", cfg.MaxConcurrentJobs).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutdown signal received")
		gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

// buildManager wires the external tools and refuses to start when either is
// missing, then removes whatever a previous process left in the data dir.
func buildManager(ctx context.Context, cfg config.Config) (*download.Manager, error) {
	checkCtx, cancel := context.WithTimeout(ctx, toolCheckTimeout)
	defer cancel()

	ytdlp := extract.NewYTDLP(cfg.YTDLPPath, fetch.NewClient(fetch.WithHeaderTimeout(ctx, cfg.FetchHeaderTimeout)))
	if err := ytdlp.Check(checkCtx); err != nil {
		return nil, fmt.Errorf("yt-dlp check: %w", err)
	}
	ffmpeg := merge.NewFFmpeg(cfg.FFmpegPath)
	if err := ffmpeg.Check(checkCtx); err != nil {
		return nil, fmt.Errorf("ffmpeg check: %w", err)
	}

	manager := download.NewManager(download.Options{
		DataDir:           cfg.DataDir,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		StaleAfter:        cfg.StaleAfter,
		ProgressInterval:  cfg.ProgressInterval,
		MergeContainer:    cfg.MergeContainer,
		AllowedHosts:      cfg.AllowedHosts,
	}, ytdlp, ffmpeg)

	removed, err := manager.PurgeOrphans()
	if err != nil {
		return nil, fmt.Errorf("purge leftovers: %w", err)
	}
	if removed > 0 {
		log.Info().Int("dirs", removed).Msg("removed leftovers of a previous run")
	}
	return manager, nil
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *download.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if done := manager.WaitAll(ctx); !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
