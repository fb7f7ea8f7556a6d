package api

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"tubefetch/internal/download"
	"tubefetch/internal/extract"
	"tubefetch/internal/job"
)

type startResponse struct {
	JobID string `json:"job_id"`
}

type formatsRequest struct {
	URL string `json:"url"`
}

type statusResponse struct {
	JobID      string          `json:"job_id"`
	Status     job.Status      `json:"status"`
	Progress   int             `json:"progress"`
	StatusText string          `json:"status_text"`
	Mode       job.Mode        `json:"mode"`
	Title      string          `json:"title,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  job.FailureKind `json:"error_kind,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	CreatedAt  string          `json:"created_at"`
	FileURL    string          `json:"file_url,omitempty"`
}

type API struct {
	manager *download.Manager
	// pollInterval paces WebSocket status pushes.
	pollInterval time.Duration
}

const defaultPollInterval = 250 * time.Millisecond

func NewAPI(manager *download.Manager, pollInterval time.Duration) *API {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &API{manager: manager, pollInterval: pollInterval}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/formats", a.Formats)
		api.POST("/download/start", a.StartDownload)
		api.GET("/download/status/:job_id", a.GetStatus)
		api.GET("/download/file/:job_id", a.DownloadFile)
		api.GET("/download/ws/:job_id", a.WatchStatus)
	}
	router.GET("/healthz", a.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// StartDownload admits a new job and returns its id without waiting for it.
func (a *API) StartDownload(c *gin.Context) {
	var req download.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid start request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id, err := a.manager.Submit(req)
	if err != nil {
		respondError(c, "", err)
		return
	}
	c.JSON(http.StatusAccepted, startResponse{JobID: id})
}

// GetStatus returns a fresh view of the job.
func (a *API) GetStatus(c *gin.Context) {
	id := c.Param("job_id")
	snapshot, err := a.manager.Status(id)
	if err != nil {
		respondError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(snapshot))
}

// DownloadFile streams a completed artifact to the first client asking for it.
func (a *API) DownloadFile(c *gin.Context) {
	id := c.Param("job_id")
	delivery, err := a.manager.Deliver(id)
	if err != nil {
		respondError(c, id, err)
		return
	}
	defer func() {
		if err := delivery.Close(); err != nil {
			log.Warn().Str("job_id", id).Err(err).Msg("close delivery failed")
		}
	}()

	log.Info().Str("job_id", id).Str("name", delivery.Name).Int64("bytes", delivery.Size).Msg("serving download")
	// the claim is spent by this request, so Range and conditional headers
	// are ignored and the whole file is always sent
	contentType := mime.TypeByExtension(filepath.Ext(delivery.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, delivery.Size, contentType, delivery, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": delivery.Name}),
		"Last-Modified":       delivery.ModTime.UTC().Format(http.TimeFormat),
		"Cache-Control":       "no-store",
	})
}

// Formats lists the formats of a video grouped for selection.
func (a *API) Formats(c *gin.Context) {
	var req formatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	analysis, err := a.manager.Formats(c.Request.Context(), req.URL)
	if err != nil {
		respondError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "busy": a.manager.IsBusy()})
}

// respondError maps manager errors onto HTTP status codes.
func respondError(c *gin.Context, id string, err error) {
	var failed *download.JobFailedError
	switch {
	case errors.Is(err, download.ErrInvalidInput):
		log.Warn().Err(err).Msg("rejecting invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, download.ErrBusy):
		log.Warn().Msg("rejecting download: all worker slots busy")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, download.ErrNotFound):
		log.Warn().Str("job_id", id).Msg("job not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, download.ErrNotReady), errors.Is(err, download.ErrAlreadyDelivered):
		log.Warn().Str("job_id", id).Err(err).Msg("file not available")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &failed):
		log.Warn().Str("job_id", id).Str("kind", string(failed.Kind)).Msg("file requested for failed job")
		c.JSON(http.StatusNotFound, gin.H{"error": failed.Detail, "error_kind": failed.Kind})
	case errors.Is(err, extract.ErrUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "video is unavailable"})
	default:
		log.Error().Str("job_id", id).Err(err).Msg("request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not complete request"})
	}
}

func toStatusResponse(j job.Job) statusResponse {
	resp := statusResponse{
		JobID:      j.ID,
		Status:     j.Status,
		Progress:   j.Progress,
		StatusText: j.StatusText,
		Mode:       j.Mode,
		Title:      j.Title,
		CreatedAt:  j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.Status == job.StatusError {
		resp.Error = j.ErrorDetail
		resp.ErrorKind = j.ErrorKind
		resp.Retryable = j.ErrorKind.Retryable()
	}
	if j.Status == job.StatusCompleted && !j.Delivered {
		resp.FileURL = "/api/download/file/" + j.ID
	}
	return resp
}
