package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tubefetch/internal/download"
	"tubefetch/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	watchURL  = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	startBody = `{"url":"` + watchURL + `","mode":"single","format_id":"18"}`
)

func setupRouter(t *testing.T, ext *testutil.FakeExtractor) (*gin.Engine, *download.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	testRouter.Use(gin.Recovery(), ZerologLogger())
	testManager := download.NewManager(download.Options{
		DataDir:           t.TempDir(),
		MaxConcurrentJobs: 1,
		ProgressInterval:  -1,
	}, ext, &testutil.FakeMerger{})
	NewAPI(testManager, 10*time.Millisecond).RegisterRoutes(testRouter)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		testManager.WaitAll(ctx)
	})
	return testRouter, testManager
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return resp
}

func startJob(t *testing.T, router *gin.Engine, body string) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/download/start", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["job_id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty job_id")
	}
	return id
}

func waitForStatus(t *testing.T, router *gin.Engine, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(router, http.MethodGet, "/api/download/status/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 from status, got %d", w.Code)
		}
		resp := decode(t, w)
		switch resp["status"] {
		case "completed", "error", "expired":
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for job to finish")
	return nil
}

func TestStartStatusAndDownload(t *testing.T) {
	router, _ := setupRouter(t, testutil.NewFakeExtractor())

	id := startJob(t, router, startBody)
	resp := waitForStatus(t, router, id)
	if resp["status"] != "completed" || resp["progress"] != float64(100) {
		t.Fatalf("expected completed at 100, got %v", resp)
	}
	if resp["file_url"] != "/api/download/file/"+id {
		t.Fatalf("expected file url, got %v", resp["file_url"])
	}

	w := doJSON(router, http.MethodGet, "/api/download/file/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "media-bytes" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "Sample_Clip_Live.mp4") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	w = doJSON(router, http.MethodGet, "/api/download/file/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second download, got %d", w.Code)
	}

	after := decode(t, doJSON(router, http.MethodGet, "/api/download/status/"+id, ""))
	if after["status"] != "expired" {
		t.Fatalf("expected expired after delivery, got %v", after["status"])
	}
}

func TestDownloadIgnoresRangeAndConditionalHeaders(t *testing.T) {
	headers := []map[string]string{
		{"Range": "bytes=0-0"},
		{"Range": "bytes=2-", "If-Range": time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)},
		{"If-Modified-Since": time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)},
		{"If-None-Match": "*"},
	}
	for _, h := range headers {
		router, _ := setupRouter(t, testutil.NewFakeExtractor())
		id := startJob(t, router, startBody)
		waitForStatus(t, router, id)

		req := httptest.NewRequest(http.MethodGet, "/api/download/file/"+id, nil)
		for k, v := range h {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 with %v, got %d", h, w.Code)
		}
		if w.Body.String() != "media-bytes" {
			t.Fatalf("expected full body with %v, got %q", h, w.Body.String())
		}
		if w.Header().Get("Content-Length") != "11" {
			t.Fatalf("unexpected content length %q", w.Header().Get("Content-Length"))
		}
	}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	router, manager := setupRouter(t, testutil.NewFakeExtractor())

	bodies := []string{
		`not json`,
		`{"url":"https://vimeo.com/1","format_id":"18"}`,
		`{"url":"` + watchURL + `","mode":"merge","video_format_id":"137"}`,
	}
	for _, body := range bodies {
		w := doJSON(router, http.MethodPost, "/api/download/start", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, w.Code)
		}
	}
	if n := len(manager.Store().List()); n != 0 {
		t.Fatalf("expected no jobs, got %d", n)
	}
}

func TestStartWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ext := testutil.NewFakeExtractor()
	ext.Fetch = testutil.BlockingFetch(started, release)
	router, _ := setupRouter(t, ext)

	id := startJob(t, router, startBody)
	<-started

	w := doJSON(router, http.MethodPost, "/api/download/start", startBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while busy, got %d", w.Code)
	}
	health := decode(t, doJSON(router, http.MethodGet, "/healthz", ""))
	if health["busy"] != true {
		t.Fatalf("expected busy health, got %v", health)
	}

	w = doJSON(router, http.MethodGet, "/api/download/file/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unfinished job, got %d", w.Code)
	}

	close(release)
	waitForStatus(t, router, id)
	startJob(t, router, startBody)
}

func TestUnknownJob(t *testing.T) {
	router, _ := setupRouter(t, testutil.NewFakeExtractor())

	for _, path := range []string{
		"/api/download/status/missing",
		"/api/download/file/missing",
		"/api/download/ws/missing",
	} {
		w := doJSON(router, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, w.Code)
		}
	}
}

func TestFailedJobReportsKind(t *testing.T) {
	ext := testutil.NewFakeExtractor()
	router, _ := setupRouter(t, ext)

	id := startJob(t, router, `{"url":"`+watchURL+`","format_id":"999"}`)
	resp := waitForStatus(t, router, id)
	if resp["status"] != "error" || resp["error_kind"] != "extraction_failure" {
		t.Fatalf("expected extraction failure, got %v", resp)
	}
	if resp["error"] == "" {
		t.Fatalf("expected human readable error")
	}

	w := doJSON(router, http.MethodGet, "/api/download/file/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for failed job, got %d", w.Code)
	}
	if decode(t, w)["error_kind"] != "extraction_failure" {
		t.Fatalf("expected error kind in body, got %s", w.Body.String())
	}
}

func TestFormatsEndpoint(t *testing.T) {
	router, _ := setupRouter(t, testutil.NewFakeExtractor())

	w := doJSON(router, http.MethodPost, "/api/formats", `{"url":"`+watchURL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["title"] != "Sample Clip: Live" || resp["length"] != "0:10" {
		t.Fatalf("unexpected metadata %v", resp)
	}
	pairs, _ := resp["auto_merge"].([]any)
	if len(pairs) != 1 {
		t.Fatalf("expected one auto merge pair, got %v", resp["auto_merge"])
	}

	w = doJSON(router, http.MethodPost, "/api/formats", `{"url":"https://example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t, testutil.NewFakeExtractor())
	startJob(t, router, startBody)

	w := doJSON(router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tubefetch_jobs_submitted_total") {
		t.Fatalf("expected metrics exposition, got %d", w.Code)
	}
}

func TestWatchStatusStreamsUntilTerminal(t *testing.T) {
	router, _ := setupRouter(t, testutil.NewFakeExtractor())
	srv := httptest.NewServer(router)
	defer srv.Close()

	id := startJob(t, router, startBody)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/download/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var last statusResponse
	for {
		var msg statusResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		if msg.JobID != id {
			t.Fatalf("unexpected job id %q", msg.JobID)
		}
		if msg.Progress < last.Progress {
			t.Fatalf("progress went backwards: %d after %d", msg.Progress, last.Progress)
		}
		last = msg
	}
	if last.Status != "completed" {
		t.Fatalf("expected final completed snapshot, got %+v", last)
	}
}
