package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/application/services"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/generation"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/messaging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/middleware"
)

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		DefaultLevel:    slog.LevelError,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

type fakeGenClient struct {
	generate func(req *generation.Request) (*generation.Response, error)
}

func (f *fakeGenClient) Generate(ctx context.Context, req *generation.Request) (*generation.Response, error) {
	return f.generate(req)
}

type fakeFetcher struct {
	data     []byte
	failures map[string]error
}

func (f *fakeFetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err, ok := f.failures[rawURL]; ok {
		return nil, "", err
	}
	return f.data, "image/png", nil
}

type nopEmitter struct{}

func (nopEmitter) Publish(widgetID string, to messaging.Role, env widget.Envelope) {}

type apiFixture struct {
	router      *gin.Engine
	store       *sessions.MemoryStore
	merchantKey string
}

// newAPIFixture wires real services over fakes and mounts the try-on routes
// the way the route table does, merchant middleware included.
func newAPIFixture(t *testing.T, generate func(req *generation.Request) (*generation.Response, error)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := newTestLogger(t)
	tracker := performance.NewTracker(performance.DefaultTrackerConfig())
	store := sessions.NewMemoryStore(100, 30*time.Minute, time.Hour, logger)
	processor := media.NewProcessor(10*1024*1024, 64, logger)
	fetcher := &fakeFetcher{data: pngBytes(t), failures: map[string]error{
		"https://shop.example/broken.jpg": fmt.Errorf("upstream is text/html"),
	}}
	if generate == nil {
		generate = func(req *generation.Request) (*generation.Response, error) {
			return &generation.Response{
				ImageURL:       fmt.Sprintf("https://cdn.example/step-%d.jpg", req.StepNumber),
				Image:          pngBytes(t),
				ProcessingTime: 1200,
			}, nil
		}
	}
	gen := &fakeGenClient{generate: generate}

	registry, err := merchant.LoadRegistry(filepath.Join(t.TempDir(), "merchants.json"), logger)
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	info, err := registry.Provision("Shop", "shop@example.com", "pw", []string{"shop.example"})
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if _, err := registry.Activate(info.ActivationToken, time.Hour); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	sessionService := services.NewSessionService(store, gen, processor, fetcher, nopEmitter{}, logger, tracker)
	orchestratorService := services.NewOrchestratorService(store, gen, fetcher, logger, tracker)
	h := NewTryOnHandlers(sessionService, orchestratorService, store, logger, tracker)
	mh := NewMediaHandlers(fetcher, logger, tracker)

	r := gin.New()
	r.GET("/api/v1/fetch-image", mh.GetFetchImage)
	r.GET("/api/v1/tryon/result/:id", h.GetResult)
	r.GET("/api/v1/tryon/aggregate/:id", h.GetAggregate)
	api := r.Group("/api/v1")
	api.Use(middleware.MerchantMiddleware(registry, tracker))
	{
		tryonAPI := api.Group("/tryon")
		tryonAPI.POST("/session", h.PostSession)
		tryonAPI.GET("/session/:id", h.GetSession)
		tryonAPI.POST("", h.PostTryOn)
		tryonAPI.POST("/progressive", h.PostProgressive)
	}

	return &apiFixture{router: r, store: store, merchantKey: info.Key}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("X-Merchant-Key", f.merchantKey)
	req.Header.Set("Origin", "https://shop.example")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(gin.H{
		"product": gin.H{"image": "https://shop.example/dress.jpg", "name": "Dress"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tryon/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(t, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.SessionID == "" {
		t.Fatalf("create session response unparseable: %s", w.Body.String())
	}
	return out.SessionID
}

func multipartTryOn(t *testing.T, sessionID string, photo []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("sessionId", sessionID)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if photo != nil {
		part, err := mw.CreateFormFile("photo", "photo.png")
		if err != nil {
			t.Fatalf("failed to build multipart body: %v", err)
		}
		part.Write(photo)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tryon", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostTryOnDrivesSessionToResult(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)
	sessionID := f.createSession(t)

	w := f.do(t, multipartTryOn(t, sessionID, pngBytes(t), map[string]string{
		"source": "upload",
		"prompt": "studio lighting",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("try-on status = %d, body %s", w.Code, w.Body.String())
	}

	var result struct {
		SessionID   string `json:"sessionId"`
		DownloadURL string `json:"downloadUrl"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("result unparseable: %s", w.Body.String())
	}
	if result.SessionID != sessionID || result.DownloadURL == "" {
		t.Errorf("result = %+v", result)
	}

	// The session is now in the result step.
	stateReq := httptest.NewRequest(http.MethodGet, "/api/v1/tryon/session/"+sessionID, nil)
	sw := f.do(t, stateReq)
	if sw.Code != http.StatusOK || !strings.Contains(sw.Body.String(), `"step":"result"`) {
		t.Errorf("session state = %d %s", sw.Code, sw.Body.String())
	}

	// And the result bytes are served by the download URL.
	dw := httptest.NewRecorder()
	f.router.ServeHTTP(dw, httptest.NewRequest(http.MethodGet, result.DownloadURL, nil))
	if dw.Code != http.StatusOK || dw.Body.Len() == 0 {
		t.Errorf("download = %d with %d bytes", dw.Code, dw.Body.Len())
	}
}

func TestPostTryOnValidationErrors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	t.Run("missing session id", func(t *testing.T) {
		w := f.do(t, multipartTryOn(t, "", nil, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		w := f.do(t, multipartTryOn(t, "ts_missing", pngBytes(t), nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
		if !strings.Contains(w.Body.String(), widget.ErrCodeInvalidSession) {
			t.Errorf("body = %s, want %s code", w.Body.String(), widget.ErrCodeInvalidSession)
		}
	})

	t.Run("non-image upload", func(t *testing.T) {
		sessionID := f.createSession(t)
		w := f.do(t, multipartTryOn(t, sessionID, []byte("<html>nope</html>"), nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if !strings.Contains(w.Body.String(), widget.ErrCodeInvalidFile) {
			t.Errorf("body = %s, want %s code", w.Body.String(), widget.ErrCodeInvalidFile)
		}
	})
}

func TestPostTryOnBackendErrorRelayed(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, func(req *generation.Request) (*generation.Response, error) {
		return nil, widget.NewError("QUOTA_EXCEEDED", "Daily generation quota reached.")
	})
	sessionID := f.createSession(t)

	w := f.do(t, multipartTryOn(t, sessionID, pngBytes(t), nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "QUOTA_EXCEEDED") {
		t.Errorf("backend code not preserved: %s", w.Body.String())
	}
}

func TestPostProgressiveStreamsSSE(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)
	sessionID := f.createSession(t)

	body, _ := json.Marshal(gin.H{
		"sessionId": sessionID,
		"baseImage": "https://cdn.example/base.jpg",
		"garments": []gin.H{
			{"name": "Shirt", "category": "tops", "imageUrl": "https://shop.example/shirt.jpg"},
			{"name": "Jacket", "category": "outerwear", "imageUrl": "https://shop.example/jacket.jpg"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tryon/progressive", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(t, req)

	if w.Code != http.StatusOK {
		t.Fatalf("progressive status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %s", ct)
	}
	stream := w.Body.String()
	for _, event := range []string{"event:progress", "event:step", "event:result"} {
		if !strings.Contains(stream, event) {
			t.Errorf("stream missing %s:\n%s", event, stream)
		}
	}
	if strings.Count(stream, "event:step") != 2 {
		t.Errorf("stream has %d step events, want 2", strings.Count(stream, "event:step"))
	}
}

func TestPostProgressiveFailureStreamsErrorEvent(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, func(req *generation.Request) (*generation.Response, error) {
		if req.StepNumber == 2 {
			return nil, widget.NewError(widget.ErrCodeProcessing, "step blew up")
		}
		return &generation.Response{ImageURL: "https://cdn.example/step-1.jpg", ProcessingTime: 100}, nil
	})
	sessionID := f.createSession(t)

	body, _ := json.Marshal(gin.H{
		"sessionId": sessionID,
		"baseImage": "https://cdn.example/base.jpg",
		"garments": []gin.H{
			{"name": "Shirt", "imageUrl": "https://shop.example/shirt.jpg"},
			{"name": "Jacket", "imageUrl": "https://shop.example/jacket.jpg"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tryon/progressive", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(t, req)

	stream := w.Body.String()
	if !strings.Contains(stream, "event:error") {
		t.Fatalf("stream missing error event:\n%s", stream)
	}
	if !strings.Contains(stream, `"failedStep":2`) {
		t.Errorf("error event missing failing step:\n%s", stream)
	}
	if strings.Contains(stream, "event:result") {
		t.Error("failed run still streamed a final result")
	}
}

func TestGetFetchImage(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/fetch-image?url=https://shop.example/dress.jpg", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s, want upstream's preserved", ct)
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Error("proxy response not cacheable")
	}

	t.Run("missing url", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/fetch-image", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/api/v1/fetch-image?url=https://shop.example/broken.jpg", nil))
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
	})
}

func TestGetResultUnknownID(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tryon/result/tr_missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
