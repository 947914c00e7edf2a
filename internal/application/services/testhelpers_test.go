package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/generation"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/messaging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
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

func newTestTracker() *performance.Tracker {
	return performance.NewTracker(performance.DefaultTrackerConfig())
}

// pngBytes produces a small valid PNG so mimetype sniffing and decoding both
// pass.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x * 30), G: 80, B: 120, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

// fakeEmitter records every envelope published toward the host side.
type fakeEmitter struct {
	mu     sync.Mutex
	events []widget.Envelope
}

func (f *fakeEmitter) Publish(widgetID string, to messaging.Role, env widget.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
}

func (f *fakeEmitter) typesSeen() []widget.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]widget.MessageType, 0, len(f.events))
	for _, env := range f.events {
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeEmitter) count(t widget.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, env := range f.events {
		if env.Type == t {
			n++
		}
	}
	return n
}

// fakeGenClient answers generation requests from a caller-supplied function
// and records every request it saw.
type fakeGenClient struct {
	mu       sync.Mutex
	requests []*generation.Request
	generate func(call int, req *generation.Request) (*generation.Response, error)
}

func (f *fakeGenClient) Generate(ctx context.Context, req *generation.Request) (*generation.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.generate(call, req)
}

func (f *fakeGenClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGenClient) request(i int) *generation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// fakeFetcher serves image bytes for any URL not listed in failures.
type fakeFetcher struct {
	mu       sync.Mutex
	data     []byte
	failures map[string]error
	fetched  []string
}

func (f *fakeFetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()
	if err, ok := f.failures[rawURL]; ok {
		return nil, "", err
	}
	return f.data, "image/png", nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// failingAggregateStore wraps a real store but refuses aggregation, for the
// fallback path.
type failingAggregateStore struct {
	sessions.Store
}

func (s *failingAggregateStore) SaveAggregate(ctx context.Context, sessionID string, steps []tryon.StepResult, image []byte, contentType string) (*tryon.Result, error) {
	return nil, fmt.Errorf("aggregate store unavailable")
}

func newTestStore(t *testing.T) *sessions.MemoryStore {
	t.Helper()
	return sessions.NewMemoryStore(100, 30*time.Minute, time.Hour, newTestLogger(t))
}

func newTestProcessor(t *testing.T) *media.Processor {
	t.Helper()
	return media.NewProcessor(10*1024*1024, 64, newTestLogger(t))
}
