package sessions

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
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

func testDescriptor(merchantKey string) *widget.SessionDescriptor {
	return &widget.SessionDescriptor{
		MerchantKey: merchantKey,
		Product:     widget.ProductInfo{Image: "https://shop.example/p.jpg"},
		Options:     widget.DefaultOptions(),
	}
}

func TestCreateEnforcesQuota(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2, time.Hour, time.Hour, newTestLogger(t))

	for i := 0; i < 2; i++ {
		if _, err := store.Create(ctx, testDescriptor("mk_a")); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	if _, err := store.Create(ctx, testDescriptor("mk_a")); err != ErrQuotaExceeded {
		t.Errorf("third create err = %v, want ErrQuotaExceeded", err)
	}

	// Quota is per merchant, not global.
	if _, err := store.Create(ctx, testDescriptor("mk_b")); err != nil {
		t.Errorf("other merchant blocked by foreign quota: %v", err)
	}
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))

	created, err := store.Create(ctx, testDescriptor("mk_a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	first.Step = tryon.StepProcessing

	second, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if second.Step != tryon.StepPhoto {
		t.Errorf("mutation of a returned session leaked into the store: step = %s", second.Step)
	}
}

func TestGetUnknownSession(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))
	if _, err := store.Get(context.Background(), "ts_missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResultImageRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))

	if err := store.SaveResultImage(ctx, "tr_1", []byte{0xFF, 0xD8}, "image/jpeg"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, contentType, err := store.ResultImage(ctx, "tr_1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if contentType != "image/jpeg" || len(data) != 2 {
		t.Errorf("got %d bytes of %s", len(data), contentType)
	}

	if _, _, err := store.ResultImage(ctx, "tr_2"); err != ErrNotFound {
		t.Errorf("unknown result err = %v, want ErrNotFound", err)
	}
}

func TestSaveAggregateConcatenates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))

	steps := []tryon.StepResult{
		{StepNumber: 1, Garment: tryon.Garment{Name: "Shirt", Category: "tops"}, ImageURL: "https://cdn/1.jpg", ProcessingTime: 900},
		{StepNumber: 2, Garment: tryon.Garment{Name: "Jacket", Category: "outerwear"}, ImageURL: "https://cdn/2.jpg", ProcessingTime: 1100},
	}
	result, err := store.SaveAggregate(ctx, "ts_run", steps, []byte{0x89, 0x50}, "image/png")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if result.ImageURL != "https://cdn/2.jpg" {
		t.Errorf("aggregate image = %s, want last step's", result.ImageURL)
	}
	if result.ProcessingTime != 2000 {
		t.Errorf("aggregate time = %d, want sum", result.ProcessingTime)
	}
	if !strings.HasPrefix(result.DownloadURL, "/api/v1/tryon/result/") {
		t.Errorf("download URL = %s", result.DownloadURL)
	}

	resultID := strings.TrimPrefix(result.DownloadURL, "/api/v1/tryon/result/")
	agg, err := store.Aggregate(ctx, resultID)
	if err != nil {
		t.Fatalf("aggregate record unreadable: %v", err)
	}
	if agg.Name != "Shirt + Jacket" {
		t.Errorf("aggregate name = %q", agg.Name)
	}
	if agg.Category != "tops + outerwear" {
		t.Errorf("aggregate category = %q", agg.Category)
	}
	if agg.StepCount != 2 {
		t.Errorf("aggregate step count = %d", agg.StepCount)
	}
}

func TestSaveAggregateServesDownloadURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))

	steps := []tryon.StepResult{
		{StepNumber: 1, Garment: tryon.Garment{Name: "Shirt"}, ImageURL: "https://cdn/1.jpg", ProcessingTime: 500},
	}

	// With bytes the record's download URL must resolve through ResultImage.
	stored, err := store.SaveAggregate(ctx, "ts_run", steps, []byte{1, 2, 3}, "image/jpeg")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	resultID := strings.TrimPrefix(stored.DownloadURL, "/api/v1/tryon/result/")
	data, contentType, err := store.ResultImage(ctx, resultID)
	if err != nil {
		t.Fatalf("download URL points at unservable result: %v", err)
	}
	if len(data) != 3 || contentType != "image/jpeg" {
		t.Errorf("served %d bytes of %s", len(data), contentType)
	}

	// Without bytes the download URL falls back to the hosted image.
	hosted, err := store.SaveAggregate(ctx, "ts_run", steps, nil, "")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if hosted.DownloadURL != "https://cdn/1.jpg" {
		t.Errorf("fallback download URL = %s, want the hosted image", hosted.DownloadURL)
	}
}

func TestSaveAggregateRejectsEmptyTrail(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(10, time.Hour, time.Hour, newTestLogger(t))
	if _, err := store.SaveAggregate(context.Background(), "ts_run", nil, nil, ""); err == nil {
		t.Error("empty trail aggregated")
	}
}

func TestEvictExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(10, 10*time.Millisecond, 10*time.Millisecond, newTestLogger(t))

	sess, err := store.Create(ctx, testDescriptor("mk_a"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	store.SaveResultImage(ctx, "tr_old", []byte{1}, "image/png")

	time.Sleep(30 * time.Millisecond)
	store.evictExpired()

	if _, err := store.Get(ctx, sess.ID); err != ErrNotFound {
		t.Errorf("expired session still served: %v", err)
	}
	if _, _, err := store.ResultImage(ctx, "tr_old"); err != ErrNotFound {
		t.Errorf("expired image still served: %v", err)
	}
}
