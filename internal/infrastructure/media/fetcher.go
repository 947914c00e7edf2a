package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
)

// Fetcher retrieves third-party image URLs on behalf of the widget so the
// embedded frame never has to fetch cross-origin itself.
type Fetcher interface {
	FetchImage(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// HTTPFetcher is the default Fetcher over a plain HTTP client.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *logging.ChanneledLogger
}

// NewHTTPFetcher creates a proxy fetcher with the given size cap and timeout.
func NewHTTPFetcher(maxBytes int64, timeout time.Duration, logger *logging.ChanneledLogger) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// FetchImage downloads an external image and verifies it really is one. The
// upstream content type is sniffed from the bytes, not trusted from headers,
// and preserved for the caller.
func (f *HTTPFetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build fetch request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d byte fetch limit", f.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		f.logger.Media().Warn("Proxy fetch returned non-image content",
			"url", rawURL, "detectedType", mtype.String())
		return nil, "", fmt.Errorf("url did not resolve to an image (got %s)", mtype.String())
	}

	f.logger.Media().Debug("Proxy image fetch completed",
		"url", rawURL, "bytes", len(data), "contentType", mtype.String(), "duration", time.Since(start))
	return data, mtype.String(), nil
}
