// Package generation wraps the external AI image-generation service. The
// model itself is opaque; this package owns only the HTTP contract.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
)

// Request describes one generation call: a base photo plus one garment.
type Request struct {
	SessionID   string
	Photo       []byte // base model photo bytes
	PhotoURL    string // alternative to Photo when the base image is already hosted
	GarmentURL  string
	Prompt      string // optional free-text creative styling prompt
	StepNumber  int    // 1-based within a progressive run, 0 for single try-on
	MerchantKey string
}

// Response is the generated image reference returned by the service.
type Response struct {
	ImageURL       string `json:"imageUrl"`
	Image          []byte `json:"-"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
}

// Client is the boundary to the AI generation service.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// HTTPClient is the default Client over the service's multipart HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *logging.ChanneledLogger
}

// NewHTTPClient creates a generation client for the given service base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *logging.ChanneledLogger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// serviceError is the error payload shape the generation service returns on
// non-2xx responses.
type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Generate submits one base-photo-plus-garment request and waits for the
// resulting image. Backend errors are relayed with their own code; only
// transport failures are wrapped as PROCESSING_ERROR.
func (c *HTTPClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if len(req.Photo) > 0 {
		part, err := mw.CreateFormFile("photo", "photo.jpg")
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := part.Write(req.Photo); err != nil {
			return nil, fmt.Errorf("failed to write photo part: %w", err)
		}
	} else if req.PhotoURL != "" {
		mw.WriteField("photoUrl", req.PhotoURL)
	}
	mw.WriteField("sessionId", req.SessionID)
	mw.WriteField("garmentUrl", req.GarmentURL)
	if req.Prompt != "" {
		mw.WriteField("prompt", req.Prompt)
	}
	if req.StepNumber > 0 {
		mw.WriteField("stepNumber", fmt.Sprintf("%d", req.StepNumber))
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if req.MerchantKey != "" {
		httpReq.Header.Set("X-Merchant-Key", req.MerchantKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, widget.NewError(widget.ErrCodeProcessing, "The try-on service could not be reached.")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, widget.NewError(widget.ErrCodeProcessing, "The try-on service response could not be read.")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var svcErr serviceError
		if json.Unmarshal(respBody, &svcErr) == nil && svcErr.Code != "" {
			// Backend-originated errors pass through with their own code.
			return nil, widget.NewError(svcErr.Code, svcErr.Message)
		}
		return nil, widget.NewError(widget.ErrCodeProcessing,
			fmt.Sprintf("Try-on generation failed with status %d.", resp.StatusCode))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, widget.NewError(widget.ErrCodeProcessing, "The try-on service returned an unexpected response.")
	}
	if out.ProcessingTime == 0 {
		out.ProcessingTime = time.Since(start).Milliseconds()
	}

	c.logger.TryOn().Debug("Generation call completed",
		"sessionId", req.SessionID, "stepNumber", req.StepNumber, "duration", time.Since(start))
	return &out, nil
}
