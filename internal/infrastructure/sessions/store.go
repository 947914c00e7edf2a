// Package sessions defines the session/quota store boundary. Durable
// persistence lives in an external collaborator; this package carries the
// interface plus an in-memory store used by the widget backend itself.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
)

var (
	// ErrNotFound is returned for unknown or expired sessions and results.
	ErrNotFound = errors.New("session not found")
	// ErrQuotaExceeded is returned when a merchant hits its session quota.
	ErrQuotaExceeded = errors.New("merchant session quota exceeded")
)

// Session is one server-tracked try-on attempt. The Step field is the
// embedded controller's FSM state; Fetching marks the transient model-URL
// acquisition substate that resolves back into Step.
type Session struct {
	ID          string                    `json:"id"`
	MerchantKey string                    `json:"merchantKey"`
	WidgetID    string                    `json:"widgetId,omitempty"`
	Descriptor  *widget.SessionDescriptor `json:"descriptor"`
	Step        tryon.Step                `json:"step"`
	Fetching    bool                      `json:"fetching"`
	PhotoSource widget.PhotoSource        `json:"photoSource,omitempty"`
	Photo       []byte                    `json:"-"`
	PhotoURL    string                    `json:"photoUrl,omitempty"`
	Prompt      string                    `json:"prompt,omitempty"`
	Result      *tryon.Result             `json:"result,omitempty"`
	LastError   *widget.Error             `json:"lastError,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// Aggregate is the TryOnResult-shaped record persisted after a progressive
// run: the chain's final result plus concatenated garment names/categories.
type Aggregate struct {
	Result    tryon.Result `json:"result"`
	Name      string       `json:"name"`
	Category  string       `json:"category"`
	StepCount int          `json:"stepCount"`
}

// Store is the session/quota collaborator contract.
type Store interface {
	// Create registers a new session, enforcing the per-merchant quota.
	Create(ctx context.Context, d *widget.SessionDescriptor) (*Session, error)
	// Get returns a session by ID.
	Get(ctx context.Context, id string) (*Session, error)
	// Update persists session mutations.
	Update(ctx context.Context, s *Session) error
	// SaveResultImage stores generated image bytes under a result ID.
	SaveResultImage(ctx context.Context, resultID string, data []byte, contentType string) error
	// ResultImage returns stored image bytes and their content type.
	ResultImage(ctx context.Context, resultID string) ([]byte, string, error)
	// SaveAggregate persists a whole progressive chain as one record. The
	// final image bytes, when supplied, are stored under the record's result
	// ID so its download URL serves them; without bytes the download URL
	// falls back to the last step's hosted image.
	SaveAggregate(ctx context.Context, sessionID string, steps []tryon.StepResult, image []byte, contentType string) (*tryon.Result, error)
	// Aggregate returns a persisted progressive record by result ID.
	Aggregate(ctx context.Context, resultID string) (*Aggregate, error)
}
