package sessions

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
)

// MemoryStore keeps sessions, result images, and aggregates in memory with
// TTL-based expiry. It satisfies Store for single-node deployments and tests;
// production deployments swap in the external session/quota service.
type MemoryStore struct {
	sessions   map[string]*Session
	images     map[string]storedImage
	aggregates map[string]*Aggregate

	maxPerMerchant int
	sessionTTL     time.Duration
	resultTTL      time.Duration

	mu     sync.RWMutex
	logger *logging.ChanneledLogger
}

type storedImage struct {
	data        []byte
	contentType string
	expiresAt   time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(maxPerMerchant int, sessionTTL, resultTTL time.Duration, logger *logging.ChanneledLogger) *MemoryStore {
	if logger != nil {
		logger.Session().Info("Initializing in-memory session store",
			"maxPerMerchant", maxPerMerchant, "sessionTTL", sessionTTL)
	}
	return &MemoryStore{
		sessions:       make(map[string]*Session),
		images:         make(map[string]storedImage),
		aggregates:     make(map[string]*Aggregate),
		maxPerMerchant: maxPerMerchant,
		sessionTTL:     sessionTTL,
		resultTTL:      resultTTL,
		logger:         logger,
	}
}

// Create registers a new session in the photo step, enforcing the merchant's
// session quota against live (unexpired) sessions.
func (ms *MemoryStore) Create(ctx context.Context, d *widget.SessionDescriptor) (*Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	live := 0
	cutoff := time.Now().Add(-ms.sessionTTL)
	for _, s := range ms.sessions {
		if s.MerchantKey == d.MerchantKey && s.UpdatedAt.After(cutoff) {
			live++
		}
	}
	if live >= ms.maxPerMerchant {
		return nil, ErrQuotaExceeded
	}

	now := time.Now().UTC()
	s := &Session{
		ID:          "ts_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String()),
		MerchantKey: d.MerchantKey,
		Descriptor:  d,
		Step:        tryon.StepPhoto,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cp := *s
	ms.sessions[s.ID] = &cp

	if ms.logger != nil {
		ms.logger.Session().Debug("Session created", "sessionId", s.ID, "merchantKey", d.MerchantKey)
	}
	return s, nil
}

// Get returns a live session by ID. The caller receives a detached copy, so
// concurrent readers never observe an in-flight mutation; pointer-typed
// fields are replaced wholesale on update, never mutated in place.
func (ms *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[id]
	if !ok || time.Since(s.UpdatedAt) > ms.sessionTTL {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// Update persists session mutations and refreshes the TTL clock. The store
// keeps its own copy, so the caller's pointer stays private to the caller.
func (ms *MemoryStore) Update(ctx context.Context, s *Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	ms.sessions[s.ID] = &cp
	return nil
}

// SaveResultImage stores generated image bytes under a result ID.
func (ms *MemoryStore) SaveResultImage(ctx context.Context, resultID string, data []byte, contentType string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.images[resultID] = storedImage{
		data:        data,
		contentType: contentType,
		expiresAt:   time.Now().Add(ms.resultTTL),
	}
	return nil
}

// ResultImage returns stored image bytes and their content type.
func (ms *MemoryStore) ResultImage(ctx context.Context, resultID string) ([]byte, string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	img, ok := ms.images[resultID]
	if !ok || time.Now().After(img.expiresAt) {
		return nil, "", ErrNotFound
	}
	return img.data, img.contentType, nil
}

// SaveAggregate persists a whole progressive chain as one TryOnResult-shaped
// record. Garment names and categories are concatenated so the record reads
// as a single composite look. The download URL only points at the local
// result endpoint when the final image bytes were actually stored.
func (ms *MemoryStore) SaveAggregate(ctx context.Context, sessionID string, steps []tryon.StepResult, image []byte, contentType string) (*tryon.Result, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("cannot aggregate an empty step trail")
	}

	var names, categories []string
	var totalMS int64
	for _, step := range steps {
		if step.Garment.Name != "" {
			names = append(names, step.Garment.Name)
		}
		if step.Garment.Category != "" {
			categories = append(categories, step.Garment.Category)
		}
		totalMS += step.ProcessingTime
	}

	last := steps[len(steps)-1]
	resultID := "tr_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
	result := tryon.Result{
		SessionID:      sessionID,
		ImageURL:       last.ImageURL,
		DownloadURL:    last.ImageURL,
		ExpiresAt:      time.Now().Add(ms.resultTTL).UTC(),
		ProcessingTime: totalMS,
	}

	ms.mu.Lock()
	if len(image) > 0 {
		ms.images[resultID] = storedImage{
			data:        image,
			contentType: contentType,
			expiresAt:   time.Now().Add(ms.resultTTL),
		}
		result.DownloadURL = "/api/v1/tryon/result/" + resultID
	}
	ms.aggregates[resultID] = &Aggregate{
		Result:    result,
		Name:      strings.Join(names, " + "),
		Category:  strings.Join(categories, " + "),
		StepCount: len(steps),
	}
	ms.mu.Unlock()

	if ms.logger != nil {
		ms.logger.Session().Info("Progressive chain aggregated",
			"sessionId", sessionID, "steps", len(steps), "resultId", resultID)
	}
	return &result, nil
}

// Aggregate returns a persisted progressive record by result ID.
func (ms *MemoryStore) Aggregate(ctx context.Context, resultID string) (*Aggregate, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	agg, ok := ms.aggregates[resultID]
	if !ok || time.Now().After(agg.Result.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *agg
	return &cp, nil
}

// StartCleanup evicts expired sessions and images until ctx is canceled.
func (ms *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.evictExpired()
		}
	}
}

func (ms *MemoryStore) evictExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	evicted := 0
	for id, s := range ms.sessions {
		if now.Sub(s.UpdatedAt) > ms.sessionTTL {
			delete(ms.sessions, id)
			evicted++
		}
	}
	for id, img := range ms.images {
		if now.After(img.expiresAt) {
			delete(ms.images, id)
			evicted++
		}
	}
	for id, agg := range ms.aggregates {
		if now.After(agg.Result.ExpiresAt) {
			delete(ms.aggregates, id)
			evicted++
		}
	}
	if evicted > 0 && ms.logger != nil {
		ms.logger.Session().Debug("Session store cleanup completed", "evicted", evicted)
	}
}
