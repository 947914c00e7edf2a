package performance

import (
	"fmt"
	"sync"
	"time"
)

// Tracker manages performance markers and provides simple aggregation.
type Tracker struct {
	markers map[string]*Marker
	mu      sync.RWMutex
	started time.Time
	config  *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers int `json:"maxMarkers"`
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{MaxMarkers: 10000}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	return &Tracker{
		markers: make(map[string]*Marker),
		started: time.Now(),
		config:  config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, merchantKey string) *Marker {
	marker := &Marker{
		Operation:   operation,
		MerchantKey: merchantKey,
		StartTime:   time.Now(),
		Metadata:    make(map[string]any),
		Success:     true, // Assume success until proven otherwise
	}

	markerID := fmt.Sprintf("%s_%s_%d", merchantKey, operation, time.Now().UnixNano())

	t.mu.Lock()
	if len(t.markers) >= t.config.MaxMarkers {
		t.evictOldestLocked()
	}
	t.markers[markerID] = marker
	t.mu.Unlock()

	return marker
}

// ActiveOperations returns the number of markers not yet completed.
func (t *Tracker) ActiveOperations() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := 0
	for _, m := range t.markers {
		if !m.Completed {
			active++
		}
	}
	return active
}

// Uptime reports how long this tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

func (t *Tracker) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, m := range t.markers {
		if oldestID == "" || m.StartTime.Before(oldest) {
			oldestID = id
			oldest = m.StartTime
		}
	}
	if oldestID != "" {
		delete(t.markers, oldestID)
	}
}
