// Package merchant manages the merchant registry: which merchant keys exist,
// which page origins each key may embed the widget from, and onboarding state.
package merchant

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

// Status values for a registered merchant.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// Info is one merchant's registry record.
type Info struct {
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	AllowedOrigins  []string  `json:"allowedOrigins"`
	SecretHash      string    `json:"secretHash"`
	Status          string    `json:"status"`
	ActivationToken string    `json:"activationToken,omitempty"`
	ActivationSent  time.Time `json:"activationSent,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Registry is a file-backed merchant store. The file is the source of truth on
// startup; all mutations rewrite it.
type Registry struct {
	path      string
	merchants map[string]*Info
	mu        sync.RWMutex
	logger    *logging.ChanneledLogger
}

type registryFile struct {
	Merchants map[string]*Info `json:"merchants"`
}

// LoadRegistry reads the registry file, creating an empty registry when the
// file does not exist yet.
func LoadRegistry(path string, logger *logging.ChanneledLogger) (*Registry, error) {
	r := &Registry{
		path:      path,
		merchants: make(map[string]*Info),
		logger:    logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Merchant().Info("No merchant registry file found, starting empty", "path", path)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merchant registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse merchant registry: %w", err)
	}
	if file.Merchants != nil {
		r.merchants = file.Merchants
	}

	logger.Merchant().Info("Merchant registry loaded", "path", path, "count", len(r.merchants))
	return r, nil
}

// Count returns the number of registered merchants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.merchants)
}

// Lookup returns the merchant record for a key.
func (r *Registry) Lookup(key string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.merchants[key]
	return info, ok
}

// OriginAllowed reports whether a page origin may embed the widget for the
// given merchant key. Localhost origins are always allowed for development,
// matching the rest of the HTTP surface.
func (r *Registry) OriginAllowed(key, origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.merchants[key]
	if !ok || info.Status != StatusActive {
		return false
	}
	for _, allowed := range info.AllowedOrigins {
		if strings.EqualFold(allowed, host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// AnyOriginAllowed reports whether any active merchant has registered the
// given origin. Used by the CORS layer, which has no merchant key yet.
func (r *Registry) AnyOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range r.merchants {
		if info.Status != StatusActive {
			continue
		}
		for _, allowed := range info.AllowedOrigins {
			if strings.EqualFold(allowed, host) || strings.EqualFold(allowed, origin) {
				return true
			}
		}
	}
	return false
}

// Provision registers a new merchant in pending state and returns the record
// plus its one-time activation token. The secret is stored as a bcrypt hash.
func (r *Registry) Provision(name, email, secret string, origins []string) (*Info, error) {
	if name == "" || email == "" {
		return nil, fmt.Errorf("merchant name and email are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash merchant secret: %w", err)
	}

	key := "mk_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
	token := strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())

	info := &Info{
		Key:             key,
		Name:            name,
		Email:           email,
		AllowedOrigins:  origins,
		SecretHash:      string(hash),
		Status:          StatusPending,
		ActivationToken: token,
		ActivationSent:  time.Now().UTC(),
		CreatedAt:       time.Now().UTC(),
	}

	r.mu.Lock()
	r.merchants[key] = info
	err = r.saveLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.logger.Merchant().Info("Merchant provisioned", "merchantKey", key, "origins", len(origins))
	return info, nil
}

// Activate flips a pending merchant to active when the activation token
// matches and has not expired.
func (r *Registry) Activate(token string, tokenTTL time.Duration) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range r.merchants {
		if info.ActivationToken == "" || info.ActivationToken != token {
			continue
		}
		if time.Since(info.ActivationSent) > tokenTTL {
			return nil, fmt.Errorf("activation token expired for merchant %s", info.Key)
		}
		info.Status = StatusActive
		info.ActivationToken = ""
		if err := r.saveLocked(); err != nil {
			return nil, err
		}
		r.logger.Merchant().Info("Merchant activated", "merchantKey", info.Key)
		return info, nil
	}
	return nil, fmt.Errorf("unknown activation token")
}

// VerifySecret checks a merchant secret against the stored bcrypt hash.
func (r *Registry) VerifySecret(key, secret string) bool {
	info, ok := r.Lookup(key)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(info.SecretHash), []byte(secret)) == nil
}

func (r *Registry) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(registryFile{Merchants: r.merchants}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode merchant registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write merchant registry: %w", err)
	}
	return nil
}
