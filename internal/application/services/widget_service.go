// Package services provides application-level orchestration services
package services

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// WidgetConfig is the host loader configuration for one widget instance.
type WidgetConfig struct {
	MerchantKey string
	Theme       string
	Locale      string
	BaseURL     string
	Options     widget.SessionOptions
}

// WidgetConfigPatch carries partial configuration updates for SetConfig.
type WidgetConfigPatch struct {
	MerchantKey   *string
	Theme         *string
	Locale        *string
	BaseURL       *string
	SkipPhotoStep *bool
	AllowCamera   *bool
	AllowUpload   *bool
	CallbackURL   *string
}

// EventHandler receives one decoded event payload. Payload type depends on
// the event: *widget.Error for error, *tryon result for result, and so on.
type EventHandler func(payload any)

// WidgetService constructs widget instances and dispatches protocol events to
// their subscribers.
type WidgetService struct {
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewWidgetService creates a new widget service.
func NewWidgetService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *WidgetService {
	return &WidgetService{
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// WidgetInstance is one host-page widget: its configuration, open/closed
// state, current session descriptor, and event subscribers. All methods are
// safe for concurrent use.
type WidgetInstance struct {
	id        string
	cfg       WidgetConfig
	open      bool
	destroyed bool
	session   *widget.SessionDescriptor
	embedURL  string
	handlers  map[widget.MessageType][]EventHandler
	wired     map[string]bool

	svc *WidgetService
	mu  sync.Mutex
}

// Init constructs an instance with defaults merged over caller config. It has
// no side effects beyond allocation.
func (s *WidgetService) Init(cfg WidgetConfig) *WidgetInstance {
	if cfg.Theme == "" {
		cfg.Theme = "light"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.EmbedBaseURL
	}
	// Zero-value options mean the caller never touched them; acquisition
	// paths default to enabled.
	if !cfg.Options.AllowCamera && !cfg.Options.AllowUpload {
		cfg.Options.AllowCamera = true
		cfg.Options.AllowUpload = true
	}

	w := &WidgetInstance{
		id:       "w_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String()),
		cfg:      cfg,
		handlers: make(map[widget.MessageType][]EventHandler),
		wired:    make(map[string]bool),
		svc:      s,
	}
	s.logger.Widget().Debug("Widget instance initialized", "widgetId", w.id, "merchantKey", cfg.MerchantKey)
	return w
}

// OpenOptions describe one open() call.
type OpenOptions struct {
	MerchantKey string
	Product     widget.ProductInfo
	User        *widget.UserInfo
	ModelImage  string
	Options     *widget.SessionOptions
	Theme       string
	Locale      string
}

// ID returns the instance's widget session identifier.
func (w *WidgetInstance) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// Open validates the options, builds the immutable session descriptor, and
// marks the widget open. Missing required fields emit exactly one error event
// and leave the instance untouched. Re-opening while open is a logged no-op.
func (w *WidgetInstance) Open(opts OpenOptions) error {
	w.mu.Lock()

	if w.destroyed {
		w.mu.Unlock()
		w.svc.logger.Widget().Warn("Open called on destroyed widget", "widgetId", w.id)
		return fmt.Errorf("widget %s is destroyed", w.id)
	}
	if w.open {
		w.mu.Unlock()
		w.svc.logger.Widget().Info("Open called while already open, ignoring", "widgetId", w.id)
		return nil
	}

	merchantKey := opts.MerchantKey
	if merchantKey == "" {
		merchantKey = w.cfg.MerchantKey
	}
	if merchantKey == "" {
		w.mu.Unlock()
		err := widget.NewError(widget.ErrCodeNoMerchantKey, "A merchant key is required to open the try-on widget.")
		w.emit(widget.MessageError, err)
		return err
	}
	if opts.Product.Image == "" {
		w.mu.Unlock()
		err := widget.NewError(widget.ErrCodeNoProductImage, "A product image is required to open the try-on widget.")
		w.emit(widget.MessageError, err)
		return err
	}

	descriptor := &widget.SessionDescriptor{
		MerchantKey: merchantKey,
		Product:     opts.Product,
		User:        opts.User,
		ModelImage:  opts.ModelImage,
		Options:     w.cfg.Options,
		Theme:       w.cfg.Theme,
		Locale:      w.cfg.Locale,
	}
	if opts.Options != nil {
		descriptor.Options = *opts.Options
	}
	if opts.Theme != "" {
		descriptor.Theme = opts.Theme
	}
	if opts.Locale != "" {
		descriptor.Locale = opts.Locale
	}

	embedURL, err := buildEmbedURL(w.cfg.BaseURL, w.id, descriptor)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to build embed URL: %w", err)
	}

	w.session = descriptor
	w.embedURL = embedURL
	w.open = true
	w.mu.Unlock()

	w.svc.logger.Widget().Info("Widget opened",
		"widgetId", w.id, "merchantKey", merchantKey, "productImage", opts.Product.Image)
	w.emit(widget.MessageOpen, descriptor)
	return nil
}

// Close hides the widget and clears the session descriptor. The cleared
// session is the de facto cancellation mechanism for in-flight frame work.
// No-op when already closed.
func (w *WidgetInstance) Close(reason string) {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	w.open = false
	w.session = nil
	w.embedURL = ""
	w.mu.Unlock()

	w.svc.logger.Widget().Info("Widget closed", "widgetId", w.id, "reason", reason)
	w.emit(widget.MessageClose, widget.ClosePayload{Reason: reason})
}

// IsOpen reports whether the widget is currently open.
func (w *WidgetInstance) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Session returns the current session descriptor, nil when closed.
func (w *WidgetInstance) Session() *widget.SessionDescriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// EmbedURL returns the iframe URL for the open session, empty when closed.
func (w *WidgetInstance) EmbedURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.embedURL
}

// SetConfig applies a partial configuration update. Fields left nil keep
// their current values. The active session, if any, is not rebuilt.
func (w *WidgetInstance) SetConfig(patch WidgetConfigPatch) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if patch.MerchantKey != nil {
		w.cfg.MerchantKey = *patch.MerchantKey
	}
	if patch.Theme != nil {
		w.cfg.Theme = *patch.Theme
	}
	if patch.Locale != nil {
		w.cfg.Locale = *patch.Locale
	}
	if patch.BaseURL != nil {
		w.cfg.BaseURL = *patch.BaseURL
	}
	if patch.SkipPhotoStep != nil {
		w.cfg.Options.SkipPhotoStep = *patch.SkipPhotoStep
	}
	if patch.AllowCamera != nil {
		w.cfg.Options.AllowCamera = *patch.AllowCamera
	}
	if patch.AllowUpload != nil {
		w.cfg.Options.AllowUpload = *patch.AllowUpload
	}
	if patch.CallbackURL != nil {
		w.cfg.Options.CallbackURL = *patch.CallbackURL
	}
}

// Destroy tears down the instance: closes it if open, clears all registered
// event handlers and wired elements, and refuses further opens.
func (w *WidgetInstance) Destroy() {
	w.Close("destroy")

	w.mu.Lock()
	w.destroyed = true
	w.handlers = make(map[widget.MessageType][]EventHandler)
	w.wired = make(map[string]bool)
	w.mu.Unlock()

	w.svc.logger.Widget().Info("Widget destroyed", "widgetId", w.id)
}

// On subscribes a handler to an event type.
func (w *WidgetInstance) On(event widget.MessageType, handler EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = append(w.handlers[event], handler)
}

// Off removes all handlers for an event type.
func (w *WidgetInstance) Off(event widget.MessageType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, event)
}

// emit dispatches an event to its subscribers. A panicking handler is
// recovered and logged so the remaining handlers still run.
func (w *WidgetInstance) emit(event widget.MessageType, payload any) {
	w.mu.Lock()
	handlers := make([]EventHandler, len(w.handlers[event]))
	copy(handlers, w.handlers[event])
	w.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.svc.logger.Widget().Error("Widget event handler panicked",
						"widgetId", w.id, "event", string(event), "panic", fmt.Sprint(r))
				}
			}()
			handler(payload)
		}()
	}
}

// HandleEnvelope feeds a validated envelope from the message channel into the
// instance's event surface. Invalid envelopes are logged and dropped; a close
// envelope also closes the instance.
func (w *WidgetInstance) HandleEnvelope(env widget.Envelope) {
	if err := widget.ValidateEnvelope(env); err != nil {
		w.svc.logger.Widget().Warn("Dropped invalid envelope at host loader",
			"widgetId", w.id, "type", string(env.Type), "error", err.Error())
		return
	}

	switch env.Type {
	case widget.MessageClose:
		var p widget.ClosePayload
		decodeInto(env, &p)
		w.Close(p.Reason)
	case widget.MessageError:
		var p widget.ErrorPayload
		decodeInto(env, &p)
		w.emit(widget.MessageError, widget.NewError(p.Code, p.Message))
	case widget.MessagePhotoSelected:
		var p widget.PhotoSelectedPayload
		decodeInto(env, &p)
		w.emit(widget.MessagePhotoSelected, p)
	case widget.MessageProcessingProgress:
		var p widget.ProgressPayload
		decodeInto(env, &p)
		w.emit(widget.MessageProcessingProgress, p)
	default:
		w.emit(env.Type, env.Payload)
	}
}

// WireElement wires one declarative host-page button to this instance. Each
// element is wired at most once; rescans of the same element are no-ops. The
// returned descriptor is what a click on that element will open.
func (w *WidgetInstance) WireElement(elementID string, attrs map[string]string) (*widget.SessionDescriptor, error) {
	w.mu.Lock()
	if w.wired[elementID] {
		w.mu.Unlock()
		w.svc.logger.Widget().Debug("Element already wired, skipping", "widgetId", w.id, "elementId", elementID)
		return nil, nil
	}
	w.wired[elementID] = true
	w.mu.Unlock()

	descriptor, err := widget.ParseEmbedAttributes(attrs)
	if err != nil {
		return nil, err
	}
	w.svc.logger.Widget().Debug("Element wired for auto-init", "widgetId", w.id, "elementId", elementID)
	return descriptor, nil
}

func buildEmbedURL(baseURL, widgetID string, d *widget.SessionDescriptor) (string, error) {
	token, err := signEmbedToken(widgetID, d.MerchantKey)
	if err != nil {
		return "", err
	}

	values := d.QueryValues()
	values.Set("widgetId", widgetID)
	values.Set("token", token)
	values.Set("v", config.WidgetVersion)
	return baseURL + "?" + values.Encode(), nil
}

func signEmbedToken(widgetID, merchantKey string) (string, error) {
	claims := jwt.MapClaims{
		"widgetId":    widgetID,
		"merchantKey": merchantKey,
		"exp":         time.Now().Add(config.EmbedTokenTTL).Unix(),
		"iat":         time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.EmbedTokenSecret))
}

func decodeInto(env widget.Envelope, dst any) {
	// Envelope already passed validation; decode failures cannot happen here.
	_ = json.Unmarshal(env.Payload, dst)
}
