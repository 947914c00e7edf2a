package services

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
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/generation"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/messaging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// SessionService drives the embedded try-on session state machine: photo
// acquisition, processing, and result/error relay through the message channel.
type SessionService struct {
	store       sessions.Store
	gen         generation.Client
	processor   *media.Processor
	fetcher     media.Fetcher
	emitter     messaging.Emitter
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker

	// Per-session locks serialize user-triggered transitions against
	// network-completion transitions.
	sessionLocks sync.Map
}

// NewSessionService creates a new session service.
func NewSessionService(
	store sessions.Store,
	gen generation.Client,
	processor *media.Processor,
	fetcher media.Fetcher,
	emitter messaging.Emitter,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *SessionService {
	return &SessionService{
		store:       store,
		gen:         gen,
		processor:   processor,
		fetcher:     fetcher,
		emitter:     emitter,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

func (s *SessionService) lock(sessionID string) *sync.Mutex {
	muIface, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return muIface.(*sync.Mutex)
}

// transition moves a session to the next step, enforcing the state graph.
func (s *SessionService) transition(sess *sessions.Session, to tryon.Step) error {
	if !tryon.CanTransition(sess.Step, to) {
		return widget.NewError(widget.ErrCodeInvalidSession,
			fmt.Sprintf("Cannot move from %s to %s.", sess.Step, to))
	}
	s.logger.Session().Debug("Session transition",
		"sessionId", sess.ID, "from", string(sess.Step), "to", string(to))
	sess.Step = to
	return nil
}

// Start creates a session and resolves its initial state. With a ready-made
// user photo plus the skip flag the session begins in preview; with a model
// image URL the photo is fetched through the proxy first, and a fetch failure
// leaves the session in photo with an inline error rather than a dead state.
func (s *SessionService) Start(ctx context.Context, d *widget.SessionDescriptor, widgetID string) (*sessions.Session, error) {
	marker := s.perfTracker.StartOperation("session:start", d.MerchantKey)
	defer marker.Complete()

	if d.MerchantKey == "" {
		marker.SetSuccess(false)
		return nil, widget.NewError(widget.ErrCodeNoMerchantKey, "A merchant key is required.")
	}
	if d.Product.Image == "" {
		marker.SetSuccess(false)
		return nil, widget.NewError(widget.ErrCodeNoProductImage, "A product image is required.")
	}

	sess, err := s.store.Create(ctx, d)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	sess.WidgetID = widgetID

	switch {
	case d.Options.SkipPhotoStep && d.User != nil && d.User.Image != "":
		sess.PhotoURL = d.User.Image
		sess.PhotoSource = widget.SourceModelURL
		if err := s.transition(sess, tryon.StepPreview); err != nil {
			return nil, err
		}

	case d.ModelImage != "":
		sess.Fetching = true
		data, _, fetchErr := s.fetcher.FetchImage(ctx, d.ModelImage)
		sess.Fetching = false
		if fetchErr != nil {
			// Stay in photo with a visible inline error; the user can still
			// supply a photo manually.
			s.logger.Session().Warn("Model image fetch failed",
				"sessionId", sess.ID, "url", d.ModelImage, "error", fetchErr.Error())
			sess.LastError = widget.NewError(widget.ErrCodeInvalidFile,
				"The model photo could not be loaded. Please add a photo manually.")
		} else {
			sess.Photo = data
			sess.PhotoSource = widget.SourceModelURL
			if err := s.transition(sess, tryon.StepPreview); err != nil {
				return nil, err
			}
			s.publish(sess, widget.NewEnvelope(widget.MessagePhotoSelected,
				widget.PhotoSelectedPayload{Source: widget.SourceModelURL}))
		}
	}

	if err := s.store.Update(ctx, sess); err != nil {
		marker.SetError(err)
		return nil, err
	}

	s.publish(sess, widget.NewEnvelope(widget.MessageReady, nil))
	marker.SetSuccess(true)
	s.logger.Session().Info("Session started",
		"sessionId", sess.ID, "merchantKey", d.MerchantKey, "initialStep", string(sess.Step))
	return sess, nil
}

// AttachPhoto runs one photo acquisition path. All paths converge on the
// photo→preview transition. Validation failures surface as widget errors
// without changing the current step.
func (s *SessionService) AttachPhoto(ctx context.Context, sessionID string, source widget.PhotoSource, data []byte, size int64) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}

	switch source {
	case widget.SourceCamera:
		if !sess.Descriptor.Options.AllowCamera {
			return widget.NewError(widget.ErrCodeCamera, "Camera capture is disabled for this widget.")
		}
	case widget.SourceUpload:
		if !sess.Descriptor.Options.AllowUpload {
			return widget.NewError(widget.ErrCodeInvalidFile, "Photo uploads are disabled for this widget.")
		}
	case widget.SourceModelURL:
		// Proxy-fetched photos arrive pre-validated by the fetcher.
	default:
		return widget.NewError(widget.ErrCodeInvalidFile, "Unknown photo source.")
	}

	if err := s.processor.ValidateUpload(data, size); err != nil {
		return err
	}

	// Changing the photo from preview passes back through photo first.
	if sess.Step == tryon.StepPreview {
		if err := s.transition(sess, tryon.StepPhoto); err != nil {
			return err
		}
	}

	photo := data
	if source == widget.SourceCamera {
		// Camera stills are mirrored horizontally to match the on-screen
		// preview. The hardware stream itself lives and dies in the browser.
		mirrored, err := s.processor.MirrorStill(data)
		if err != nil {
			return widget.NewError(widget.ErrCodeCamera, "The captured photo could not be processed.")
		}
		photo = mirrored
	}

	sess.Photo = photo
	sess.PhotoURL = ""
	sess.PhotoSource = source
	sess.LastError = nil
	if err := s.transition(sess, tryon.StepPreview); err != nil {
		return err
	}
	if err := s.store.Update(ctx, sess); err != nil {
		return err
	}

	s.publish(sess, widget.NewEnvelope(widget.MessagePhotoSelected, widget.PhotoSelectedPayload{Source: source}))
	return nil
}

// AttachPhotoURL acquires the photo via the fetch proxy. A fetch failure
// surfaces as an inline error and leaves the current step untouched. The
// per-session lock is held for the state bookkeeping but released around the
// network fetch itself.
func (s *SessionService) AttachPhotoURL(ctx context.Context, sessionID, rawURL string) error {
	mu := s.lock(sessionID)

	mu.Lock()
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		mu.Unlock()
		return widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}
	sess.Fetching = true
	s.store.Update(ctx, sess)
	mu.Unlock()

	data, _, fetchErr := s.fetcher.FetchImage(ctx, rawURL)

	mu.Lock()
	if sess, err := s.store.Get(ctx, sessionID); err == nil {
		sess.Fetching = false
		s.store.Update(ctx, sess)
	}
	mu.Unlock()

	if fetchErr != nil {
		return widget.NewError(widget.ErrCodeInvalidFile,
			"The model photo could not be loaded. Please add a photo manually.")
	}
	return s.AttachPhoto(ctx, sessionID, widget.SourceModelURL, data, int64(len(data)))
}

// ChangePhoto returns a previewing session to the photo step.
func (s *SessionService) ChangePhoto(ctx context.Context, sessionID string) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}
	if err := s.transition(sess, tryon.StepPhoto); err != nil {
		return err
	}
	sess.Photo = nil
	sess.PhotoURL = ""
	sess.PhotoSource = ""
	return s.store.Update(ctx, sess)
}

// Process submits the previewed photo to the generation service. Synthetic
// progress ticks run on a fixed interval while waiting; the HTTP response is
// the only real completion signal. Success lands in result, failure in error,
// and both are relayed through the message channel.
func (s *SessionService) Process(ctx context.Context, sessionID, prompt string) (*tryon.Result, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	marker := s.perfTracker.StartOperation("session:process", "")
	defer marker.Complete()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		marker.SetSuccess(false)
		return nil, widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}
	marker.MerchantKey = sess.MerchantKey

	if err := s.transition(sess, tryon.StepProcessing); err != nil {
		marker.SetError(err)
		return nil, err
	}
	sess.Prompt = prompt
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.publish(sess, widget.NewEnvelope(widget.MessageProcessingStart, nil))

	stopTicks := s.startProgressTicks(sess)
	start := time.Now()

	resp, genErr := s.gen.Generate(ctx, &generation.Request{
		SessionID:   sess.ID,
		Photo:       sess.Photo,
		PhotoURL:    sess.PhotoURL,
		GarmentURL:  sess.Descriptor.Product.Image,
		Prompt:      prompt,
		MerchantKey: sess.MerchantKey,
	})
	stopTicks()

	if genErr != nil {
		werr := widget.AsError(genErr)
		sess.LastError = werr
		if terr := s.transition(sess, tryon.StepError); terr != nil {
			return nil, terr
		}
		if uerr := s.store.Update(ctx, sess); uerr != nil {
			s.logger.Session().Warn("Failed to persist error state", "sessionId", sess.ID, "error", uerr.Error())
		}
		s.publish(sess, widget.NewEnvelope(widget.MessageError,
			widget.ErrorPayload{Code: werr.Code, Message: werr.Message}))
		marker.SetError(werr)
		s.logger.TryOn().Warn("Try-on processing failed",
			"sessionId", sess.ID, "code", werr.Code, "duration", time.Since(start))
		return nil, werr
	}

	result := s.buildResult(ctx, sess, resp)
	sess.Result = result
	if err := s.transition(sess, tryon.StepOutcome); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.publish(sess, widget.NewEnvelope(widget.MessageResult, result))
	marker.SetSuccess(true)
	s.logger.TryOn().Info("Try-on processing completed",
		"sessionId", sess.ID, "duration", time.Since(start))
	return result, nil
}

// Retry resets a finished or failed session back to the photo step.
func (s *SessionService) Retry(ctx context.Context, sessionID string) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}
	if err := s.transition(sess, tryon.StepPhoto); err != nil {
		return err
	}
	sess.Photo = nil
	sess.PhotoURL = ""
	sess.PhotoSource = ""
	sess.Result = nil
	sess.LastError = nil
	return s.store.Update(ctx, sess)
}

// CloseSession relays a close event for the session's widget. It reads a
// store snapshot rather than taking the per-session lock, so closing never
// waits behind an in-flight generation call.
func (s *SessionService) CloseSession(ctx context.Context, sessionID, reason string) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return
	}
	s.publish(sess, widget.NewEnvelope(widget.MessageClose, widget.ClosePayload{Reason: reason}))
	s.logger.Session().Info("Session closed", "sessionId", sessionID, "reason", reason)
}

// Get returns a snapshot of a session. The store hands back a detached copy
// written under its own lock, so polling clients never observe (or race on) a
// transition that is still in flight, and never block behind one either.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, widget.NewError(widget.ErrCodeInvalidSession, "This try-on session has expired.")
	}
	return sess, nil
}

// startProgressTicks emits synthetic processingProgress envelopes on a fixed
// interval, monotonically increasing and capped below completion. These are a
// UX approximation, not real backend progress. The returned func stops the
// ticker.
func (s *SessionService) startProgressTicks(sess *sessions.Session) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(config.ProgressTickInterval)
		defer ticker.Stop()

		progress := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if progress+config.ProgressTickStep <= config.ProgressTickCap {
					progress += config.ProgressTickStep
				}
				s.publish(sess, widget.NewEnvelope(widget.MessageProcessingProgress,
					widget.ProgressPayload{Progress: progress}))
			}
		}
	}()
	return func() { close(done) }
}

// buildResult assembles the immutable try-on result, storing the generated
// image bytes and a webp thumbnail. Derivative generation is best-effort; the
// upstream image URL stands in if local storage fails.
func (s *SessionService) buildResult(ctx context.Context, sess *sessions.Session, resp *generation.Response) *tryon.Result {
	resultID := "tr_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())

	result := &tryon.Result{
		SessionID:      sess.ID,
		ImageURL:       resp.ImageURL,
		DownloadURL:    "/api/v1/tryon/result/" + resultID,
		ExpiresAt:      time.Now().Add(config.ResultTTL).UTC(),
		ProcessingTime: resp.ProcessingTime,
	}

	data := resp.Image
	contentType := "image/jpeg"
	if len(data) == 0 {
		fetched, ct, err := s.fetcher.FetchImage(ctx, resp.ImageURL)
		if err != nil {
			s.logger.Media().Warn("Could not fetch generated image for local serving",
				"sessionId", sess.ID, "error", err.Error())
			result.DownloadURL = resp.ImageURL
			return result
		}
		data, contentType = fetched, ct
	}

	if err := s.store.SaveResultImage(ctx, resultID, data, contentType); err != nil {
		s.logger.Session().Warn("Could not store result image", "sessionId", sess.ID, "error", err.Error())
		result.DownloadURL = resp.ImageURL
		return result
	}

	if thumb, err := s.processor.Thumbnail(data); err == nil {
		thumbID := resultID + "-thumb"
		if s.store.SaveResultImage(ctx, thumbID, thumb, "image/webp") == nil {
			result.ThumbnailURL = "/api/v1/tryon/result/" + thumbID
		}
	}
	return result
}

func (s *SessionService) publish(sess *sessions.Session, env widget.Envelope) {
	if sess.WidgetID == "" {
		return
	}
	s.emitter.Publish(sess.WidgetID, messaging.RoleHost, env)
}
