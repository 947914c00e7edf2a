// Package handlers provides HTTP handlers for the widget try-on API.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/application/services"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/middleware"
)

// CreateSessionRequest is the body for POST /api/v1/tryon/session.
type CreateSessionRequest struct {
	Product    widget.ProductInfo     `json:"product" binding:"required"`
	User       *widget.UserInfo       `json:"user,omitempty"`
	ModelImage string                 `json:"modelImage,omitempty"`
	Options    *widget.SessionOptions `json:"options,omitempty"`
	Theme      string                 `json:"theme,omitempty"`
	Locale     string                 `json:"locale,omitempty"`
	WidgetID   string                 `json:"widgetId,omitempty"`
}

// ProgressiveRequest is the body for POST /api/v1/tryon/progressive.
type ProgressiveRequest struct {
	SessionID string          `json:"sessionId"`
	BaseImage string          `json:"baseImage" binding:"required"`
	Garments  []tryon.Garment `json:"garments" binding:"required"`
	Prompt    string          `json:"prompt,omitempty"`
}

// TryOnHandlers contains the session FSM and progressive run HTTP handlers.
type TryOnHandlers struct {
	sessionService      *services.SessionService
	orchestratorService *services.OrchestratorService
	store               sessions.Store
	logger              *logging.ChanneledLogger
	perfTracker         *performance.Tracker
}

// NewTryOnHandlers creates try-on handlers with injected dependencies
func NewTryOnHandlers(
	sessionService *services.SessionService,
	orchestratorService *services.OrchestratorService,
	store sessions.Store,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *TryOnHandlers {
	return &TryOnHandlers{
		sessionService:      sessionService,
		orchestratorService: orchestratorService,
		store:               store,
		logger:              logger,
		perfTracker:         perfTracker,
	}
}

// PostSession creates a try-on session for the resolved merchant.
func (h *TryOnHandlers) PostSession(c *gin.Context) {
	start := time.Now()
	merchantCtx, exists := middleware.GetMerchantContext(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "merchant context not found"})
		return
	}

	marker := h.perfTracker.StartOperation("create_session_request", merchantCtx.Key)
	defer marker.Complete()

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	opts := widget.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	descriptor := &widget.SessionDescriptor{
		MerchantKey: merchantCtx.Key,
		Product:     req.Product,
		User:        req.User,
		ModelImage:  req.ModelImage,
		Options:     opts,
		Theme:       req.Theme,
		Locale:      req.Locale,
	}

	sess, err := h.sessionService.Start(c.Request.Context(), descriptor, req.WidgetID)
	if err != nil {
		respondWidgetError(c, err)
		return
	}

	marker.SetSuccess(true)
	h.logger.Session().Info("Create session request completed",
		"sessionId", sess.ID, "merchantKey", merchantCtx.Key, "duration", time.Since(start))
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"step":      sess.Step,
		"lastError": sess.LastError,
	})
}

// GetSession returns the current state of a session.
func (h *TryOnHandlers) GetSession(c *gin.Context) {
	sess, err := h.sessionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWidgetError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// PostTryOn drives the FSM: attaches a photo when one is supplied, then runs
// processing. Multipart fields: sessionId, source, photo (file), photoUrl,
// prompt.
func (h *TryOnHandlers) PostTryOn(c *gin.Context) {
	start := time.Now()
	sessionID := c.PostForm("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	marker := h.perfTracker.StartOperation("tryon_request", "")
	defer marker.Complete()

	ctx := c.Request.Context()

	if fileHeader, err := c.FormFile("photo"); err == nil {
		source := widget.PhotoSource(c.DefaultPostForm("source", string(widget.SourceUpload)))
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read photo"})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read photo"})
			return
		}
		if err := h.sessionService.AttachPhoto(ctx, sessionID, source, data, fileHeader.Size); err != nil {
			respondWidgetError(c, err)
			return
		}
	} else if photoURL := c.PostForm("photoUrl"); photoURL != "" {
		if err := h.sessionService.AttachPhotoURL(ctx, sessionID, photoURL); err != nil {
			respondWidgetError(c, err)
			return
		}
	}

	result, err := h.sessionService.Process(ctx, sessionID, c.PostForm("prompt"))
	if err != nil {
		respondWidgetError(c, err)
		return
	}

	marker.SetSuccess(true)
	h.logger.TryOn().Info("Try-on request completed", "sessionId", sessionID, "duration", time.Since(start))
	c.JSON(http.StatusOK, result)
}

// PostRetry resets a finished or failed session back to the photo step.
func (h *TryOnHandlers) PostRetry(c *gin.Context) {
	if err := h.sessionService.Retry(c.Request.Context(), c.Param("id")); err != nil {
		respondWidgetError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": tryon.StepPhoto})
}

// DeleteSession closes a session, relaying the close event to its widget.
func (h *TryOnHandlers) DeleteSession(c *gin.Context) {
	h.sessionService.CloseSession(c.Request.Context(), c.Param("id"), c.DefaultQuery("reason", "user"))
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// GetResult serves stored generated image bytes.
func (h *TryOnHandlers) GetResult(c *gin.Context) {
	data, contentType, err := h.store.ResultImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}

// GetAggregate returns the persisted record of a whole progressive chain:
// the final result plus the concatenated garment summary.
func (h *TryOnHandlers) GetAggregate(c *gin.Context) {
	agg, err := h.store.Aggregate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
		return
	}
	c.JSON(http.StatusOK, agg)
}

// PostProgressive runs the orchestrator, streaming progress and step events as
// SSE, then the final aggregated result. A client disconnect cancels the run
// through the request context.
func (h *TryOnHandlers) PostProgressive(c *gin.Context) {
	start := time.Now()
	merchantCtx, exists := middleware.GetMerchantContext(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "merchant context not found"})
		return
	}

	var req ProgressiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	marker := h.perfTracker.StartOperation("progressive_request", merchantCtx.Key)
	defer marker.Complete()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	run, err := h.orchestratorService.Run(c.Request.Context(), &services.RunRequest{
		SessionID:    req.SessionID,
		MerchantKey:  merchantCtx.Key,
		BaseImageURL: req.BaseImage,
		Garments:     req.Garments,
		Prompt:       req.Prompt,
		OnProgress: func(p tryon.Progress) {
			c.SSEvent("progress", p)
			c.Writer.Flush()
		},
		OnStep: func(step tryon.StepResult) {
			c.SSEvent("step", step)
			c.Writer.Flush()
		},
	})

	if err != nil {
		if run == nil {
			run = &tryon.RunResult{}
		}
		werr := widget.AsError(err)
		c.SSEvent("error", gin.H{
			"code":       werr.Code,
			"message":    werr.Message,
			"failedStep": run.FailedStep,
			"steps":      run.Steps,
		})
		c.Writer.Flush()
		marker.SetError(err)
		return
	}

	c.SSEvent("result", run)
	c.Writer.Flush()
	marker.SetSuccess(true)
	h.logger.Orchestrator().Info("Progressive request completed",
		"merchantKey", merchantCtx.Key, "steps", len(run.Steps), "duration", time.Since(start))
}

// respondWidgetError maps widget error codes to HTTP statuses while keeping
// the {code,message} body the embedded frontend renders.
func respondWidgetError(c *gin.Context, err error) {
	if errors.Is(err, sessions.ErrQuotaExceeded) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "merchant session quota exceeded"})
		return
	}

	werr := widget.AsError(err)
	status := http.StatusBadRequest
	switch werr.Code {
	case widget.ErrCodeFileTooLarge:
		status = http.StatusRequestEntityTooLarge
	case widget.ErrCodeInvalidSession:
		status = http.StatusNotFound
	case widget.ErrCodeProcessing:
		status = http.StatusBadGateway
	}
	c.JSON(status, werr)
}
