package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/tryon"
	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/generation"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
)

// ProgressFunc receives the run's progress counter. It is called exactly once
// per completed step, never for a step that merely started.
type ProgressFunc func(p tryon.Progress)

// StepFunc receives each completed step's trail entry as it is produced.
type StepFunc func(step tryon.StepResult)

// OrchestratorService chains multiple garment generations into one progressive
// run: each step's output image is the next step's base. The chain is strictly
// sequential; a step failure aborts everything after it but preserves the
// trail built so far. Cancellation of the caller's context stops the chain at
// the next step boundary.
type OrchestratorService struct {
	store       sessions.Store
	gen         generation.Client
	fetcher     media.Fetcher
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewOrchestratorService creates a new progressive orchestrator.
func NewOrchestratorService(
	store sessions.Store,
	gen generation.Client,
	fetcher media.Fetcher,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *OrchestratorService {
	return &OrchestratorService{
		store:       store,
		gen:         gen,
		fetcher:     fetcher,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// RunRequest describes one progressive multi-garment run.
type RunRequest struct {
	SessionID    string
	MerchantKey  string
	BaseImageURL string
	Garments     []tryon.Garment
	Prompt       string
	OnProgress   ProgressFunc
	OnStep       StepFunc
}

// Run executes the progressive chain. The returned RunResult always carries
// the trail of completed steps, even when err is non-nil; FailedStep marks the
// 1-based step that aborted the run.
func (o *OrchestratorService) Run(ctx context.Context, req *RunRequest) (*tryon.RunResult, error) {
	marker := o.perfTracker.StartOperation("orchestrator:run", req.MerchantKey)
	defer marker.Complete()

	if len(req.Garments) == 0 {
		marker.SetSuccess(false)
		return nil, widget.NewError(widget.ErrCodeNoProductImage, "At least one garment is required.")
	}
	if req.BaseImageURL == "" {
		marker.SetSuccess(false)
		return nil, widget.NewError(widget.ErrCodeInvalidFile, "A base photo is required.")
	}

	o.prefetchGarments(ctx, req.Garments)

	run := &tryon.RunResult{Steps: make([]tryon.StepResult, 0, len(req.Garments))}
	total := len(req.Garments)
	base := req.BaseImageURL
	start := time.Now()

	o.logger.Orchestrator().Info("Progressive run started",
		"sessionId", req.SessionID, "garments", total, "merchantKey", req.MerchantKey)

	for i, garment := range req.Garments {
		stepNum := i + 1

		// Cancellation is honored at every step boundary; steps already
		// completed stay in the trail.
		if err := ctx.Err(); err != nil {
			run.FailedStep = stepNum
			marker.SetError(err)
			o.logger.Orchestrator().Info("Progressive run canceled",
				"sessionId", req.SessionID, "atStep", stepNum, "completed", len(run.Steps))
			return run, err
		}

		stepStart := time.Now()
		resp, err := o.gen.Generate(ctx, &generation.Request{
			SessionID:   req.SessionID,
			PhotoURL:    base,
			GarmentURL:  garment.ImageURL,
			Prompt:      o.stepPrompt(req.Prompt, garment),
			StepNumber:  stepNum,
			MerchantKey: req.MerchantKey,
		})
		if err != nil {
			run.FailedStep = stepNum
			marker.SetError(err)
			o.logger.Orchestrator().Warn("Progressive step failed",
				"sessionId", req.SessionID, "step", stepNum, "garment", garment.Name, "error", err.Error())
			return run, widget.AsError(err)
		}

		step := tryon.StepResult{
			StepNumber:     stepNum,
			Garment:        garment,
			ImageURL:       resp.ImageURL,
			ProcessingTime: stepProcessingTime(resp, stepStart),
		}
		run.Steps = append(run.Steps, step)
		base = resp.ImageURL

		if req.OnStep != nil {
			req.OnStep(step)
		}
		if req.OnProgress != nil {
			req.OnProgress(tryon.Progress{Completed: stepNum, Total: total})
		}
		o.logger.Orchestrator().Debug("Progressive step completed",
			"sessionId", req.SessionID, "step", stepNum, "garment", garment.Name)
	}

	run.Final = o.aggregate(ctx, req.SessionID, run.Steps)
	marker.SetSuccess(true)
	o.logger.Orchestrator().Info("Progressive run completed",
		"sessionId", req.SessionID, "steps", len(run.Steps), "duration", time.Since(start))
	return run, nil
}

// aggregate persists the whole chain as one record, pulling the final image
// through the proxy so the record's download URL serves locally. If
// aggregation fails, the run still succeeds: the final step's raw image
// becomes the result.
func (o *OrchestratorService) aggregate(ctx context.Context, sessionID string, steps []tryon.StepResult) *tryon.Result {
	finalImage, contentType, fetchErr := o.fetcher.FetchImage(ctx, steps[len(steps)-1].ImageURL)
	if fetchErr != nil {
		o.logger.Orchestrator().Warn("Could not fetch final chain image for local serving",
			"sessionId", sessionID, "error", fetchErr.Error())
		finalImage, contentType = nil, ""
	}

	final, err := o.store.SaveAggregate(ctx, sessionID, steps, finalImage, contentType)
	if err == nil {
		return final
	}

	o.logger.Orchestrator().Warn("Aggregation failed, falling back to last step image",
		"sessionId", sessionID, "error", err.Error())

	last := steps[len(steps)-1]
	var totalTime int64
	for _, s := range steps {
		totalTime += s.ProcessingTime
	}
	return &tryon.Result{
		SessionID:      sessionID,
		ImageURL:       last.ImageURL,
		DownloadURL:    last.ImageURL,
		ExpiresAt:      time.Now().Add(24 * time.Hour).UTC(),
		ProcessingTime: totalTime,
	}
}

// prefetchGarments warms the image proxy for every garment concurrently before
// the sequential chain starts. Failures are logged and ignored; the generation
// service fetches garment URLs itself, so this is purely a latency win.
func (o *OrchestratorService) prefetchGarments(ctx context.Context, garments []tryon.Garment) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, garment := range garments {
		garment := garment
		g.Go(func() error {
			if _, _, err := o.fetcher.FetchImage(gctx, garment.ImageURL); err != nil {
				o.logger.Orchestrator().Debug("Garment prefetch miss",
					"garment", garment.Name, "error", err.Error())
			}
			return nil
		})
	}
	g.Wait()
}

// stepPrompt composes the per-step prompt from the run prompt and the
// garment's own specification.
func (o *OrchestratorService) stepPrompt(runPrompt string, g tryon.Garment) string {
	switch {
	case g.Specification != "" && runPrompt != "":
		return fmt.Sprintf("%s. %s", runPrompt, g.Specification)
	case g.Specification != "":
		return g.Specification
	default:
		return runPrompt
	}
}

func stepProcessingTime(resp *generation.Response, started time.Time) int64 {
	if resp.ProcessingTime > 0 {
		return resp.ProcessingTime
	}
	return time.Since(started).Milliseconds()
}
