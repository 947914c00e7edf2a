// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/fashionmirror/fashionmirror-go/internal/application/services"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/email"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/generation"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/media"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/messaging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application Services
	WidgetService       *services.WidgetService
	SessionService      *services.SessionService
	OrchestratorService *services.OrchestratorService

	// Infrastructure Dependencies
	MerchantRegistry *merchant.Registry
	SessionStore     sessions.Store
	Broadcaster      *messaging.WidgetBroadcaster
	MediaProcessor   *media.Processor
	ImageFetcher     media.Fetcher
	Generation       generation.Client
	EmailService     email.Service

	// Observability
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
}

// NewContainer creates and wires all singleton services
func NewContainer(registry *merchant.Registry, logger *logging.ChanneledLogger) *Container {
	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig())

	store := sessions.NewMemoryStore(
		config.MaxSessionsPerMerchant, config.SessionTTL, config.ResultTTL, logger)
	processor := media.NewProcessor(config.MaxUploadBytes, config.ThumbnailWidth, logger)
	fetcher := media.NewHTTPFetcher(config.MaxFetchBytes, config.FetchTimeout, logger)
	genClient := generation.NewHTTPClient(config.GenerationServiceURL, config.GenerationTimeout, logger)
	broadcaster := messaging.NewWidgetBroadcaster(registry, logger)

	// Email is optional infrastructure: without credentials, merchant
	// provisioning still works but no activation email goes out.
	emailService, err := email.NewService()
	if err != nil {
		logger.Email().Warn("Email service unavailable, activation emails disabled", "error", err.Error())
		emailService = nil
	}

	return &Container{
		WidgetService: services.NewWidgetService(logger, perfTracker),
		SessionService: services.NewSessionService(
			store, genClient, processor, fetcher, broadcaster, logger, perfTracker),
		OrchestratorService: services.NewOrchestratorService(
			store, genClient, fetcher, logger, perfTracker),

		MerchantRegistry: registry,
		SessionStore:     store,
		Broadcaster:      broadcaster,
		MediaProcessor:   processor,
		ImageFetcher:     fetcher,
		Generation:       genClient,
		EmailService:     emailService,

		Logger:      logger,
		PerfTracker: perfTracker,
	}
}
