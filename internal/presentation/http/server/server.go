// Package server owns the widget API's HTTP listener lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fashionmirror/fashionmirror-go/internal/application/container"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/routes"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// Server wraps the HTTP server around the widget API routes and the DI
// container that backs them.
type Server struct {
	httpServer *http.Server
	container  *container.Container
}

// New creates the widget API server on the given port.
func New(port string, container *container.Container) *Server {
	router := routes.SetupRoutes(container)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		container:  container,
	}
}

// Start begins serving the widget API. It blocks until the listener fails or
// Stop shuts it down.
func (s *Server) Start() error {
	s.container.Logger.Startup().Info("Widget API listening",
		"addr", s.httpServer.Addr,
		"widgetVersion", config.WidgetVersion,
		"merchants", s.container.MerchantRegistry.Count())

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully drains in-flight try-on requests and shuts the listener
// down.
func (s *Server) Stop(ctx context.Context) error {
	s.container.Logger.Shutdown().Info("Widget API shutting down")
	return s.httpServer.Shutdown(ctx)
}
