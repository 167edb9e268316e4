// Package server exposes the discussion runtime over HTTP and WebSocket.
//
// The HTTP surface covers token management, history reads and facilitator
// control; the WebSocket surface carries the live session. Identity arrives
// either as a trusted user id header from the fronting identity proxy or as
// an anonymous session cookie; token introspection happens upstream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/seminarhq/seminar/internal/admission"
	"github.com/seminarhq/seminar/internal/bus"
	"github.com/seminarhq/seminar/internal/facilitator"
	"github.com/seminarhq/seminar/internal/platform/timeouts"
	"github.com/seminarhq/seminar/internal/registry"
	"github.com/seminarhq/seminar/internal/token"
)

const (
	// userIDHeader carries the authenticated user id injected by the
	// identity proxy. The runtime trusts it as-is.
	userIDHeader = "X-User-Id"

	// sessionCookieName identifies anonymous participants across reconnects.
	sessionCookieName = "seminar_session"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the transport boundary settings.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Services collects the runtime components the transport fronts.
type Services struct {
	Tokens      *token.Service
	Admission   *admission.Controller
	Bus         *bus.Bus
	Facilitator *facilitator.Scheduler
	Registry    *registry.Registry
}

// Server hosts the HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// New creates a server around the given services.
func New(config Config, services Services) (*Server, error) {
	addr := strings.TrimSpace(config.HTTPAddr)
	if addr == "" {
		return nil, errors.New("http address is required")
	}
	if services.Tokens == nil || services.Admission == nil || services.Bus == nil {
		return nil, errors.New("token, admission and bus services are required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	return &Server{
		httpAddr:        addr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(services),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
	}, nil
}

// NewHandler builds the route table. Exposed separately so tests can mount
// the routes on httptest servers.
func NewHandler(services Services) http.Handler {
	h := &handler{services: services}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/tokens", h.generateToken)
	mux.HandleFunc("POST /v1/tokens/validate", h.validateToken)
	mux.HandleFunc("POST /v1/tokens/revoke", h.revokeToken)
	mux.HandleFunc("GET /v1/discussions/{id}/tokens", h.listTokens)
	mux.HandleFunc("GET /v1/discussions/{id}/messages", h.listMessages)
	mux.HandleFunc("POST /v1/discussions/{id}/facilitator/trigger", h.triggerFacilitator)
	mux.HandleFunc("GET /v1/discussions/{id}/facilitator/status", h.facilitatorStatus)

	mux.Handle("/ws", h.websocketHandler())

	return mux
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("seminar server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

type handler struct {
	services Services
}

// callerUserID extracts the trusted identity header, empty for anonymous
// callers.
func callerUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userIDHeader))
}
