// Package httpapi is the broker's HTTP transport adapter: it owns zero
// business state, translating core-component return values into the wire
// shapes and status codes in the broker's external interface contract.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/agent-racer/relaybroker/internal/broker"
	"github.com/agent-racer/relaybroker/internal/metrics"
)

// Server is the broker's HTTP adapter: a thin façade over broker.Broker.
type Server struct {
	broker         *broker.Broker
	allowedOrigins map[string]bool
	validate       *validator.Validate
	metrics        *metrics.Metrics
	publicDir      string
}

// NewServer builds a Server over b. An empty allowedOrigins list means "all
// origins permitted", matching spec §6's CORS policy. m may be nil, in which
// case every instrumentation call is a no-op; the /metrics endpoint itself
// is served by a separate process-level listener, see cmd/server.
func NewServer(b *broker.Broker, allowedOrigins []string, m *metrics.Metrics, publicDir string) *Server {
	s := &Server{
		broker:         b,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		validate:       validator.New(),
		metrics:        m,
		publicDir:      publicDir,
	}
	for _, o := range allowedOrigins {
		s.allowedOrigins[o] = true
	}
	return s
}

// Router builds the chi router for the broker's full HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/functions", s.handleUploadFunctions)
		r.Get("/functions", s.handleReadFunctions)

		r.Post("/keepalive", s.handleKeepalive)

		r.Post("/save-to-public", s.handleSaveToPublic)

		r.Post("/remote-command", s.handleEnqueueCommand)
		r.Get("/remote-command", s.handleDispatchSingle)
		r.Get("/remote-command-batch", s.handleDispatchBatch)

		r.Post("/execute-response", s.handlePostResult)
		r.Get("/execute-response/{id}", s.handleDrainResult)

		r.Route("/scan", func(r chi.Router) {
			r.Post("/session/save", s.handleSessionSave)
			r.Get("/sessions", s.handleSessionList)
			r.Get("/session/load/{id}", s.handleSessionLoad)
			r.Get("/session/resume/{id}", s.handleSessionResume)
			r.Delete("/session/delete/{id}", s.handleSessionDelete)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP returns the best-effort caller address for liveness touches.
func clientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	return r.RemoteAddr
}
