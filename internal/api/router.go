package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleRenameDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Put("/settings", s.handleUpdateSettings)
				r.Get("/live", s.handleGetLiveState)
				r.Post("/commands", s.handleCommand)
			})
		})

		r.Route("/pairing/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Put("/address", s.handleSetAddress)
				r.Put("/sysid", s.handleSetSysID)
				r.Post("/prefill", s.handlePrefill)
				r.Get("/prefill/ws", s.handlePrefillStream)
				r.Get("/devices", s.handleListCandidates)
				r.Post("/devices", s.handleAddCandidates)
			})
		})

		r.Route("/discovery", func(r chi.Router) {
			r.Post("/scan", s.handleScan)
			r.Get("/ws", s.handleScanStream)
		})
	})

	return r
}
