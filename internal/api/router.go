package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/device", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Get("/info", s.handleGetInfo)
			r.Get("/model", s.handleGetModel)
			r.Get("/wifi", s.handleGetWiFi)
			r.Put("/wifi", s.handleSetWiFi)
			r.Get("/mqtt", s.handleGetMQTT)
			r.Put("/mqtt/server", s.handleSetMQTTServer)
			r.Put("/mqtt/pubsub", s.handleSetMQTTPubSub)

			r.Post("/sample", s.handleSample)
			r.Post("/invoke", s.handleInvoke)
			r.Post("/break", s.handleBreak)
			r.Post("/reset", s.handleReset)

			r.Get("/tscore", s.handleGetTScore)
			r.Put("/tscore", s.handleSetTScore)
			r.Get("/tiou", s.handleGetTIoU)
			r.Put("/tiou", s.handleSetTIoU)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/events", s.handleHistoryEvents)
			r.Get("/logs", s.handleHistoryLogs)
			r.Get("/sessions", s.handleHistorySessions)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.device.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"device":  state.Flags,
	})
}

// wsPath is the WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
