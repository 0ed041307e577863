// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: "nvr-api",
		EnableLogging:  true,
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/volumes", s.handleVolumes)
		r.Get("/sessions", s.handleSessions)
		r.Get("/cameras/{cam}/session", s.handleSession)
		r.Get("/jobs", s.handleJobs)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MutationRateLimit(s.cfg.RateLimit))

			r.Post("/cameras/{cam}/record/{type}", s.handleStartRecord)
			r.Delete("/cameras/{cam}/record/{type}", s.handleStopRecord)
			r.Post("/media/{media}/format", s.handleFormat)
			r.Post("/media/{media}/recover", s.handleRecover)
			r.Post("/backup/{device}/unplug", s.handleUnplug)
			r.Post("/cleanup/{kind}", s.handleStartCleanup)
			r.Delete("/cleanup/{kind}", s.handleCancelCleanup)
		})
	})
	return r
}
