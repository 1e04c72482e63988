// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the chi router for the local control surface.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/v1/health", h.Health)
	r.Get("/api/v1/status", h.Status)

	r.Post("/api/v1/locations", h.Capture)

	r.Route("/api/v1/timeline", func(r chi.Router) {
		r.Get("/", h.TimelineByDate)
		r.Get("/{id}", h.TimelineEntry)
		r.Patch("/server/{serverID}", h.UpdateEntry)
		r.Delete("/server/{serverID}", h.DeleteEntry)

		r.Get("/export.csv", h.ExportCSV)
		r.Get("/export.geojson", h.ExportGeoJSON)
		r.Post("/import.csv", h.ImportCSV)
		r.Post("/import.geojson", h.ImportGeoJSON)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
