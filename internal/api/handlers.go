// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/models"
	"github.com/waylog/waylog/internal/mutation"
	"github.com/waylog/waylog/internal/queue"
	"github.com/waylog/waylog/internal/timeline"
)

// Handler carries the services the HTTP surface exposes.
type Handler struct {
	queue     *queue.Service
	mutations *mutation.Service
	timeline  *timeline.Service
	log       zerolog.Logger
}

// NewHandler wires the HTTP handlers over the sync services.
func NewHandler(q *queue.Service, m *mutation.Service, tl *timeline.Service, log zerolog.Logger) *Handler {
	return &Handler{
		queue:     q,
		mutations: m,
		timeline:  tl,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.log, map[string]string{"status": "ok"})
}

// statusResponse is the combined diagnostics snapshot.
type statusResponse struct {
	Queue             *models.QueueStatus `json:"queue"`
	PendingMutations  int                 `json:"pending_mutations"`
	RejectedMutations int                 `json:"rejected_mutations"`
	TimelineEntries   int                 `json:"timeline_entries"`
}

// Status reports queue depth, mutation backlog, and timeline size.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	qs, err := h.queue.Status(r.Context())
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	total, rejected, err := h.mutations.Count(r.Context())
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	entries, err := h.timeline.Count(r.Context())
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	writeSuccess(w, h.log, statusResponse{
		Queue:             qs,
		PendingMutations:  total,
		RejectedMutations: rejected,
		TimelineEntries:   entries,
	})
}

// captureRequest is one reported location fix.
type captureRequest struct {
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Altitude    *float64   `json:"altitude,omitempty"`
	Speed       *float64   `json:"speed,omitempty"`
	Bearing     *float64   `json:"bearing,omitempty"`
	Accuracy    *float64   `json:"accuracy,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	UserInvoked bool       `json:"user_invoked"`
	ActivityID  *int64     `json:"activity_id,omitempty"`
	Note        *string    `json:"note,omitempty"`
}

type captureResponse struct {
	Admitted bool   `json:"admitted"`
	LocalID  *int64 `json:"local_id,omitempty"`
}

// Capture accepts one location fix. Passive fixes go through the
// admission gates and may be dropped; user check-ins always enqueue.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "coordinates out of range")
		return
	}

	capturedAt := time.Now().UTC()
	if req.CapturedAt != nil {
		capturedAt = req.CapturedAt.UTC()
	}
	pos := models.Position{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Altitude:  req.Altitude,
		Speed:     req.Speed,
		Bearing:   req.Bearing,
		Accuracy:  req.Accuracy,
	}

	// Check-ins carry metadata the gated path does not, so they enqueue
	// directly.
	if req.UserInvoked {
		sample := &models.QueuedSample{
			Position:    pos,
			CapturedAt:  capturedAt,
			UserInvoked: true,
			ActivityID:  req.ActivityID,
			Note:        req.Note,
		}
		if err := h.queue.Enqueue(r.Context(), sample); err != nil {
			writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
			return
		}
		writeSuccess(w, h.log, captureResponse{Admitted: true, LocalID: &sample.ID})
		return
	}

	sample, err := h.queue.Capture(r.Context(), pos, capturedAt, false)
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	resp := captureResponse{Admitted: sample != nil}
	if sample != nil {
		resp.LocalID = &sample.ID
	}
	writeSuccess(w, h.log, resp)
}

// TimelineByDate lists entries for one calendar day, local time.
// The date query parameter is YYYY-MM-DD; missing means today.
func (h *Handler) TimelineByDate(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		day = parsed
	}
	entries, err := h.timeline.ListByDate(r.Context(), day, time.Local)
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	writeSuccess(w, h.log, entries)
}

// TimelineEntry returns one entry by its local identifier.
func (h *Handler) TimelineEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid entry id")
		return
	}
	entry, err := h.timeline.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, h.log, http.StatusNotFound, errCodeNotFound, "entry not found")
		return
	}
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	writeSuccess(w, h.log, entry)
}

// updateEntryRequest is a partial edit of a synced entry. Raw JSON is
// inspected so "notes": null and a missing notes key stay distinct.
type updateEntryRequest struct {
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// UpdateEntry enqueues an edit against a synced entry, applying it
// optimistically to the local timeline. The path parameter is the
// entry's server identity.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	serverID, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid server id")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	body, err := json.Marshal(raw)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	var req updateEntryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	_, notesIncluded := raw["notes"]

	upd := mutation.Update{
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		CapturedAt:    req.CapturedAt,
		Notes:         req.Notes,
		NotesIncluded: notesIncluded,
	}
	m, err := h.mutations.EnqueueUpdate(r.Context(), serverID, upd)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, h.log, http.StatusNotFound, errCodeNotFound, "no synced entry with that server id")
		return
	}
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	writeSuccess(w, h.log, m)
}

// DeleteEntry enqueues a delete against a synced entry and removes the
// local row optimistically.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	serverID, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, "invalid server id")
		return
	}
	m, err := h.mutations.EnqueueDelete(r.Context(), serverID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, h.log, http.StatusNotFound, errCodeNotFound, "no synced entry with that server id")
		return
	}
	if err != nil {
		writeError(w, h.log, http.StatusInternalServerError, errCodeInternalError, err.Error())
		return
	}
	writeSuccess(w, h.log, m)
}

// ExportCSV streams the whole timeline as CSV.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="timeline.csv"`)
	if err := h.timeline.ExportCSV(r.Context(), w); err != nil {
		h.log.Error().Err(err).Msg("csv export failed")
	}
}

// ExportGeoJSON streams the whole timeline as a GeoJSON FeatureCollection.
func (h *Handler) ExportGeoJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", `attachment; filename="timeline.geojson"`)
	if err := h.timeline.ExportGeoJSON(r.Context(), w); err != nil {
		h.log.Error().Err(err).Msg("geojson export failed")
	}
}

// ImportCSV merges an uploaded CSV export into the timeline.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	res, err := h.timeline.ImportCSV(r.Context(), r.Body)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	writeSuccess(w, h.log, res)
}

// ImportGeoJSON merges an uploaded GeoJSON export into the timeline.
func (h *Handler) ImportGeoJSON(w http.ResponseWriter, r *http.Request) {
	res, err := h.timeline.ImportGeoJSON(r.Context(), r.Body)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	writeSuccess(w, h.log, res)
}
