// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package api serves the local diagnostics and control surface over a
// loopback HTTP listener: capture, timeline reads and edits,
// import/export, queue status, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// apiResponse is the envelope every JSON endpoint answers with.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeInternalError = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, log zerolog.Logger, data interface{}) {
	writeJSON(w, log, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, log zerolog.Logger, status int, code, message string) {
	writeJSON(w, log, status, apiResponse{Error: &apiError{Code: code, Message: message}})
}
