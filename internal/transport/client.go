// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package transport is the HTTP client for the location backend. It
// distinguishes transient failures, which the sync workers retry, from
// authoritative rejections, which are terminal, and shields the backend
// behind a circuit breaker when it is down.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
)

// API is what the sync workers need from the backend. Both Client and
// CircuitBreakerClient implement it.
type API interface {
	SubmitLocation(ctx context.Context, sample *models.QueuedSample) (int64, error)
	FetchEnriched(ctx context.Context, from, to time.Time) ([]*models.ServerRow, error)
	SubmitUpdate(ctx context.Context, m *models.PendingMutation) error
	SubmitDelete(ctx context.Context, m *models.PendingMutation) error
}

var _ API = (*Client)(nil)

// RejectedError is an authoritative "no" from the server: a 4xx-class
// answer that retrying cannot fix. Everything else is transient.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}

// IsRejection reports whether err is a permanent server rejection.
func IsRejection(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a backend client from config.
func NewClient(cfg config.TransportConfig) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// submitLocationRequest is the wire form of one uploaded sample.
type submitLocationRequest struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Bearing    *float64  `json:"bearing,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	ActivityID *int64    `json:"activity_id,omitempty"`
	Note       *string   `json:"note,omitempty"`
}

type submitLocationResponse struct {
	ID int64 `json:"id"`
}

// SubmitLocation uploads one sample and returns the server-assigned
// identifier. The sample's idempotency token travels in the
// Idempotency-Key header, so a retry after a lost response cannot
// create a duplicate point server-side.
func (c *Client) SubmitLocation(ctx context.Context, sample *models.QueuedSample) (int64, error) {
	body := submitLocationRequest{
		Latitude:   sample.Position.Latitude,
		Longitude:  sample.Position.Longitude,
		Altitude:   sample.Position.Altitude,
		Speed:      sample.Position.Speed,
		Bearing:    sample.Position.Bearing,
		Accuracy:   sample.Position.Accuracy,
		CapturedAt: sample.CapturedAt.UTC(),
		ActivityID: sample.ActivityID,
		Note:       sample.Note,
	}

	headers := map[string]string{"Idempotency-Key": sample.IdempotencyToken}
	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/locations", body, headers)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var out submitLocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode submit response: %w", err)
	}
	if out.ID == 0 {
		return 0, fmt.Errorf("submit response missing server id")
	}
	return out.ID, nil
}

// FetchEnriched retrieves the enriched locations captured in [from, to).
func (c *Client) FetchEnriched(ctx context.Context, from, to time.Time) ([]*models.ServerRow, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339Nano))
	q.Set("to", to.UTC().Format(time.RFC3339Nano))

	resp, err := c.doJSON(ctx, http.MethodGet, "/api/v1/locations?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var rows []*models.ServerRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode enriched rows: %w", err)
	}
	return rows, nil
}

// updateRequest is the wire form of an edit. Absent fields are left
// untouched server-side; notes_included mirrors the mutation record's
// discriminator so "clear notes" survives the trip.
type updateRequest struct {
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	NotesIncluded bool       `json:"notes_included"`
}

// SubmitUpdate sends one queued edit to the server.
func (c *Client) SubmitUpdate(ctx context.Context, m *models.PendingMutation) error {
	body := updateRequest{
		Latitude:      m.NewLatitude,
		Longitude:     m.NewLongitude,
		CapturedAt:    m.NewCapturedAt,
		Notes:         m.NewNotes,
		NotesIncluded: m.NotesIncluded,
	}

	path := fmt.Sprintf("/api/v1/locations/%d", m.TargetServerID)
	resp, err := c.doJSON(ctx, http.MethodPatch, path, body, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

// SubmitDelete sends one queued delete to the server.
func (c *Client) SubmitDelete(ctx context.Context, m *models.PendingMutation) error {
	path := fmt.Sprintf("/api/v1/locations/%d", m.TargetServerID)
	resp, err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// checkStatus maps the response status onto the error taxonomy: 2xx is
// success, 4xx is a permanent RejectedError (except 408 and 429, which
// are worth retrying), everything else is transient.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout &&
		resp.StatusCode != http.StatusTooManyRequests {
		return &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "(no body)"
	}

	var wire struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err == nil {
		if wire.Error != "" {
			return wire.Error
		}
		if wire.Message != "" {
			return wire.Message
		}
	}
	return string(data)
}
