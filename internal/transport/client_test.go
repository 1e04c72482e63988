// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(config.TransportConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
}

func testSample() *models.QueuedSample {
	return &models.QueuedSample{
		ID:               1,
		Position:         models.Position{Latitude: 52.52, Longitude: 13.405},
		CapturedAt:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		IdempotencyToken: "idem-abc",
	}
}

func TestSubmitLocation(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody submitLocationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/locations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 9001}`))
	}))
	defer srv.Close()

	id, err := testClient(srv).SubmitLocation(context.Background(), testSample())
	if err != nil {
		t.Fatal(err)
	}
	if id != 9001 {
		t.Errorf("expected server id 9001, got %d", id)
	}
	if gotKey != "idem-abc" {
		t.Errorf("idempotency key not sent: %q", gotKey)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("bearer token not sent: %q", gotAuth)
	}
	if gotBody.Latitude != 52.52 || gotBody.Longitude != 13.405 {
		t.Errorf("coordinates wrong on the wire: %+v", gotBody)
	}
}

func TestSubmitLocation_RejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "below admission thresholds"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).SubmitLocation(context.Background(), testSample())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsRejection(err) {
		t.Errorf("4xx must classify as rejection, got %v", err)
	}

	var rej *RejectedError
	if errors.As(err, &rej) {
		if rej.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status code lost: %d", rej.StatusCode)
		}
		if rej.Message != "below admission thresholds" {
			t.Errorf("reason lost: %q", rej.Message)
		}
	}
}

func TestSubmitLocation_ServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := testClient(srv).SubmitLocation(context.Background(), testSample())
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected an error", status)
		}
		if IsRejection(err) {
			t.Errorf("status %d must classify as transient, got rejection", status)
		}
	}
}

func TestSubmitLocation_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	_, err := testClient(srv).SubmitLocation(context.Background(), testSample())
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsRejection(err) {
		t.Error("connection failure must classify as transient")
	}
}

func TestFetchEnriched(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			t.Error("missing range parameters")
		}
		place := "Alexanderplatz"
		rows := []*models.ServerRow{{
			ServerID:   42,
			Position:   models.Position{Latitude: 52.52, Longitude: 13.405},
			CapturedAt: base.Add(8 * time.Hour),
			Place:      &place,
		}}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	rows, err := testClient(srv).FetchEnriched(context.Background(), base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ServerID != 42 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].Place == nil || *rows[0].Place != "Alexanderplatz" {
		t.Errorf("enrichment fields lost: %+v", rows[0])
	}
}

func TestSubmitUpdateAndDelete(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := testClient(srv)
	lat := 48.8566
	m := &models.PendingMutation{
		Kind:           models.MutationUpdate,
		TargetServerID: 17,
		NewLatitude:    &lat,
	}
	if err := client.SubmitUpdate(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/api/v1/locations/17" {
		t.Errorf("update went to %s %s", gotMethod, gotPath)
	}

	if err := client.SubmitDelete(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/v1/locations/17" {
		t.Errorf("delete went to %s %s", gotMethod, gotPath)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewCircuitBreakerClient(testClient(srv))

	// Drive the breaker open with enough failures.
	var lastErr error
	for i := 0; i < 15; i++ {
		_, lastErr = client.SubmitLocation(context.Background(), testSample())
	}
	if lastErr == nil {
		t.Fatal("expected failures against a broken backend")
	}
	if IsRejection(lastErr) {
		t.Error("an open breaker must classify as transient")
	}
}

func TestCircuitBreaker_RejectionsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad point"}`))
	}))
	defer srv.Close()

	client := NewCircuitBreakerClient(testClient(srv))

	// A long run of rejections is valid backend behavior; the breaker
	// must stay closed and keep classifying them as rejections.
	for i := 0; i < 20; i++ {
		_, err := client.SubmitLocation(context.Background(), testSample())
		if !IsRejection(err) {
			t.Fatalf("attempt %d: rejection misclassified: %v", i, err)
		}
	}
}
