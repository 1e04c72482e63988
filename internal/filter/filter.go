// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package filter implements the admission gate for passively captured
// location samples. Two independent instances run with the same algorithm
// but separate state: one decides what is worth uploading, one decides
// what is worth keeping in the locally visible timeline.
package filter

import (
	"math"
	"sync"
	"time"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
)

// Candidate is the minimal view of a sample the gate needs to decide on.
type Candidate struct {
	Position   models.Position
	CapturedAt time.Time
}

// Gate is a dual-threshold admission filter. A candidate passes only if
// its accuracy is within the configured ceiling and it is both far enough
// and late enough relative to the last admitted sample. The AND of the two
// minimums mirrors the server's own admission rule, so what the client
// keeps locally matches what the server would accept.
//
// Gate is safe for concurrent use. The last-admitted reference is the only
// shared state and is guarded by a single mutex per instance.
type Gate struct {
	mu   sync.Mutex
	cfg  config.FilterConfig
	last *Candidate
}

// NewGate creates an admission gate with no admission history.
func NewGate(cfg config.FilterConfig) *Gate {
	return &Gate{cfg: cfg}
}

// ShouldAdmit reports whether the candidate passes the gate. It does not
// update the last-admitted reference; callers that commit the candidate
// must follow up with MarkAdmitted, or use Admit to do both atomically.
func (g *Gate) ShouldAdmit(c Candidate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shouldAdmitLocked(c)
}

// MarkAdmitted records the candidate as the new last-admitted sample
// without evaluating it. Used for first-run seeding from persisted state
// and for commits decided by an earlier ShouldAdmit call.
func (g *Gate) MarkAdmitted(c Candidate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = &c
}

// Admit evaluates the candidate and, if it passes, records it as the new
// last-admitted sample in the same critical section. This is the form the
// capture path uses: test-and-commit must be atomic under racing callers.
func (g *Gate) Admit(c Candidate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.shouldAdmitLocked(c) {
		return false
	}
	g.last = &c
	return true
}

// Reset clears the admission history. The next in-accuracy candidate is
// admitted unconditionally.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = nil
}

func (g *Gate) shouldAdmitLocked(c Candidate) bool {
	// The accuracy ceiling applies even to the very first sample and
	// short-circuits before any time or distance comparison.
	if g.cfg.AccuracyCeilingMeters > 0 &&
		c.Position.Accuracy != nil &&
		*c.Position.Accuracy > g.cfg.AccuracyCeilingMeters {
		return false
	}

	if g.last == nil {
		return true
	}

	elapsed := c.CapturedAt.Sub(g.last.CapturedAt)
	if elapsed < g.cfg.MinInterval {
		return false
	}

	dist := haversineMeters(
		g.last.Position.Latitude, g.last.Position.Longitude,
		c.Position.Latitude, c.Position.Longitude,
	)
	return dist >= g.cfg.MinDistanceMeters
}

// haversineMeters calculates the great-circle distance between two points
// on Earth using the Haversine formula. Returns distance in meters.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0

	// Convert to radians
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	// Haversine formula
	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}
