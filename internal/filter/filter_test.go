// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package filter

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
)

func testGateConfig() config.FilterConfig {
	return config.FilterConfig{
		MinInterval:           5 * time.Minute,
		MinDistanceMeters:     10,
		AccuracyCeilingMeters: 100,
	}
}

func candidate(lat, lon float64, at time.Time) Candidate {
	return Candidate{
		Position:   models.Position{Latitude: lat, Longitude: lon},
		CapturedAt: at,
	}
}

func TestGate_FirstSampleAdmitted(t *testing.T) {
	g := NewGate(testGateConfig())
	if !g.ShouldAdmit(candidate(52.52, 13.405, time.Now())) {
		t.Error("first in-accuracy sample must be admitted")
	}
}

func TestGate_AccuracyCeilingShortCircuits(t *testing.T) {
	g := NewGate(testGateConfig())
	bad := 150.0
	c := candidate(52.52, 13.405, time.Now())
	c.Position.Accuracy = &bad

	// Applies even to the very first sample.
	if g.ShouldAdmit(c) {
		t.Error("sample above the accuracy ceiling must be rejected")
	}

	good := 15.0
	c.Position.Accuracy = &good
	if !g.ShouldAdmit(c) {
		t.Error("sample within the accuracy ceiling must pass the first-sample rule")
	}
}

func TestGate_AccuracyMissingIsAccepted(t *testing.T) {
	g := NewGate(testGateConfig())
	if !g.ShouldAdmit(candidate(52.52, 13.405, time.Now())) {
		t.Error("samples without an accuracy reading must not be gated on it")
	}
}

func TestGate_BothMinimumsRequired(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewGate(testGateConfig())
	g.MarkAdmitted(candidate(52.5200, 13.4050, base))

	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{
			// ~1 km north but only 4 minutes later.
			name: "far but too soon",
			c:    candidate(52.5290, 13.4050, base.Add(4*time.Minute)),
			want: false,
		},
		{
			// 6 minutes later but essentially stationary.
			name: "late but too close",
			c:    candidate(52.5200, 13.4050, base.Add(6*time.Minute)),
			want: false,
		},
		{
			name: "far and late",
			c:    candidate(52.5290, 13.4050, base.Add(6*time.Minute)),
			want: true,
		},
		{
			name: "exactly at both thresholds",
			c:    candidate(52.52009, 13.4050, base.Add(5*time.Minute)),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ShouldAdmit(tt.c); got != tt.want {
				t.Errorf("ShouldAdmit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_AdmitCommitsReference(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewGate(testGateConfig())

	if !g.Admit(candidate(52.5200, 13.4050, base)) {
		t.Fatal("first admit failed")
	}
	// Same spot a minute later: rejected against the committed reference.
	if g.Admit(candidate(52.5200, 13.4050, base.Add(time.Minute))) {
		t.Error("stationary follow-up must be rejected")
	}
	// A failed Admit must not move the reference.
	if !g.Admit(candidate(52.5290, 13.4050, base.Add(6*time.Minute))) {
		t.Error("threshold-clearing sample rejected; reference moved by a failed admit?")
	}
}

func TestGate_Reset(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewGate(testGateConfig())
	g.MarkAdmitted(candidate(52.5200, 13.4050, base))

	if g.ShouldAdmit(candidate(52.5200, 13.4050, base.Add(time.Second))) {
		t.Fatal("sanity: follow-up should be rejected before reset")
	}
	g.Reset()
	if !g.ShouldAdmit(candidate(52.5200, 13.4050, base.Add(time.Second))) {
		t.Error("reset gate must admit the next in-accuracy sample")
	}
}

func TestGate_ConcurrentAdmit(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewGate(testGateConfig())

	// All goroutines race the same candidate; exactly one commit wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(candidate(52.5200, 13.4050, base)) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("expected exactly 1 admission under contention, got %d", admitted)
	}
}

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		expectedM              float64
		toleranceM             float64
	}{
		{
			name: "same point",
			lat1: 52.52, lon1: 13.405, lat2: 52.52, lon2: 13.405,
			expectedM: 0, toleranceM: 0.01,
		},
		{
			name: "one degree of latitude",
			lat1: 0, lon1: 0, lat2: 1, lon2: 0,
			expectedM: 111195, toleranceM: 100,
		},
		{
			name: "berlin to paris",
			lat1: 52.5200, lon1: 13.4050, lat2: 48.8566, lon2: 2.3522,
			expectedM: 878000, toleranceM: 5000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.expectedM) > tt.toleranceM {
				t.Errorf("haversineMeters = %.1f m, want ~%.1f m", got, tt.expectedM)
			}
		})
	}
}
