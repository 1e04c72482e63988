// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/waylog/waylog/internal/logging"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
)

// CircuitBreakerClient wraps the backend client with a circuit breaker
// so a dead or struggling backend stops consuming work. An open breaker
// surfaces as a transient error: claimed records are released for retry,
// never rejected.
//
// A server rejection is a valid response, not a backend failure, so it
// does not count against the breaker.
type CircuitBreakerClient struct {
	client API
	cb     *gobreaker.CircuitBreaker[interface{}]
}

var _ API = (*CircuitBreakerClient)(nil)

// NewCircuitBreakerClient wraps an API with breaker protection.
// The breaker opens after a 60% failure rate over at least 10 requests,
// waits 2 minutes before probing, and allows 3 requests half-open.
func NewCircuitBreakerClient(client API) *CircuitBreakerClient {
	metrics.BreakerState.Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "waylog-backend",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		IsSuccessful: func(err error) bool {
			return err == nil || IsRejection(err)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state change")
			metrics.BreakerState.Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb}
}

func (c *CircuitBreakerClient) SubmitLocation(ctx context.Context, sample *models.QueuedSample) (int64, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.SubmitLocation(ctx, sample)
	})
	if err != nil {
		return 0, wrapBreakerErr(err)
	}
	id, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return id, nil
}

func (c *CircuitBreakerClient) FetchEnriched(ctx context.Context, from, to time.Time) ([]*models.ServerRow, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.FetchEnriched(ctx, from, to)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	rows, ok := result.([]*models.ServerRow)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return rows, nil
}

func (c *CircuitBreakerClient) SubmitUpdate(ctx context.Context, m *models.PendingMutation) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.SubmitUpdate(ctx, m)
	})
	return wrapBreakerErr(err)
}

func (c *CircuitBreakerClient) SubmitDelete(ctx context.Context, m *models.PendingMutation) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.SubmitDelete(ctx, m)
	})
	return wrapBreakerErr(err)
}

// wrapBreakerErr keeps an open breaker in the transient class. The
// underlying error already carries its own classification; only the
// breaker's own sentinels need annotating.
func wrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("backend unavailable: %w", err)
	}
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
