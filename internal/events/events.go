// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package events is the in-process notification hub for sync outcomes.
// Callers subscribe to topics instead of polling; payloads are typed and
// JSON-encoded. The hub is owned by whoever constructs the engine, not by
// process-wide static state, so tests can run isolated hubs.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topics published by the engine.
const (
	TopicSampleEnqueued     = "waylog.sample.enqueued"
	TopicSampleSkipped      = "waylog.sample.skipped"
	TopicSampleSynced       = "waylog.sample.synced"
	TopicSampleRejected     = "waylog.sample.rejected"
	TopicMutationConfirmed  = "waylog.mutation.confirmed"
	TopicMutationRolledBack = "waylog.mutation.rolledback"
)

// SampleEvent is the payload for all waylog.sample.* topics.
type SampleEvent struct {
	LocalID     int64     `json:"local_id,omitempty"`
	ServerID    *int64    `json:"server_id,omitempty"`
	UserInvoked bool      `json:"user_invoked,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	Reason      string    `json:"reason,omitempty"`
}

// MutationEvent is the payload for all waylog.mutation.* topics.
type MutationEvent struct {
	LocalID        int64  `json:"local_id"`
	TargetServerID int64  `json:"target_server_id"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason,omitempty"`
}

// Hub is a gochannel-backed pub/sub for engine notifications.
type Hub struct {
	ps *gochannel.GoChannel
}

// NewHub creates an event hub. Subscribers that join after a publish do not
// see earlier messages; this is a live notification path, not a journal.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		ps: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newLoggerAdapter(log)),
	}
}

// Publish JSON-encodes the payload and delivers it to all current
// subscribers of the topic.
func (h *Hub) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return h.ps.Publish(topic, message.NewMessage(uuid.NewString(), data))
}

// Subscribe returns a channel of raw messages for the topic. The channel
// closes when ctx is cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.ps.Subscribe(ctx, topic)
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() error {
	return h.ps.Close()
}

// loggerAdapter bridges watermill's logging interface onto zerolog.
type loggerAdapter struct {
	log zerolog.Logger
}

func newLoggerAdapter(log zerolog.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: log}
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.log.Error().Err(err), msg, fields)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.log.Info(), msg, fields)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.log.Debug(), msg, fields)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.log.Trace(), msg, fields)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &loggerAdapter{log: ctx.Logger()}
}

func (a *loggerAdapter) event(e *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}
