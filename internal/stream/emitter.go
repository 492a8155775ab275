// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
)

// Event names.
const (
	EventAnimation = "animation_data" // one formatted pose result
	EventStatus    = "status"         // the current status line
)

// ErrNotConnected is returned by emitters that currently have no peer.
// The message is dropped.
var ErrNotConnected = errors.New("not connected")

// Emitter delivers text events to a remote subscriber. Delivery is
// best-effort: no acknowledgement, no retry.
type Emitter interface {
	Emit(event, payload string) error
	Close() error
}

// Multi fans an event out to several emitters.
type Multi []Emitter

// Emit sends to every emitter and joins their errors.
func (m Multi) Emit(event, payload string) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every emitter.
func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

// PublisherStats counts what a Publisher has handed off.
type PublisherStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Publisher formats inference results and emits them under one event name.
type Publisher struct {
	emitter Emitter
	event   string

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewPublisher wraps an emitter. An empty event name uses EventAnimation.
func NewPublisher(e Emitter, event string) *Publisher {
	if event == "" {
		event = EventAnimation
	}
	return &Publisher{emitter: e, event: event}
}

// Publish emits one result and returns the payload that was handed off.
// Emit failures are logged and counted, never retried.
func (p *Publisher) Publish(pose, tran []float32) (string, error) {
	payload := FormatPayload(pose, tran)
	if err := p.emitter.Emit(p.event, payload); err != nil {
		p.dropped.Add(1)
		return payload, fmt.Errorf("emit %s: %w", p.event, err)
	}
	p.sent.Add(1)
	return payload, nil
}

// Stats returns the send counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{Sent: p.sent.Load(), Dropped: p.dropped.Load()}
}

// Close closes the underlying emitter.
func (p *Publisher) Close() error {
	return p.emitter.Close()
}

// LogEmitter writes events to the standard logger. It stands in when no
// transport is configured.
type LogEmitter struct{}

func (LogEmitter) Emit(event, payload string) error {
	log.Printf("stream: %s %s", event, payload)
	return nil
}

func (LogEmitter) Close() error { return nil }
