// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package status carries the human-readable status line of the streamer to
// whatever displays it.
package status

import (
	"context"
	"sync"
	"time"
)

// Board holds the latest status text. Set never waits for a display:
// displays run in their own goroutine and only ever see the newest text.
type Board struct {
	mu      sync.RWMutex
	text    string
	updated time.Time
	updates uint64

	notify chan struct{}
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{notify: make(chan struct{}, 1)}
}

// Set replaces the status text.
func (b *Board) Set(text string) {
	b.mu.Lock()
	b.text = text
	b.updated = time.Now()
	b.updates++
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Text returns the current text and when it was set.
func (b *Board) Text() (string, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text, b.updated
}

// Updates counts calls to Set.
func (b *Board) Updates() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}

// Run calls show with the newest text after each change until ctx ends.
// Intermediate texts set while show is running are skipped.
func (b *Board) Run(ctx context.Context, show func(text string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
			text, _ := b.Text()
			show(text)
		}
	}
}
