// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package state holds the recurrent tensors threaded between calls of the
// stateful pose network.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relabs-tech/pose_streamer/internal/inference"
)

// Shapes of the carried tensors.
const (
	PastFrameWindow = 26
	FrameWidth      = 72
	LSTMLayers      = 2
	HiddenSize      = 256
)

// Seed foot positions (metres, root-relative) used before the first call.
var (
	LeftFootSeed  = []float32{0.1283, -0.9559, 0.0750}
	RightFootSeed = []float32{-0.1194, -0.9564, 0.0774}
)

// Slots is the number of tensors carried between calls.
const Slots = 7

// ErrIncompleteState is returned by Swap when the offered outputs do not
// cover every slot with the expected size.
var ErrIncompleteState = errors.New("incomplete recurrent state")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("state container closed")

type slot struct {
	in    string
	out   string
	shape inference.Shape
	seed  []float32 // nil means all zeros
}

var slots = [Slots]slot{
	{inference.InputTran, inference.OutputTranOut, inference.Shape{3}, nil},
	{inference.InputPastFrames, inference.OutputPastFrames, inference.Shape{PastFrameWindow, FrameWidth}, nil},
	{inference.InputHState, inference.OutputHState, inference.Shape{LSTMLayers, HiddenSize}, nil},
	{inference.InputCState, inference.OutputCState, inference.Shape{LSTMLayers, HiddenSize}, nil},
	{inference.InputRootY, inference.OutputRootY, inference.Shape{1}, nil},
	{inference.InputLFootPos, inference.OutputLFootPos, inference.Shape{3}, LeftFootSeed},
	{inference.InputRFootPos, inference.OutputRFootPos, inference.Shape{3}, RightFootSeed},
}

// Container owns the seven state tensors. All seven are always from the
// same generation: either the seeds or the outputs of a single call.
type Container struct {
	mu         sync.Mutex
	tensors    [Slots]inference.Tensor
	generation uint64
	closed     bool
}

// New allocates the seed tensors.
func New(alloc inference.Allocator) (*Container, error) {
	c := &Container{}
	for i, s := range slots {
		data := make([]float32, s.shape.Size())
		copy(data, s.seed)
		t, err := alloc.NewTensor(s.shape, data)
		if err != nil {
			c.releaseLocked()
			return nil, fmt.Errorf("seed %s: %w", s.in, err)
		}
		c.tensors[i] = t
	}
	return c, nil
}

// Bind adds the current state tensors to inputs under their input names.
// The container keeps ownership; the tensors stay valid until the next Swap.
func (c *Container) Bind(inputs map[string]inference.Tensor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for i, s := range slots {
		inputs[s.in] = c.tensors[i]
	}
	return nil
}

// Swap replaces all seven tensors with the matching entries of outputs and
// releases the superseded ones. The state entries are removed from outputs
// whether or not the swap succeeds: on success the container owns them, on
// failure they are released and the previous state is kept untouched.
func (c *Container) Swap(outputs map[string]inference.Tensor) error {
	var next [Slots]inference.Tensor
	var missing []string
	for i, s := range slots {
		t, ok := outputs[s.out]
		delete(outputs, s.out)
		if !ok || t == nil {
			missing = append(missing, s.out)
			continue
		}
		if got := len(t.Data()); got != s.shape.Size() {
			missing = append(missing, fmt.Sprintf("%s(size %d)", s.out, got))
		}
		next[i] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(missing) > 0 {
		var errs []error
		for _, t := range next {
			if t != nil {
				errs = append(errs, t.Release())
			}
		}
		if c.closed {
			return errors.Join(append([]error{ErrClosed}, errs...)...)
		}
		return errors.Join(append([]error{fmt.Errorf("%w: %v", ErrIncompleteState, missing)}, errs...)...)
	}

	old := c.tensors
	c.tensors = next
	c.generation++

	var errs []error
	for i, t := range old {
		if err := t.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", slots[i].in, err))
		}
	}
	return errors.Join(errs...)
}

// Handles is the number of live tensors held.
func (c *Container) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tensors {
		if t != nil {
			n++
		}
	}
	return n
}

// Generation counts successful swaps.
func (c *Container) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Snapshot copies the current values keyed by input name.
func (c *Container) Snapshot() map[string][]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float32, Slots)
	for i, s := range slots {
		if t := c.tensors[i]; t != nil {
			out[s.in] = append([]float32(nil), t.Data()...)
		}
	}
	return out
}

// Close releases every held tensor.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.releaseLocked()
}

func (c *Container) releaseLocked() error {
	var errs []error
	for i, t := range c.tensors {
		if t != nil {
			errs = append(errs, t.Release())
			c.tensors[i] = nil
		}
	}
	return errors.Join(errs...)
}
