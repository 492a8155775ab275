// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package inference defines the boundary to the pose network: named float32
// tensors in, named float32 tensors out. The runtime behind it is opaque.
package inference

import (
	"errors"
	"fmt"
)

// Tensor names used by the pose networks.
const (
	InputAcc = "acc"
	InputOri = "ori"

	OutputPose = "pose"
	OutputTran = "tran" // stateless variant only

	InputTran       = "tran_in"
	InputPastFrames = "past_frames_in"
	InputHState     = "h_state_in"
	InputCState     = "c_state_in"
	InputRootY      = "root_y_in"
	InputLFootPos   = "lfoot_pos_in"
	InputRFootPos   = "rfoot_pos_in"

	OutputTranOut    = "tran_out"
	OutputPastFrames = "past_frames_out"
	OutputHState     = "h_state_out"
	OutputCState     = "c_state_out"
	OutputRootY      = "root_y_out"
	OutputLFootPos   = "lfoot_pos_out"
	OutputRFootPos   = "rfoot_pos_out"
)

// Variant selects which tensor set a model binds.
type Variant string

const (
	Stateless Variant = "stateless"
	Stateful  Variant = "stateful"
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case Stateless, Stateful:
		return Variant(s), nil
	}
	return "", fmt.Errorf("unknown model variant %q", s)
}

// InputNames lists the inputs the variant feeds, in session order.
func (v Variant) InputNames() []string {
	if v == Stateful {
		return []string{
			InputAcc, InputOri, InputTran, InputPastFrames, InputHState,
			InputCState, InputRootY, InputLFootPos, InputRFootPos,
		}
	}
	return []string{InputAcc, InputOri}
}

// OutputNames lists the outputs the variant reads, in session order.
func (v Variant) OutputNames() []string {
	if v == Stateful {
		return []string{
			OutputPose, OutputTranOut, OutputPastFrames, OutputHState,
			OutputCState, OutputRootY, OutputLFootPos, OutputRFootPos,
		}
	}
	return []string{OutputPose, OutputTran}
}

// TranslationOutput is the name of the translation tensor for the variant.
func (v Variant) TranslationOutput() string {
	if v == Stateful {
		return OutputTranOut
	}
	return OutputTran
}

// Shape is a tensor shape.
type Shape []int64

// Size is the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= int(d)
	}
	return n
}

// Tensor is a handle to a float32 buffer that may live in native memory.
// Release must be called exactly once when the handle is no longer needed.
type Tensor interface {
	Shape() Shape
	Data() []float32
	Release() error
}

// Allocator creates tensors owned by the caller.
type Allocator interface {
	NewTensor(shape Shape, data []float32) (Tensor, error)
}

// Engine runs the network. Run returns only the outputs that were produced;
// the caller owns every returned tensor. Inputs stay owned by the caller.
type Engine interface {
	Allocator
	Run(inputs map[string]Tensor) (map[string]Tensor, error)
	Close() error
}

// ReleaseAll releases every tensor in the map and empties it.
func ReleaseAll(tensors map[string]Tensor) error {
	var errs []error
	for name, t := range tensors {
		if t != nil {
			if err := t.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", name, err))
			}
		}
		delete(tensors, name)
	}
	return errors.Join(errs...)
}
