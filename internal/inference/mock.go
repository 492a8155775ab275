// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package inference

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned when a released tensor is released again.
var ErrReleased = errors.New("tensor already released")

// PoseWidth is the pose vector length the mock engine produces
// (24 joints, 3 parameters each).
const PoseWidth = 72

// MockEngine is an in-process Engine that needs no native runtime. It keeps
// a count of live tensors so callers can check that nothing leaks.
//
// By default it produces a deterministic pose from the orientation input and
// integrates the first three accelerometer features into the translation.
// Func replaces that behaviour.
type MockEngine struct {
	Variant Variant
	Func    func(inputs map[string]Tensor) (map[string][]float32, error)

	live  atomic.Int64
	calls atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewMockEngine returns a mock for the given variant.
func NewMockEngine(v Variant) *MockEngine {
	return &MockEngine{Variant: v}
}

type mockTensor struct {
	shape    Shape
	data     []float32
	owner    *MockEngine
	released atomic.Bool
}

func (t *mockTensor) Shape() Shape    { return t.shape }
func (t *mockTensor) Data() []float32 { return t.data }

func (t *mockTensor) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	t.owner.live.Add(-1)
	return nil
}

// NewTensor implements Allocator.
func (m *MockEngine) NewTensor(shape Shape, data []float32) (Tensor, error) {
	if shape.Size() != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, shape.Size(), len(data))
	}
	m.live.Add(1)
	return &mockTensor{shape: append(Shape(nil), shape...), data: data, owner: m}, nil
}

// Live reports how many tensors created by this engine are not yet released.
func (m *MockEngine) Live() int64 { return m.live.Load() }

// Calls reports how many times Run was invoked.
func (m *MockEngine) Calls() int64 { return m.calls.Load() }

// Run implements Engine.
func (m *MockEngine) Run(inputs map[string]Tensor) (map[string]Tensor, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.New("mock engine closed")
	}
	m.calls.Add(1)

	for _, name := range m.Variant.InputNames() {
		if _, ok := inputs[name]; !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
	}

	fn := m.Func
	if fn == nil {
		fn = m.Synthesize
	}
	raw, err := fn(inputs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Tensor, len(raw))
	for name, data := range raw {
		if data == nil {
			continue
		}
		shape := Shape{int64(len(data))}
		if in, ok := inputs[outputToInput(name)]; ok && in.Shape().Size() == len(data) {
			shape = in.Shape()
		}
		t, err := m.NewTensor(shape, data)
		if err != nil {
			_ = ReleaseAll(out)
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// Close implements Engine.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Synthesize is the default output function. Custom Funcs may delegate to it.
func (m *MockEngine) Synthesize(inputs map[string]Tensor) (map[string][]float32, error) {
	ori := inputs[InputOri].Data()
	acc := inputs[InputAcc].Data()

	pose := make([]float32, PoseWidth)
	for i := range pose {
		if len(ori) > 0 {
			pose[i] = ori[i%len(ori)]
		}
	}

	tran := make([]float32, 3)
	if t, ok := inputs[InputTran]; ok {
		copy(tran, t.Data())
	}
	for i := 0; i < 3 && i < len(acc); i++ {
		tran[i] += acc[i] * 0.01
	}

	if m.Variant != Stateful {
		return map[string][]float32{OutputPose: pose, OutputTran: tran}, nil
	}

	out := map[string][]float32{OutputPose: pose, OutputTranOut: tran}
	for _, in := range []string{InputPastFrames, InputHState, InputCState, InputRootY, InputLFootPos, InputRFootPos} {
		out[inputToOutput(in)] = append([]float32(nil), inputs[in].Data()...)
	}
	// Shift the frame history and append the newest pose.
	if frames := out[OutputPastFrames]; len(frames) >= PoseWidth {
		copy(frames, frames[PoseWidth:])
		copy(frames[len(frames)-PoseWidth:], pose)
	}
	return out, nil
}

var stateOutputs = map[string]string{
	OutputTranOut:    InputTran,
	OutputPastFrames: InputPastFrames,
	OutputHState:     InputHState,
	OutputCState:     InputCState,
	OutputRootY:      InputRootY,
	OutputLFootPos:   InputLFootPos,
	OutputRFootPos:   InputRFootPos,
}

func outputToInput(out string) string { return stateOutputs[out] }

func inputToOutput(in string) string {
	for out, i := range stateOutputs {
		if i == in {
			return out
		}
	}
	return ""
}
