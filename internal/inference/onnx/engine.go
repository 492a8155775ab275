// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package onnx runs the pose network on onnxruntime.
package onnx

import (
	"errors"
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/relabs-tech/pose_streamer/internal/inference"
)

var envMu sync.Mutex

// InitEnvironment loads the onnxruntime shared library and creates the
// process-wide environment. It is a no-op while an environment exists.
func InitEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnxruntime init: %w", err)
	}
	log.Println("onnx: runtime environment initialized")
	return nil
}

// DestroyEnvironment tears down the process-wide environment. Every
// session must be closed first.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Engine is an inference.Engine backed by an onnxruntime session.
type Engine struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// NewEngine opens modelPath and binds the tensor names of the variant.
// InitEnvironment must have succeeded first.
func NewEngine(modelPath string, variant inference.Variant) (*Engine, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("onnxruntime environment not initialized")
	}

	inputs := variant.InputNames()
	outputs := variant.OutputNames()
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}
	log.Printf("onnx: session created for %s (%s, %d inputs, %d outputs)", modelPath, variant, len(inputs), len(outputs))

	return &Engine{
		session:     session,
		inputNames:  inputs,
		outputNames: outputs,
	}, nil
}

type tensor struct {
	t *ort.Tensor[float32]
}

func (t *tensor) Shape() inference.Shape {
	return inference.Shape(t.t.GetShape().Clone())
}

func (t *tensor) Data() []float32 { return t.t.GetData() }

func (t *tensor) Release() error { return t.t.Destroy() }

// NewTensor implements inference.Allocator. The tensor uses data as its
// backing buffer; the caller must not modify it afterwards.
func (e *Engine) NewTensor(shape inference.Shape, data []float32) (inference.Tensor, error) {
	t, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("new tensor %v: %w", shape, err)
	}
	return &tensor{t: t}, nil
}

// Run implements inference.Engine. Outputs are allocated by onnxruntime;
// outputs it does not produce are absent from the result.
func (e *Engine) Run(inputs map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("session closed")
	}

	ins := make([]ort.Value, len(e.inputNames))
	var temps []ort.Value
	defer func() {
		for _, v := range temps {
			v.Destroy()
		}
	}()
	for i, name := range e.inputNames {
		in, ok := inputs[name]
		if !ok || in == nil {
			return nil, fmt.Errorf("missing input %q", name)
		}
		if ot, ok := in.(*tensor); ok {
			ins[i] = ot.t
			continue
		}
		// Tensor from another allocator: stage it through a temporary.
		t, err := ort.NewTensor(ort.NewShape(in.Shape()...), in.Data())
		if err != nil {
			return nil, fmt.Errorf("stage input %q: %w", name, err)
		}
		temps = append(temps, t)
		ins[i] = t
	}

	outs := make([]ort.Value, len(e.outputNames))
	if err := e.session.Run(ins, outs); err != nil {
		destroyAll(outs)
		return nil, fmt.Errorf("session run: %w", err)
	}

	result := make(map[string]inference.Tensor, len(outs))
	for i, v := range outs {
		if v == nil {
			continue
		}
		ft, ok := v.(*ort.Tensor[float32])
		if !ok {
			log.Printf("onnx: output %q is not a float32 tensor, dropping", e.outputNames[i])
			v.Destroy()
			continue
		}
		result[e.outputNames[i]] = &tensor{t: ft}
	}
	return result, nil
}

// Close destroys the session.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func destroyAll(vals []ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Destroy()
		}
	}
}

var _ inference.Engine = (*Engine)(nil)
