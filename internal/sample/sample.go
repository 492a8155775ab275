// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when the accelerometer and orientation
// recordings do not have the same number of rows.
var ErrLengthMismatch = errors.New("acc and ori sequences differ in length")

// Sample is one lockstep pair of recorded vectors.
type Sample struct {
	Index int       `json:"index"`
	Acc   []float32 `json:"acc"` // accelerometer features
	Ori   []float32 `json:"ori"` // orientation features
}

// Source is anything that can hand out samples by index.
type Source interface {
	Len() int
	At(i int) (Sample, error)
}

// Sequence holds the two recordings paired by index.
type Sequence struct {
	acc [][]float32
	ori [][]float32
}

// NewSequence pairs two recordings. Both must have the same length.
func NewSequence(acc, ori [][]float32) (*Sequence, error) {
	if len(acc) != len(ori) {
		return nil, fmt.Errorf("%w: acc=%d ori=%d", ErrLengthMismatch, len(acc), len(ori))
	}
	return &Sequence{acc: acc, ori: ori}, nil
}

// Len returns the number of paired rows.
func (s *Sequence) Len() int {
	return len(s.acc)
}

// At returns the pair at index i.
func (s *Sequence) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.acc) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(s.acc))
	}
	return Sample{Index: i, Acc: s.acc[i], Ori: s.ori[i]}, nil
}
