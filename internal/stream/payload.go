// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload delimiters: pose values, '#', translation values, '$'.
const (
	fieldSep   = ","
	partSep    = "#"
	terminator = "$"
)

// FormatPayload encodes one result as "p0,p1,...#t0,t1,t2$".
func FormatPayload(pose, tran []float32) string {
	var b strings.Builder
	b.Grow((len(pose) + len(tran)) * 10)
	writeFloats(&b, pose)
	b.WriteString(partSep)
	writeFloats(&b, tran)
	b.WriteString(terminator)
	return b.String()
}

func writeFloats(b *strings.Builder, vals []float32) {
	for i, v := range vals {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		b.WriteString(FormatFloat(v))
	}
}

// FormatFloat renders the shortest float32 representation and always keeps
// a fractional part, so 1 becomes "1.0".
func FormatFloat(v float32) string {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParsePayload decodes a payload produced by FormatPayload.
func ParsePayload(s string) (pose, tran []float32, err error) {
	body, ok := strings.CutSuffix(s, terminator)
	if !ok {
		return nil, nil, fmt.Errorf("payload missing %q terminator", terminator)
	}
	posePart, tranPart, ok := strings.Cut(body, partSep)
	if !ok {
		return nil, nil, fmt.Errorf("payload missing %q separator", partSep)
	}
	if pose, err = parseFloats(posePart); err != nil {
		return nil, nil, fmt.Errorf("pose: %w", err)
	}
	if tran, err = parseFloats(tranPart); err != nil {
		return nil, nil, fmt.Errorf("tran: %w", err)
	}
	return pose, tran, nil
}

func parseFloats(s string) ([]float32, error) {
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, fieldSep)
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
