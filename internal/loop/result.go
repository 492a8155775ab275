// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package loop

import (
	"fmt"
	"time"
)

// Kind classifies the outcome of one step.
type Kind int

const (
	// KindOK: inference ran and the result was handed to the publisher.
	KindOK Kind = iota
	// KindEmpty: inference ran but pose or translation was missing.
	KindEmpty
	// KindFailed: the step was abandoned; see Stage and Err.
	KindFailed
	// KindDone: the cursor reached the end of the data; nothing ran.
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindEmpty:
		return "empty"
	case KindFailed:
		return "failed"
	case KindDone:
		return "done"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Stages a step can fail in.
const (
	StageSample  = "sample"
	StageTensor  = "tensor"
	StageEngine  = "engine"
	StageState   = "state"
	StagePublish = "publish"
)

// StepResult is what one step produced. The driver decides what to do next
// from it; nothing is signalled by panics.
type StepResult struct {
	Index    int           // sample index the step worked on
	Attempt  int           // 1 for the first try of this index
	Kind     Kind          // outcome; Done means nothing ran
	Stage    string        // failing stage when Kind is KindFailed
	Err      error         // failure cause, or a publish error on KindOK
	Payload  string        // emitted payload on KindOK
	Latency  time.Duration // engine call duration when the engine ran
	Retrying bool          // the same index will be attempted again
}

func failed(idx int, stage string, err error) StepResult {
	return StepResult{Index: idx, Kind: KindFailed, Stage: stage, Err: err}
}

// Policy decides what happens to the cursor after a failed step.
type Policy int

const (
	// PolicySkip advances past a failed sample.
	PolicySkip Policy = iota
	// PolicyRetry attempts the same sample again on the next tick, up to
	// MaxRetries times, then advances.
	PolicyRetry
)

// ParsePolicy maps "skip" and "retry" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "skip", "":
		return PolicySkip, nil
	case "retry":
		return PolicyRetry, nil
	}
	return 0, fmt.Errorf("unknown failure policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyRetry {
		return "retry"
	}
	return "skip"
}

// Phase is the driver state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStepping
	PhasePublishing
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStepping:
		return "stepping"
	case PhasePublishing:
		return "publishing"
	case PhaseStopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}
