// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package loop drives the streaming pose inference: one sample per tick,
// recurrent state carried between calls, one published frame per step.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/pose_streamer/internal/inference"
	"github.com/relabs-tech/pose_streamer/internal/sample"
	"github.com/relabs-tech/pose_streamer/internal/state"
	"github.com/relabs-tech/pose_streamer/internal/stats"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

// Logf is used for all loop logging. Tests may replace it.
var Logf = log.Printf

// EmptyOutputText is shown when the network returns no pose or no translation.
const EmptyOutputText = "Pose or Tran output is empty."

// ErrStopped is returned by Run when called on a driver that already stopped.
var ErrStopped = errors.New("loop stopped")

// Publisher hands a finished frame to the transport.
type Publisher interface {
	Publish(pose, tran []float32) (string, error)
}

// StatusSink receives the human readable status line. Set must not block.
type StatusSink interface {
	Set(text string)
}

// Options configures a Driver. Zero values fall back to the defaults noted.
type Options struct {
	Variant    inference.Variant // default Stateless
	Interval   time.Duration     // default 10ms
	StartDelay time.Duration     // default none
	Policy     Policy
	MaxRetries int // retry policy only

	Status StatusSink       // optional
	OnStep func(StepResult) // optional; called from the worker after every step
}

// Counters are the per-run step totals.
type Counters struct {
	OK        int    `json:"ok"`
	Empty     int    `json:"empty"`
	Failed    int    `json:"failed"`
	Retried   int    `json:"retried"`
	Coalesced uint64 `json:"coalesced"`
}

// Progress is a point-in-time view of a Driver.
type Progress struct {
	Phase    string        `json:"phase"`
	Cursor   int           `json:"cursor"`
	Length   int           `json:"length"`
	Counters Counters      `json:"counters"`
	Timing   stats.Summary `json:"timing"`
}

// Driver owns the cursor, the recurrent state and the scheduler. It is the
// only thing that touches the engine while running.
type Driver struct {
	source sample.Source
	engine inference.Engine
	state  *state.Container
	pub    Publisher
	timing *stats.Timing
	opts   Options

	// stepMu serializes Step; at most one step is ever in flight.
	stepMu sync.Mutex

	mu       sync.Mutex
	phase    Phase
	cursor   int
	attempts int
	counters Counters
	ran      bool
}

// New builds a driver. For the stateful variant the recurrent state is
// seeded here, before the first tick.
func New(src sample.Source, engine inference.Engine, pub Publisher, opts Options) (*Driver, error) {
	if src == nil || engine == nil || pub == nil {
		return nil, errors.New("loop: source, engine and publisher are required")
	}
	if opts.Variant == "" {
		opts.Variant = inference.Stateless
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	d := &Driver{
		source: src,
		engine: engine,
		pub:    pub,
		timing: stats.NewTiming(),
		opts:   opts,
	}
	if opts.Variant == inference.Stateful {
		st, err := state.New(engine)
		if err != nil {
			return nil, fmt.Errorf("seed recurrent state: %w", err)
		}
		d.state = st
	}
	return d, nil
}

// Timing returns the inference latency tracker.
func (d *Driver) Timing() *stats.Timing { return d.timing }

// State returns the recurrent state container, nil for the stateless variant.
func (d *Driver) State() *state.Container { return d.state }

// Phase returns the current state machine position.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Progress returns a snapshot of cursor, counters and timing.
func (d *Driver) Progress() Progress {
	d.mu.Lock()
	p := Progress{
		Phase:    d.phase.String(),
		Cursor:   d.cursor,
		Length:   d.source.Len(),
		Counters: d.counters,
	}
	d.mu.Unlock()
	p.Timing = d.timing.Stats()
	return p
}

// Run fires Step on a fixed cadence until the data is exhausted or ctx is
// cancelled. Ticks that arrive while a step is still running are coalesced:
// one is queued, the rest are counted and dropped. Run returns nil at end of
// data and ctx.Err() on cancellation.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.ran || d.phase == PhaseStopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.ran = true
	d.mu.Unlock()

	if d.opts.StartDelay > 0 {
		delay := time.NewTimer(d.opts.StartDelay)
		select {
		case <-ctx.Done():
			delay.Stop()
			d.stop()
			return ctx.Err()
		case <-delay.C:
		}
	}

	queue := make(chan struct{}, 1)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range queue {
			if ctx.Err() != nil {
				return
			}
			res := d.Step()
			if res.Kind == KindDone {
				close(done)
				return
			}
		}
	}()

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	tick := func() {
		select {
		case queue <- struct{}{}:
		default:
			d.mu.Lock()
			d.counters.Coalesced++
			d.mu.Unlock()
		}
	}

	// The first step fires as soon as the start delay has elapsed.
	tick()
	for {
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			d.stop()
			return ctx.Err()
		case <-done:
			close(queue)
			wg.Wait()
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

func (d *Driver) stop() {
	d.mu.Lock()
	d.phase = PhaseStopped
	d.mu.Unlock()
}

// Step executes one tick's work synchronously and applies the failure
// policy to the cursor. Once the cursor reaches the end of the data the
// driver is Stopped and every further call returns KindDone without side
// effects.
func (d *Driver) Step() StepResult {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	d.mu.Lock()
	if d.phase == PhaseStopped {
		idx := d.cursor
		d.mu.Unlock()
		return StepResult{Index: idx, Kind: KindDone}
	}
	idx := d.cursor
	if idx >= d.source.Len() {
		d.phase = PhaseStopped
		d.mu.Unlock()
		return StepResult{Index: idx, Kind: KindDone}
	}
	d.phase = PhaseStepping
	attempt := d.attempts + 1
	d.mu.Unlock()

	res := d.step(idx)
	res.Attempt = attempt

	d.mu.Lock()
	switch res.Kind {
	case KindOK:
		d.counters.OK++
		d.advanceLocked()
	case KindEmpty:
		d.counters.Empty++
		d.advanceLocked()
	case KindFailed:
		d.counters.Failed++
		if d.opts.Policy == PolicyRetry && d.attempts < d.opts.MaxRetries {
			d.attempts++
			d.counters.Retried++
			res.Retrying = true
		} else {
			d.advanceLocked()
		}
	}
	d.phase = PhaseIdle
	d.mu.Unlock()

	if res.Kind == KindFailed {
		Logf("loop: step %d (attempt %d) failed at %s: %v", res.Index, res.Attempt, res.Stage, res.Err)
	}
	if d.opts.OnStep != nil {
		d.opts.OnStep(res)
	}
	return res
}

func (d *Driver) advanceLocked() {
	d.cursor++
	d.attempts = 0
}

func (d *Driver) setStatus(text string) {
	if d.opts.Status != nil {
		d.opts.Status.Set(text)
	}
}

// step runs sample fetch, tensor construction, inference, state swap and
// publication for index idx. Every tensor it creates or receives is released
// or handed to the state container before it returns.
func (d *Driver) step(idx int) StepResult {
	s, err := d.source.At(idx)
	if err != nil {
		return failed(idx, StageSample, err)
	}

	inputs := make(map[string]inference.Tensor, 9)
	acc, err := d.engine.NewTensor(inference.Shape{1, int64(len(s.Acc))}, append([]float32(nil), s.Acc...))
	if err != nil {
		return failed(idx, StageTensor, fmt.Errorf("acc tensor: %w", err))
	}
	defer acc.Release()
	ori, err := d.engine.NewTensor(inference.Shape{1, int64(len(s.Ori))}, append([]float32(nil), s.Ori...))
	if err != nil {
		return failed(idx, StageTensor, fmt.Errorf("ori tensor: %w", err))
	}
	defer ori.Release()
	inputs[inference.InputAcc] = acc
	inputs[inference.InputOri] = ori

	if d.state != nil {
		if err := d.state.Bind(inputs); err != nil {
			return failed(idx, StageState, err)
		}
	}

	start := time.Now()
	outputs, err := d.engine.Run(inputs)
	latency := time.Since(start)
	if err != nil {
		res := failed(idx, StageEngine, err)
		res.Latency = latency
		return res
	}
	defer inference.ReleaseAll(outputs)
	d.timing.Add(latency)

	// Copy before the swap: for the stateful model the translation output
	// is also a state tensor and changes owner.
	pose := tensorData(outputs[inference.OutputPose])
	tran := tensorData(outputs[d.opts.Variant.TranslationOutput()])

	var swapErr error
	if d.state != nil {
		swapErr = d.state.Swap(outputs)
	}

	if pose == nil || tran == nil {
		if swapErr != nil {
			Logf("loop: step %d: %v", idx, swapErr)
		}
		d.setStatus(EmptyOutputText)
		return StepResult{Index: idx, Kind: KindEmpty, Latency: latency}
	}
	if swapErr != nil {
		res := failed(idx, StageState, swapErr)
		res.Latency = latency
		return res
	}

	d.mu.Lock()
	d.phase = PhasePublishing
	d.mu.Unlock()

	res := StepResult{Index: idx, Kind: KindOK, Latency: latency}
	payload, err := d.pub.Publish(pose, tran)
	res.Payload = payload
	if err != nil {
		res.Err = err
		if !errors.Is(err, stream.ErrNotConnected) {
			Logf("loop: step %d: publish: %v", idx, err)
		}
	}
	d.setStatus(StatusText(pose, tran))
	return res
}

func tensorData(t inference.Tensor) []float32 {
	if t == nil {
		return nil
	}
	return append([]float32(nil), t.Data()...)
}

// StatusText is the status line shown after a successful step.
func StatusText(pose, tran []float32) string {
	return "Pose: " + joinFloats(pose) + "\n\nTran: " + joinFloats(tran)
}

func joinFloats(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = stream.FormatFloat(f)
	}
	return strings.Join(parts, ", ")
}

// Close releases the recurrent state. The engine belongs to the caller.
func (d *Driver) Close() error {
	d.stop()
	if d.state == nil {
		return nil
	}
	return d.state.Close()
}
