// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/pose_streamer/internal/config"
	"github.com/relabs-tech/pose_streamer/internal/inference"
	"github.com/relabs-tech/pose_streamer/internal/inference/onnx"
	"github.com/relabs-tech/pose_streamer/internal/loop"
	"github.com/relabs-tech/pose_streamer/internal/sample"
	"github.com/relabs-tech/pose_streamer/internal/status"
	"github.com/relabs-tech/pose_streamer/internal/store"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

// Stop reasons stored with a finished run.
const (
	StopEndOfData = "end_of_data"
	StopCancelled = "cancelled"
)

// RunStreamer replays the configured recordings through the pose network
// and streams every result until the data runs out or the process is
// interrupted. With the web viewer enabled it keeps serving after the data
// runs out, until interrupted.
func RunStreamer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	return runStreamer(ctx, cfg)
}

func runStreamer(ctx context.Context, cfg *config.Config) error {
	variant, err := inference.ParseVariant(cfg.ModelVariant)
	if err != nil {
		return err
	}
	policy, err := loop.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return err
	}

	// --- load recordings ---
	seq, err := sample.Load(cfg.AssetDir, cfg.DataDir, cfg.AccFile, cfg.OriFile)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}

	// --- inference engine ---
	engine, err := openEngine(cfg, variant)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("streamer: engine close: %v", err)
		}
		if cfg.Engine == config.EngineONNX {
			if err := onnx.DestroyEnvironment(); err != nil {
				log.Printf("streamer: onnxruntime teardown: %v", err)
			}
		}
	}()

	// --- emitters ---
	sio, err := stream.DialSocketIO(cfg.SocketIOURL)
	if err != nil {
		return fmt.Errorf("socket.io: %w", err)
	}
	log.Printf("streamer: emitting %q to %s", cfg.SocketIOEvent, cfg.SocketIOURL)

	hub := stream.NewHub(64)
	frames := stream.Multi{sio, hub}
	statusOut := stream.Multi{hub}
	if cfg.MQTTBroker != "" {
		mq := stream.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientIDStreamer, map[string]string{
			cfg.SocketIOEvent:  cfg.TopicAnimation,
			stream.EventStatus: cfg.TopicStatus,
		})
		frames = append(frames, mq)
		statusOut = append(statusOut, mq)
		log.Printf("streamer: mirroring frames to MQTT %s (%s)", cfg.MQTTBroker, cfg.TopicAnimation)
	}
	pub := stream.NewPublisher(frames, cfg.SocketIOEvent)
	defer pub.Close()

	// --- status line ---
	board := status.NewBoard()
	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	go board.Run(statusCtx, func(text string) {
		_ = statusOut.Emit(stream.EventStatus, text)
	})

	// --- run history ---
	var (
		runs  *store.Store
		runID string
	)
	if cfg.RunDBPath != "" {
		runs, err = store.Open(cfg.RunDBPath)
		if err != nil {
			return fmt.Errorf("run store: %w", err)
		}
		defer runs.Close()
		runID, err = runs.StartRun(ctx, string(variant), cfg.ModelFile, seq.Len())
		if err != nil {
			return err
		}
		log.Printf("streamer: run %s", runID)
	}

	driver, err := loop.New(seq, engine, pub, loop.Options{
		Variant:    variant,
		Interval:   time.Duration(cfg.StepInterval) * time.Millisecond,
		StartDelay: time.Duration(cfg.StartDelay) * time.Millisecond,
		Policy:     policy,
		MaxRetries: cfg.MaxStepRetries,
		Status:     board,
		OnStep: func(res loop.StepResult) {
			if runs == nil || res.Kind != loop.KindFailed {
				return
			}
			f := store.Failure{
				RunID:       runID,
				SampleIndex: res.Index,
				Attempt:     res.Attempt,
				Stage:       res.Stage,
				Message:     res.Err.Error(),
			}
			if err := runs.RecordFailure(context.Background(), f); err != nil {
				log.Printf("streamer: record failure: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer driver.Close()

	// --- web viewer ---
	var srv *http.Server
	if cfg.WebServerPort > 0 {
		srv = &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.WebServerPort),
			Handler: newWebMux(webState{
				RunID:     runID,
				Hub:       hub,
				Driver:    driver,
				Publisher: pub,
				Board:     board,
				Store:     runs,
			}),
		}
		go func() {
			log.Printf("web server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("web: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Printf("streamer: %d samples, %s variant, step every %dms after %dms, failure policy %s",
		seq.Len(), variant, cfg.StepInterval, cfg.StartDelay, policy)

	runErr := driver.Run(ctx)
	reason := StopEndOfData
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		reason = StopCancelled
	}

	summary := summarize(driver, pub, reason)
	logSummary(summary)
	if runs != nil {
		if err := runs.FinishRun(context.Background(), runID, summary); err != nil {
			log.Printf("streamer: finish run: %v", err)
		}
	}

	if reason == StopEndOfData && srv != nil {
		log.Println("streamer: data exhausted, web viewer stays up until interrupted")
		<-ctx.Done()
	}
	log.Println("streamer: shutting down")
	return nil
}

// openEngine picks the runtime named by ENGINE.
func openEngine(cfg *config.Config, variant inference.Variant) (inference.Engine, error) {
	if cfg.Engine == config.EngineMock {
		log.Println("streamer: using mock inference engine")
		return inference.NewMockEngine(variant), nil
	}

	if err := onnx.InitEnvironment(cfg.ONNXLibraryPath); err != nil {
		return nil, err
	}
	modelPath, err := sample.Materialize(cfg.AssetDir, cfg.DataDir, cfg.ModelFile)
	if err != nil {
		_ = onnx.DestroyEnvironment()
		return nil, fmt.Errorf("model: %w", err)
	}
	engine, err := onnx.NewEngine(modelPath, variant)
	if err != nil {
		_ = onnx.DestroyEnvironment()
		return nil, err
	}
	log.Printf("streamer: loaded model %s", modelPath)
	return engine, nil
}

func summarize(d *loop.Driver, pub *stream.Publisher, reason string) store.Summary {
	p := d.Progress()
	ps := pub.Stats()
	return store.Summary{
		StepsOK:        p.Counters.OK,
		StepsEmpty:     p.Counters.Empty,
		StepsFailed:    p.Counters.Failed,
		Emits:          ps.Sent,
		Dropped:        ps.Dropped,
		TicksCoalesced: p.Counters.Coalesced,
		AvgMs:          p.Timing.AvgMs,
		MinMs:          p.Timing.MinMs,
		MaxMs:          p.Timing.MaxMs,
		StopReason:     reason,
	}
}

func logSummary(s store.Summary) {
	log.Printf("streamer: stopped (%s): ok=%d empty=%d failed=%d emitted=%d dropped=%d coalesced=%d",
		s.StopReason, s.StepsOK, s.StepsEmpty, s.StepsFailed, s.Emits, s.Dropped, s.TicksCoalesced)
	log.Printf("streamer: average inference time: %.3f ms", s.AvgMs)
	log.Printf("streamer: minimum inference time: %.3f ms", s.MinMs)
	log.Printf("streamer: maximum inference time: %.3f ms", s.MaxMs)
}
