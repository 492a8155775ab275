// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/relabs-tech/pose_streamer/internal/loop"
	"github.com/relabs-tech/pose_streamer/internal/stats"
	"github.com/relabs-tech/pose_streamer/internal/status"
	"github.com/relabs-tech/pose_streamer/internal/store"
	"github.com/relabs-tech/pose_streamer/internal/stream"
)

// maxChartPoints caps the latency chart; longer runs are decimated.
const maxChartPoints = 2000

// webState is everything the web viewer reads. Store may be nil.
type webState struct {
	RunID     string
	Hub       *stream.Hub
	Driver    *loop.Driver
	Publisher *stream.Publisher
	Board     *status.Board
	Store     *store.Store
}

type statsResponse struct {
	RunID     string                `json:"run_id,omitempty"`
	Progress  loop.Progress         `json:"progress"`
	Publisher stream.PublisherStats `json:"publisher"`
	Viewers   int                   `json:"viewers"`
}

func newWebMux(s webState) *http.ServeMux {
	mux := http.NewServeMux()

	// Live animation frames for local viewers
	mux.Handle("/ws", s.Hub)

	// JSON API endpoint: loop progress and timing
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statsResponse{
			RunID:     s.RunID,
			Progress:  s.Driver.Progress(),
			Publisher: s.Publisher.Stats(),
			Viewers:   s.Hub.Clients(),
		})
	})

	// JSON API endpoint: run history
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if s.Store == nil {
			http.Error(w, "run history disabled", http.StatusNotFound)
			return
		}
		if id := r.URL.Query().Get("failures"); id != "" {
			failures, err := s.Store.Failures(r.Context(), id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, failures)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := s.Store.ListRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, runs)
	})

	// Inference latency chart
	mux.HandleFunc("/stats/latency", func(w http.ResponseWriter, r *http.Request) {
		page, err := latencyChart(s.Driver.Timing())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})

	// Same series as a static image
	mux.HandleFunc("/stats/latency.png", func(w http.ResponseWriter, r *http.Request) {
		img, err := latencyPlot(s.Driver.Timing())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})

	// Status line as an image
	mux.HandleFunc("/status.png", func(w http.ResponseWriter, r *http.Request) {
		text, _ := s.Board.Text()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := status.RenderPNG(w, text); err != nil {
			log.Printf("web: status png: %v", err)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// latencyChart renders the per-step inference latency as an HTML line chart.
func latencyChart(t *stats.Timing) ([]byte, error) {
	durations := t.Durations()
	stride := 1
	if len(durations) > maxChartPoints {
		stride = (len(durations) + maxChartPoints - 1) / maxChartPoints
	}

	x := make([]int, 0, len(durations)/stride+1)
	y := make([]opts.LineData, 0, len(durations)/stride+1)
	for i := 0; i < len(durations); i += stride {
		x = append(x, i)
		y = append(y, opts.LineData{Value: durations[i]})
	}

	sum := t.Stats()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Inference latency", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Inference latency",
			Subtitle: fmt.Sprintf("steps=%d avg=%.2fms min=%.2fms max=%.2fms", sum.Count, sum.AvgMs, sum.MinMs, sum.MaxMs),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms", NameLocation: "middle", NameGap: 30}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("latency", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, fmt.Errorf("render latency chart: %w", err)
	}
	return buf.Bytes(), nil
}

// latencyPlot renders the latency series as a PNG.
func latencyPlot(t *stats.Timing) ([]byte, error) {
	durations := t.Durations()
	pts := make(plotter.XYs, len(durations))
	for i, d := range durations {
		pts[i] = plotter.XY{X: float64(i), Y: d}
	}

	p := plot.New()
	p.Title.Text = "Inference latency"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "ms"
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("latency line: %w", err)
		}
		line.Width = vg.Points(1)
		p.Add(line)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("latency plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render latency plot: %w", err)
	}
	return buf.Bytes(), nil
}
