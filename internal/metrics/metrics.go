package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksGenerated counts blocks produced by the generator.
	BlocksGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livewave_blocks_generated_total",
		Help: "Number of audio blocks produced by the generator",
	})

	// GenerationDuration tracks how long one block takes to render.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livewave_generation_duration_seconds",
		Help:    "Time spent evaluating the formula for one block",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	})

	// SampleFaults counts samples replaced by silence after an evaluation error.
	SampleFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livewave_sample_faults_total",
		Help: "Samples silenced because the formula failed or returned a non-finite value",
	})

	// Underruns counts device callbacks served with silence.
	Underruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livewave_underruns_total",
		Help: "Playback cycles that found the generation queue empty",
	})

	// Formulas counts compile outcomes by result.
	Formulas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livewave_formulas_total",
		Help: "Formula compile attempts by outcome",
	}, []string{"result"})

	// QueueDepth is the number of ready blocks waiting for playback.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livewave_queue_depth",
		Help: "Ready blocks waiting in the generation queue",
	})

	// DroppedBlocks counts blocks discarded before playback, by reason.
	DroppedBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livewave_dropped_blocks_total",
		Help: "Generated blocks discarded before playback",
	}, []string{"reason"})
)
