// Package metrics exports Prometheus counters and histograms for the queue
// and sequence engines.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tandem/internal/lifecycle"
	"github.com/roach88/tandem/internal/queue"
	"github.com/roach88/tandem/internal/sequence"
)

// Engine label values.
const (
	engineQueue    = "queue"
	engineSequence = "sequence"
)

// Collector owns the tandem metric vectors.
type Collector struct {
	steps    *prometheus.CounterVec
	cycles   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates the metric vectors and registers them on reg.
// Panics if the names are already registered on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_steps_total",
				Help: "Lifecycle callbacks observed, by engine and stage.",
			},
			[]string{"engine", "stage"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_cycles_total",
				Help: "Completed drain cycles and traversals, by engine.",
			},
			[]string{"engine"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_step_duration_seconds",
				Help:    "Time from before_step to after_step, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"engine"},
		),
	}
	reg.MustRegister(c.steps, c.cycles, c.duration)

	// Pre-initialize label combinations so they are exported at 0.
	for _, engine := range []string{engineQueue, engineSequence} {
		for _, stage := range lifecycle.Stages {
			c.steps.WithLabelValues(engine, stage.String())
		}
		c.cycles.WithLabelValues(engine)
	}
	return c
}

// stepTimer measures one step at a time; both engines run steps serially.
type stepTimer struct {
	mu    sync.Mutex
	start time.Time
}

func (t *stepTimer) begin() {
	t.mu.Lock()
	t.start = time.Now()
	t.mu.Unlock()
}

func (t *stepTimer) elapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.start).Seconds()
}

func (c *Collector) observe(engine string, stage lifecycle.Stage, timer *stepTimer) {
	c.steps.WithLabelValues(engine, stage.String()).Inc()
	switch stage {
	case lifecycle.BeforeStep:
		timer.begin()
	case lifecycle.AfterStep:
		c.duration.WithLabelValues(engine).Observe(timer.elapsed())
	case lifecycle.AfterEnd:
		c.cycles.WithLabelValues(engine).Inc()
	}
}

// ObserveQueue registers handlers on every stage of q.
func (c *Collector) ObserveQueue(q *queue.Queue) {
	timer := &stepTimer{}
	hook := func(stage lifecycle.Stage) queue.Handler {
		return func(*queue.Queue, *queue.Unit) {
			c.observe(engineQueue, stage, timer)
		}
	}
	q.BeforeStart(hook(lifecycle.BeforeStart)).
		BeforeStep(hook(lifecycle.BeforeStep)).
		AfterStep(hook(lifecycle.AfterStep)).
		AfterEnd(hook(lifecycle.AfterEnd))
}

// ObserveSequence registers handlers on every stage of s.
func ObserveSequence[K comparable](c *Collector, s *sequence.Sequence[K]) {
	timer := &stepTimer{}
	hook := func(stage lifecycle.Stage) sequence.Handler[K] {
		return func(*sequence.Sequence[K], K, sequence.Action[K]) {
			c.observe(engineSequence, stage, timer)
		}
	}
	s.BeforeStart(hook(lifecycle.BeforeStart)).
		BeforeStep(hook(lifecycle.BeforeStep)).
		AfterStep(hook(lifecycle.AfterStep)).
		AfterEnd(hook(lifecycle.AfterEnd))
}
