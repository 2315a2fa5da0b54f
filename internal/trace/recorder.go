// Package trace records lifecycle events from the queue and sequence engines
// and journals finished runs to SQLite.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/roach88/tandem/internal/lifecycle"
	"github.com/roach88/tandem/internal/queue"
	"github.com/roach88/tandem/internal/sequence"
)

// Engine names used in events and metric labels.
const (
	EngineQueue    = "queue"
	EngineSequence = "sequence"
)

// Event is one lifecycle callback observed by a Recorder.
type Event struct {
	Seq    int64           `json:"seq"`
	Engine string          `json:"engine"`
	Stage  lifecycle.Stage `json:"stage"`
	// Key is the action key for sequences and the unit ID for queues.
	// Empty for an AfterEnd that followed no unit.
	Key string `json:"key"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the stamper for event sequence numbers. Default: NewClock().
func WithClock(c Stamper) Option {
	return func(r *Recorder) {
		r.clock = c
	}
}

// WithIDGenerator sets the run ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Recorder) {
		r.ids = g
	}
}

// Recorder collects lifecycle events for a single run.
//
// Thread-safety: safe for concurrent use; events are appended in stamp order.
type Recorder struct {
	mu     sync.Mutex
	clock  Stamper
	ids    IDGenerator
	runID  string
	events []Event
}

// NewRecorder creates a recorder with a freshly generated run ID.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		clock: NewClock(),
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.runID = r.ids.Generate()
	return r
}

// RunID returns the identifier of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Record appends an event stamped with the next clock value.
func (r *Recorder) Record(engine string, stage lifecycle.Stage, key string) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := Event{
		Seq:    r.clock.Next(),
		Engine: engine,
		Stage:  stage,
		Key:    key,
	}
	r.events = append(r.events, e)
	return e
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// AttachQueue registers handlers on every stage of q.
func (r *Recorder) AttachQueue(q *queue.Queue) {
	hook := func(stage lifecycle.Stage) queue.Handler {
		return func(_ *queue.Queue, u *queue.Unit) {
			key := ""
			if u != nil {
				key = u.ID
			}
			r.Record(EngineQueue, stage, key)
		}
	}
	q.BeforeStart(hook(lifecycle.BeforeStart)).
		BeforeStep(hook(lifecycle.BeforeStep)).
		AfterStep(hook(lifecycle.AfterStep)).
		AfterEnd(hook(lifecycle.AfterEnd))
}

// AttachSequence registers handlers on every stage of s.
// Keys are rendered with %v.
func AttachSequence[K comparable](r *Recorder, s *sequence.Sequence[K]) {
	hook := func(stage lifecycle.Stage) sequence.Handler[K] {
		return func(_ *sequence.Sequence[K], k K, _ sequence.Action[K]) {
			r.Record(EngineSequence, stage, fmt.Sprintf("%v", k))
		}
	}
	s.BeforeStart(hook(lifecycle.BeforeStart)).
		BeforeStep(hook(lifecycle.BeforeStep)).
		AfterStep(hook(lifecycle.AfterStep)).
		AfterEnd(hook(lifecycle.AfterEnd))
}

// WriteText renders events one per line:
//
//	0001 sequence before_start 45
func WriteText(w io.Writer, events []Event) error {
	for _, e := range events {
		line := fmt.Sprintf("%04d %-8s %-12s %s", e.Seq, e.Engine, e.Stage, e.Key)
		if _, err := io.WriteString(w, strings.TrimRight(line, " ")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteText renders the recorded events. See the package-level WriteText.
func (r *Recorder) WriteText(w io.Writer) error {
	return WriteText(w, r.Events())
}
