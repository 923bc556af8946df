package progress

import "sync"

const (
	LabelInProgress = "in progress"
	LabelAssembling = "assembling"
	LabelComplete   = "complete"
)

// Event is one progress observation. Fraction is in [0,1].
type Event struct {
	Fraction  float64
	Label     string
	Processed int
	Total     int
}

type Sink interface {
	OnProgress(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) OnProgress(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Tracker turns per-frame counts into a non-decreasing fraction and pushes
// each change to its sink. A nil sink is treated as Discard.
type Tracker struct {
	mu        sync.Mutex
	sink      Sink
	fraction  float64
	label     string
	processed int
	total     int
	finished  bool
}

func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{sink: sink, label: LabelInProgress}
}

// Update records processed of total frames. An unknown total (<= 0) holds the
// fraction where it is. Counts that would lower the fraction are ignored.
func (t *Tracker) Update(processed, total int) {
	t.mu.Lock()
	if t.finished || processed < t.processed {
		t.mu.Unlock()
		return
	}

	fraction := t.fraction
	if total > 0 {
		f := float64(processed) / float64(total)
		if f > 1 {
			f = 1
		}
		if f > fraction {
			fraction = f
		}
	}

	changed := fraction != t.fraction || processed != t.processed || total != t.total
	t.fraction = fraction
	t.processed = processed
	t.total = total
	ev := t.eventLocked()
	t.mu.Unlock()

	if changed {
		t.sink.OnProgress(ev)
	}
}

// Stage relabels the current fraction.
func (t *Tracker) Stage(label string) {
	t.mu.Lock()
	if t.finished || label == t.label {
		t.mu.Unlock()
		return
	}
	t.label = label
	ev := t.eventLocked()
	t.mu.Unlock()

	t.sink.OnProgress(ev)
}

// Finish emits (1.0, "complete") once; later calls are no-ops.
func (t *Tracker) Finish() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.fraction = 1
	t.label = LabelComplete
	ev := t.eventLocked()
	t.mu.Unlock()

	t.sink.OnProgress(ev)
}

func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fraction
}

func (t *Tracker) eventLocked() Event {
	return Event{
		Fraction:  t.fraction,
		Label:     t.label,
		Processed: t.processed,
		Total:     t.total,
	}
}

// Recorder is a Sink that keeps every event. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnProgress(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
