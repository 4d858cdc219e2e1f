// Package progress carries install progress notifications to whatever UI
// embeds the bootstrap layer.
package progress

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Step names.
const (
	StepDownloadNode = "download_node"
	StepInstallNpm   = "install_npm"
	StepSetup        = "setup"
)

// Status values. Done and Error are terminal for a step.
const (
	StatusStarted    = "started"
	StatusProgress   = "progress"
	StatusExtracting = "extracting"
	StatusDone       = "done"
	StatusError      = "error"
)

// Event is one notification. Percent is omitted when unknown.
type Event struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Percent *int   `json:"percent,omitempty"`
	Message string `json:"message"`
}

// Percent returns a pointer suitable for Event.Percent.
func Percent(p int) *int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}

// Reporter receives events synchronously on the caller's goroutine.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Discard drops every event.
var Discard Reporter = ReporterFunc(func(Event) {})

// Log writes events to the structured logger.
var Log Reporter = ReporterFunc(func(e Event) {
	ev := log.Info()
	if e.Status == StatusError {
		ev = log.Error()
	} else if e.Status == StatusProgress {
		ev = log.Debug()
	}
	if e.Percent != nil {
		ev = ev.Int("percent", *e.Percent)
	}
	ev.Str("step", e.Step).Str("status", e.Status).Msg(e.Message)
})

// Multi fans events out to several reporters in order.
func Multi(rs ...Reporter) Reporter {
	return ReporterFunc(func(e Event) {
		for _, r := range rs {
			if r != nil {
				r.Report(e)
			}
		}
	})
}

// JSONLines writes each event as one JSON document per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines { return &JSONLines{enc: json.NewEncoder(w)} }

func (j *JSONLines) Report(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(e)
}

// Channel delivers events to a UI goroutine. Events are dropped rather than
// blocking the worker when the buffer is full, except terminal ones.
type Channel struct {
	C chan Event
}

func NewChannel(buffer int) *Channel { return &Channel{C: make(chan Event, buffer)} }

func (c *Channel) Report(e Event) {
	if e.Status == StatusDone || e.Status == StatusError || e.Status == StatusStarted {
		c.C <- e
		return
	}
	select {
	case c.C <- e:
	default:
	}
}

// Stepper reports events for a single step.
type Stepper struct {
	r    Reporter
	step string
}

// For binds r to step; a nil r discards.
func For(r Reporter, step string) Stepper {
	if r == nil {
		r = Discard
	}
	return Stepper{r: r, step: step}
}

func (s Stepper) emit(status, msg string, pct *int) {
	s.r.Report(Event{Step: s.step, Status: status, Percent: pct, Message: msg})
}

func (s Stepper) Started(msg string)            { s.emit(StatusStarted, msg, nil) }
func (s Stepper) Extracting(msg string)         { s.emit(StatusExtracting, msg, nil) }
func (s Stepper) Done(msg string)               { s.emit(StatusDone, msg, nil) }
func (s Stepper) Error(msg string)              { s.emit(StatusError, msg, nil) }
func (s Stepper) Progress(msg string, pct *int) { s.emit(StatusProgress, msg, pct) }
