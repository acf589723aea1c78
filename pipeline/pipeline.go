package pipeline

import (
	"time"

	"github.com/tarungka/lifelog/sinks"
	"github.com/tarungka/lifelog/sources"
)

// Pipeline joins one source to the sink configured with the same key
type Pipeline struct {
	Key    string
	Source sources.Source
	Sink   sinks.Sink
}

// Show returns `source name` -> `sink name`
func (p Pipeline) Show() string {
	return p.Source.Name() + " -> " + p.Sink.Name()
}

// Status of a finished run
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Report summarizes one run of one source
type Report struct {
	Source   string        `json:"source"`
	Sink     string        `json:"sink"`
	Status   Status        `json:"status"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Emitted  int           `json:"emitted"`
	Pending  int           `json:"pending"`
	Stats    RunStats      `json:"stats"`
	Error    string        `json:"error,omitempty"`
}

// RunStats are the non-fatal counts of a run
type RunStats struct {
	Lines            int `json:"lines"`
	Malformed        int `json:"malformed"`
	Ignored          int `json:"ignored"`
	OrphanEnds       int `json:"orphan_ends"`
	DuplicateStarts  int `json:"duplicate_starts"`
	NegativeDuration int `json:"negative_duration"`
}

func newRunStats(s sources.Stats) RunStats {
	return RunStats{
		Lines:            s.Lines,
		Malformed:        s.Malformed,
		Ignored:          s.Ignored,
		OrphanEnds:       s.OrphanEnds,
		DuplicateStarts:  s.DuplicateStarts,
		NegativeDuration: s.NegativeDuration,
	}
}
