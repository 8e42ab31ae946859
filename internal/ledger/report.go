package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"spineprod/cafledger/internal/convert"
	"spineprod/cafledger/internal/db"
)

// Step identifies a ledger operation
type Step string

const (
	StepIngest           Step = "ingest"
	StepLinkStandard     Step = "link_standard"
	StepLinkIntermediate Step = "link_intermediate"
	StepProduce          Step = "produce"
	StepRefresh          Step = "refresh"
	StepReprocess        Step = "reprocess"
)

// Failure is one row (or file) a step could not handle. The batch carries on
// past it.
type Failure struct {
	Step     Step   `json:"step" yaml:"step"`
	Key      string `json:"key" yaml:"key"`
	Error    string `json:"error" yaml:"error"`
	ExitCode int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Stderr   string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
}

func newFailure(step Step, key string, err error) Failure {
	f := Failure{Step: step, Key: key, Error: err.Error()}
	var execErr *convert.ExecError
	if errors.As(err, &execErr) {
		f.ExitCode = execErr.ExitCode
		f.Stderr = execErr.Stderr
	}
	return f
}

// StepReport summarises one step.
//
// Updated counts rows written. Skipped counts duplicate inserts. Unmatched
// counts inputs that touched no row.
type StepReport struct {
	Step       Step          `json:"step" yaml:"step"`
	Candidates int           `json:"candidates" yaml:"candidates"`
	Updated    int           `json:"updated" yaml:"updated"`
	Skipped    int           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Unmatched  int           `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	Failures   []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

func (s *StepReport) fail(f Failure) {
	s.Failures = append(s.Failures, f)
}

// Report is the outcome of a batch run
type Report struct {
	RunID      string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Definition string        `json:"definition" yaml:"definition"`
	Steps      []*StepReport `json:"steps" yaml:"steps"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

func (r *Report) add(s *StepReport) {
	if s != nil {
		r.Steps = append(r.Steps, s)
	}
}

// Step returns the report of step, or nil if it did not run.
func (r *Report) Step(step Step) *StepReport {
	for _, s := range r.Steps {
		if s.Step == step {
			return s
		}
	}
	return nil
}

// Failures returns the failures of every step in run order.
func (r *Report) Failures() []Failure {
	var out []Failure
	for _, s := range r.Steps {
		out = append(out, s.Failures...)
	}
	return out
}

// Counts converts the report into run log counters.
func (r *Report) Counts() db.RunCounts {
	var c db.RunCounts
	for _, s := range r.Steps {
		switch s.Step {
		case StepIngest:
			c.Inserted += s.Updated
		case StepLinkStandard:
			c.LinkedStandard += s.Updated
		case StepLinkIntermediate:
			c.LinkedIntermediate += s.Updated
		case StepProduce:
			c.Produced += s.Updated
		case StepRefresh, StepReprocess:
			c.Refreshed += s.Updated
		}
	}
	return c
}

// failuresJSON encodes the failure list for the run log; nil when empty.
func (r *Report) failuresJSON() ([]byte, error) {
	f := r.Failures()
	if len(f) == 0 {
		return nil, nil
	}
	return json.Marshal(f)
}
