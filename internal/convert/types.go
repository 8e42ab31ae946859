package convert

import (
	"context"
	"fmt"
	"time"
)

// Stage identifies one external executable in the conversion chain
type Stage string

const (
	StageMerge   Stage = "merge"
	StageFlatten Stage = "flatten"
)

func (s Stage) String() string { return string(s) }

// Job describes one row's conversion: merge the standard file with the
// intermediate file, then flatten the merged output into FinalPath.
type Job struct {
	SourceName       string
	StandardPath     string
	IntermediatePath string
	FinalPath        string
}

// StageResult captures one executable run
type StageResult struct {
	Stage    Stage         `json:"stage"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Stderr   string        `json:"stderr,omitempty"`
}

// Result is the outcome of a successful conversion
type Result struct {
	FinalPath string        `json:"final_path"`
	Stages    []StageResult `json:"stages"`
	Duration  time.Duration `json:"duration"`
}

// ExecError reports a stage that could not start, exited nonzero, timed out
// or left no output behind.
type ExecError struct {
	Stage    Stage
	Binary   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s (%s) failed", e.Stage, e.Binary)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Converter turns an intermediate file plus its standard file into a final
// artifact.
type Converter interface {
	Convert(ctx context.Context, job Job) (*Result, error)
}

// Config configures the external executables
type Config struct {
	MergeBin    string
	FlattenBin  string
	WorkDir     string        // parent of the temporary merge output; "" = os.TempDir()
	Timeout     time.Duration // per stage; 0 = wait indefinitely
	StderrLimit int           // bytes of stderr kept per stage
}
