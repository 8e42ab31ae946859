// Package convert drives the external merge and flatten executables that
// turn an intermediate HDF5 file and its standard CAF file into a flattened
// CAF artifact.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Environment overrides for the executables, checked before the configured
// value.
const (
	EnvMergeBin   = "CAFLEDGER_MERGE_BIN"
	EnvFlattenBin = "CAFLEDGER_FLATTEN_BIN"
)

// killGrace is how long a cancelled stage gets between SIGTERM and SIGKILL.
const killGrace = 3 * time.Second

// Runner implements Converter with two external executables.
type Runner struct {
	cfg         Config
	mergePath   string
	flattenPath string
}

// NewRunner resolves both executables up front so a missing binary fails the
// batch before any row is touched.
func NewRunner(cfg Config) (*Runner, error) {
	merge, err := FindBinary(cfg.MergeBin, EnvMergeBin)
	if err != nil {
		return nil, err
	}
	flatten, err := FindBinary(cfg.FlattenBin, EnvFlattenBin)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, mergePath: merge, flattenPath: flatten}, nil
}

// FindBinary locates an executable.
// Search order: envVar, configured path (absolute or relative with a
// separator), PATH lookup of configured.
func FindBinary(configured, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			if isExecutable(envPath) {
				return envPath, nil
			}
			zap.L().Warn("ignoring executable override: not executable",
				zap.String("env", envVar), zap.String("path", envPath))
		}
	}

	if configured == "" {
		return "", eris.Errorf("convert: no executable configured (set %s)", envVar)
	}

	if strings.ContainsRune(configured, os.PathSeparator) {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", eris.Errorf("convert: %s is not an executable file", configured)
	}

	path, err := exec.LookPath(configured)
	if err != nil {
		return "", eris.Wrapf(err, "convert: %s not found (set %s or add it to PATH)", configured, envVar)
	}
	return path, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// MergePath returns the resolved merge executable.
func (r *Runner) MergePath() string { return r.mergePath }

// FlattenPath returns the resolved flatten executable.
func (r *Runner) FlattenPath() string { return r.flattenPath }

// Convert runs merge into a private temporary file, then flatten into
// job.FinalPath. The temporary file is removed afterwards.
func (r *Runner) Convert(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()

	workDir, err := os.MkdirTemp(r.cfg.WorkDir, "cafledger-")
	if err != nil {
		return nil, eris.Wrap(err, "convert: create work dir")
	}
	defer os.RemoveAll(workDir)

	if err := os.MkdirAll(filepath.Dir(job.FinalPath), 0o755); err != nil {
		return nil, eris.Wrapf(err, "convert: create output dir for %s", job.FinalPath)
	}

	tmp := filepath.Join(workDir, "merged.root")
	result := &Result{FinalPath: job.FinalPath}

	merge, err := r.runStage(ctx, StageMerge, r.mergePath, tmp, job.StandardPath, job.IntermediatePath)
	result.Stages = append(result.Stages, merge)
	if err != nil {
		return result, err
	}
	if _, err := os.Stat(tmp); err != nil {
		return result, &ExecError{Stage: StageMerge, Binary: r.mergePath, Stderr: merge.Stderr,
			Err: eris.New("merge produced no output")}
	}

	flatten, err := r.runStage(ctx, StageFlatten, r.flattenPath, tmp, job.FinalPath)
	result.Stages = append(result.Stages, flatten)
	if err != nil {
		return result, err
	}
	if _, err := os.Stat(job.FinalPath); err != nil {
		return result, &ExecError{Stage: StageFlatten, Binary: r.flattenPath, Stderr: flatten.Stderr,
			Err: eris.Errorf("flatten produced no output at %s", job.FinalPath)}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// runStage runs one executable to completion, checking its exit status.
func (r *Runner) runStage(ctx context.Context, stage Stage, binary string, args ...string) (StageResult, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	stderr := newStderrTail(r.cfg.StderrLimit)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	zap.L().Debug("running converter stage",
		zap.String("stage", stage.String()),
		zap.String("binary", binary),
		zap.Strings("args", args),
	)

	start := time.Now()
	runErr := cmd.Run()
	res := StageResult{
		Stage:    stage,
		Duration: time.Since(start),
		Stderr:   strings.TrimSpace(stderr.String()),
	}
	if runErr == nil {
		return res, nil
	}
	if n := stderr.Dropped(); n > 0 {
		zap.L().Debug("converter stderr truncated", zap.String("stage", stage.String()), zap.Int("dropped_bytes", n))
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		runErr = fmt.Errorf("%s interrupted: %w", stage, ctxErr)
	}
	return res, &ExecError{
		Stage:    stage,
		Binary:   binary,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
		Err:      runErr,
	}
}
