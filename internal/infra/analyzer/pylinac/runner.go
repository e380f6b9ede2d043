// Package pylinac invokes the external pylinac-based analysis tool once
// per study. The tool prints its metrics as a single JSON object on
// stdout; exit code 3 is reserved for study-data problems (incompatible
// phantom, too few slices) so they can be reported separately from
// tooling failures.
package pylinac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// DataFailureExitCode is the analyzer tool's exit code for rejected
// study data.
const DataFailureExitCode = 3

type Runner struct {
	// Command and Args form the analyzer invocation; the phantom model
	// and study path are appended per study.
	Command string
	Args    []string
	// Timeout bounds a single study's analysis. Zero means no limit.
	Timeout time.Duration
}

func NewRunner(command string, args []string, timeout time.Duration) *Runner {
	return &Runner{Command: command, Args: args, Timeout: timeout}
}

// Analyze runs the analyzer tool against one study directory.
func (r *Runner) Analyze(ctx context.Context, studyPath string, phantom studies.Phantom) (batches.Metrics, error) {
	parent := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), "--phantom", string(phantom), studyPath)
	cmd := exec.CommandContext(ctx, r.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// Distinguish the runner's own per-study timeout from a deadline or
	// cancellation that arrived with the caller's context.
	if perr := parent.Err(); perr != nil {
		return nil, fmt.Errorf("analysis aborted for %s: %w", studyPath, perr)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("analysis timed out after %s: %s", r.Timeout, studyPath)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			msg := lastLine(stderr.String())
			if ee.ExitCode() == DataFailureExitCode {
				if msg == "" {
					msg = "analyzer rejected study data"
				}
				return nil, batches.NewDataError("%s", msg)
			}
			return nil, fmt.Errorf("analyzer exited with code %d: %s", ee.ExitCode(), msg)
		}
		return nil, fmt.Errorf("analyzer run error: %w", err)
	}

	var metrics batches.Metrics
	if uerr := json.Unmarshal(stdout.Bytes(), &metrics); uerr != nil {
		return nil, fmt.Errorf("analyzer produced invalid metrics JSON: %w", uerr)
	}
	return metrics, nil
}

// lastLine returns the final non-empty line of the tool's stderr, which
// by convention carries the human-readable failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
