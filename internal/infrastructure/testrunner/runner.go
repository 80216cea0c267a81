// Package testrunner executes the codebase's test suite through a configured
// shell command and reads pass/fail, failing test names, and coverage out of
// the combined output.
package testrunner

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/refactory-tech/refactory/internal/config"
	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// maxReportedFailures caps how many failing test names end up on the batch.
const maxReportedFailures = 20

var (
	// failLinePattern matches go-test style failure markers.
	failLinePattern = regexp.MustCompile(`^--- FAIL: (\S+)`)
	// pytestFailPattern matches pytest summary lines like "FAILED tests/test_x.py::test_y".
	pytestFailPattern = regexp.MustCompile(`^FAILED (\S+)`)
	// coveragePattern matches "coverage: 82.5% of statements" and similar.
	coveragePattern = regexp.MustCompile(`coverage:?\s+(\d+(?:\.\d+)?)%`)
)

// Runner shells out to the configured test command. The affected file paths
// are appended as arguments for subset runs; extended testing swaps in the
// full-suite command with no arguments.
type Runner struct {
	cfg    config.TestRunnerConfig
	root   string
	logger *slog.Logger
}

// New creates a runner for the codebase rooted at root.
func New(cfg config.TestRunnerConfig, root string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, root: root, logger: logger.With("component", "testrunner")}
}

// RunTests executes the suite and reports the outcome. A run that exceeds
// the timeout returns context.DeadlineExceeded; the caller treats that the
// same as a failing run.
func (r *Runner) RunTests(ctx context.Context, affectedPaths []string, fullSuite bool, timeout time.Duration) (transform.TestResult, error) {
	const op = "testrunner.RunTests"

	command := r.cfg.Command
	args := affectedPaths
	if fullSuite && r.cfg.FullSuiteCommand != "" {
		command = r.cfg.FullSuiteCommand
		args = nil
	}
	if command == "" {
		return transform.TestResult{}, rferrors.Test(op, "no test command configured")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fields := strings.Fields(command)
	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], args...)...)
	cmd.Dir = r.workDir()

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		r.logger.Warn("test run timed out", "timeout", timeout, "elapsed", elapsed)
		return transform.TestResult{}, context.DeadlineExceeded
	}

	result := parseOutput(string(output))
	result.Passed = err == nil

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The command never ran (missing binary, bad workdir).
			return transform.TestResult{}, rferrors.TestWrap(err, op, "failed to run test command")
		}
		if len(result.Failures) == 0 {
			result.Failures = []string{lastOutputLine(string(output), err)}
		}
	}

	r.logger.Info("test run finished",
		"passed", result.Passed,
		"failures", len(result.Failures),
		"coverage", result.Coverage,
		"elapsed", elapsed,
		"full_suite", fullSuite)
	return result, nil
}

func (r *Runner) workDir() string {
	if r.cfg.WorkDir != "" {
		return r.cfg.WorkDir
	}
	return r.root
}

// parseOutput extracts failing test names and a coverage figure from the
// combined output. Unknown formats yield an empty failure list and coverage
// -1; the exit code still decides pass/fail.
func parseOutput(output string) transform.TestResult {
	result := transform.TestResult{Coverage: -1}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := failLinePattern.FindStringSubmatch(line); m != nil {
			result.Failures = appendFailure(result.Failures, m[1])
		} else if m := pytestFailPattern.FindStringSubmatch(line); m != nil {
			result.Failures = appendFailure(result.Failures, m[1])
		}
		if m := coveragePattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				result.Coverage = pct / 100
			}
		}
	}
	return result
}

func appendFailure(failures []string, name string) []string {
	if len(failures) >= maxReportedFailures {
		return failures
	}
	return append(failures, name)
}

// lastOutputLine gives a usable reason when the runner's format is not
// recognized.
func lastOutputLine(output string, err error) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return err.Error()
}
