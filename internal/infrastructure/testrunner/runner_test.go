package testrunner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactory-tech/refactory/internal/config"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests shell out to sh")
	}
}

func TestRunTestsPassing(t *testing.T) {
	skipOnWindows(t)

	r := New(config.TestRunnerConfig{Command: "true"}, t.TempDir(), nil)
	result, err := r.RunTests(context.Background(), nil, false, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestRunTestsFailingExitCode(t *testing.T) {
	skipOnWindows(t)

	r := New(config.TestRunnerConfig{Command: "false"}, t.TempDir(), nil)
	result, err := r.RunTests(context.Background(), nil, false, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Failures)
}

func TestRunTestsTimeout(t *testing.T) {
	skipOnWindows(t)

	r := New(config.TestRunnerConfig{Command: "sleep 5"}, t.TempDir(), nil)
	_, err := r.RunTests(context.Background(), nil, false, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunTestsRejectsMissingCommand(t *testing.T) {
	r := New(config.TestRunnerConfig{}, t.TempDir(), nil)
	_, err := r.RunTests(context.Background(), nil, false, time.Minute)
	require.Error(t, err)
}

func TestParseGoTestOutput(t *testing.T) {
	output := `=== RUN   TestCharge
--- FAIL: TestCharge (0.01s)
=== RUN   TestRefund
--- FAIL: TestRefund/partial (0.00s)
FAIL
coverage: 74.2% of statements
`
	result := parseOutput(output)
	assert.Equal(t, []string{"TestCharge", "TestRefund/partial"}, result.Failures)
	assert.InDelta(t, 0.742, result.Coverage, 0.0001)
}

func TestParsePytestOutput(t *testing.T) {
	output := `FAILED tests/test_cart.py::test_total - AssertionError
FAILED tests/test_cart.py::test_empty
`
	result := parseOutput(output)
	assert.Equal(t, []string{"tests/test_cart.py::test_total", "tests/test_cart.py::test_empty"}, result.Failures)
	assert.Equal(t, float64(-1), result.Coverage)
}

func TestParseOutputCapsFailures(t *testing.T) {
	var output string
	for i := 0; i < 50; i++ {
		output += "--- FAIL: TestLots\n"
	}
	result := parseOutput(output)
	assert.Len(t, result.Failures, maxReportedFailures)
}
