package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multab/internal/config"
	"multab/internal/launch"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRunPrintsReport(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "run", "10", "--workers", "3", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "M(10) = 42\n")
	assert.Contains(t, out, "Total products in table: 100\n")
	assert.Contains(t, out, "Percentage of unique products: 42.00%\n")
	assert.Contains(t, out, "Time elapsed: ")
}

func TestRunDefaultN(t *testing.T) {
	t.Parallel()

	out, logs, err := execute(t, "run", "-w", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "M(10) = 42")
	assert.Contains(t, logs, "using default N=10")
}

func TestRunRejectsInvalidN(t *testing.T) {
	t.Parallel()

	for _, n := range []string{"0", "-4", "abc"} {
		_, _, err := execute(t, "run", "--", n)
		assert.Error(t, err, "N=%s", n)
	}
}

func TestRunRecordsResults(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "runs.db")
	_, logs, err := execute(t, "run", "5", "-w", "2",
		"--results-kind", "sqlite", "--results-dsn", dsn, "--auto-create")
	require.NoError(t, err)
	assert.Contains(t, logs, "run recorded")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "validate", "-w", "2")
	require.NoError(t, err)
	assert.Equal(t, "configuration is valid\n", out)

	_, errOut, err := execute(t, "validate", "-w", "0", "--hash", "md5")
	require.Error(t, err)
	assert.Contains(t, errOut, "error: workers:")
	assert.Contains(t, errOut, "error: hash:")
}

func TestPartition(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "partition", "3", "--workers", "4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"RANK", "START", "END", "PAIRS", "FIRST", "LAST"}, strings.Fields(lines[0]))
	// 6 pairs over 4 ranks: 2, 2, 1, 1.
	assert.Equal(t, []string{"0", "0", "1", "2", "(1,1)", "(1,2)"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"3", "5", "5", "1", "(3,3)", "(3,3)"}, strings.Fields(lines[4]))
}

func TestUnknownLogFormat(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "partition", "3", "--log-format", "xml")
	assert.ErrorContains(t, err, "unknown log format")
}

func TestWorkerRequiresFlags(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "worker", "--rank", "1")
	assert.Error(t, err)

	_, _, err = execute(t, "worker", "--rank", "5", "--workers", "2", "--coordinator", "127.0.0.1:1")
	assert.ErrorContains(t, err, "rank must be in")
}

// TestWorkerAcceptsLauncherArgs feeds the real worker subcommand the command
// line the tcp launcher builds. The rank is out of range so the command
// stops right after flag parsing and config checks.
func TestWorkerAcceptsLauncherArgs(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Workers = 2
	cfg.Log = config.Log{Verbose: true, Format: "json"}
	cfg.Metrics.Backend = "datadog"

	_, _, err := execute(t, launch.PeerArgs(cfg, 2, "127.0.0.1:1")...)
	assert.ErrorContains(t, err, "rank must be in [1, 2)")
}

func TestLogSettingsReachTheLogger(t *testing.T) {
	t.Parallel()

	_, errOut, err := execute(t, "run", "10", "--workers", "2", "-v", "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, errOut, `"level":"debug"`)
}
