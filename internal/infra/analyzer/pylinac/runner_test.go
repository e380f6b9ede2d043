package pylinac

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// fakeTool writes an executable shell script standing in for the real
// analyzer binary.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fake analyzer")
	}
	path := filepath.Join(t.TempDir(), "fake-analyzer")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestAnalyzeParsesMetrics(t *testing.T) {
	tool := fakeTool(t, `echo '{"hu_tolerance": 40.0, "uniformity_passed": true, "slice_count": 64}'`)

	r := NewRunner(tool, nil, 0)
	metrics, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.NoError(t, err)

	assert.Equal(t, 40.0, metrics["hu_tolerance"])
	assert.Equal(t, true, metrics["uniformity_passed"])
	assert.Equal(t, float64(64), metrics["slice_count"])
}

func TestAnalyzePassesPhantomAndStudyPath(t *testing.T) {
	// The script echoes its arguments back as JSON so the test can see
	// exactly what the tool was invoked with.
	tool := fakeTool(t, `printf '{"argv": "%s"}' "$*"`)

	r := NewRunner(tool, []string{"--quiet"}, 0)
	metrics, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan600)
	require.NoError(t, err)

	assert.Equal(t, "--quiet --phantom CatPhan600 /data/cbct/study01", metrics["argv"])
}

func TestAnalyzeExitCode3IsDataError(t *testing.T) {
	tool := fakeTool(t, "echo 'loading study' >&2\necho 'too few slices: 12' >&2\nexit 3")

	r := NewRunner(tool, nil, 0)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)

	assert.Equal(t, batches.ErrorKindData, batches.KindOf(err))
	assert.Equal(t, "too few slices: 12", err.Error())
}

func TestAnalyzeExitCode3WithoutStderr(t *testing.T) {
	tool := fakeTool(t, "exit 3")

	r := NewRunner(tool, nil, 0)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)

	assert.Equal(t, batches.ErrorKindData, batches.KindOf(err))
	assert.Contains(t, err.Error(), "analyzer rejected study data")
}

func TestAnalyzeOtherExitCodesAreUnexpected(t *testing.T) {
	tool := fakeTool(t, "echo 'traceback' >&2\nexit 1")

	r := NewRunner(tool, nil, 0)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)

	assert.Equal(t, batches.ErrorKindUnexpected, batches.KindOf(err))
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, err.Error(), "traceback")
}

func TestAnalyzeMissingBinaryIsUnexpected(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "no-such-tool"), nil, 0)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)
	assert.Equal(t, batches.ErrorKindUnexpected, batches.KindOf(err))
}

func TestAnalyzeInvalidJSON(t *testing.T) {
	tool := fakeTool(t, `echo 'not json at all'`)

	r := NewRunner(tool, nil, 0)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid metrics JSON")
}

func TestAnalyzeTimeout(t *testing.T) {
	tool := fakeTool(t, "sleep 5")

	r := NewRunner(tool, nil, 100*time.Millisecond)
	_, err := r.Analyze(context.Background(), "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 100ms")
}

func TestAnalyzeCallerDeadline(t *testing.T) {
	tool := fakeTool(t, "sleep 5")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// No per-study timeout configured; the error must reflect the
	// caller's deadline, not a zero-duration timeout.
	r := NewRunner(tool, nil, 0)
	_, err := r.Analyze(ctx, "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "after 0s")
}

func TestAnalyzeCallerCancel(t *testing.T) {
	tool := fakeTool(t, "sleep 5")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewRunner(tool, nil, time.Minute)
	_, err := r.Analyze(ctx, "/data/cbct/study01", studies.PhantomCatPhan504)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", lastLine(""))
	assert.Equal(t, "only", lastLine("only"))
	assert.Equal(t, "second", lastLine("first\nsecond\n"))
	assert.Equal(t, "kept", lastLine("kept\n\n   \n"))
}
