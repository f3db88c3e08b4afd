package sampler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestWalkSampler_CaptureBaseline_SumsFileSizes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), 100)
	writeFile(t, filepath.Join(dir, "b"), 250)

	var s WalkSampler
	sample, err := s.CaptureBaseline(context.Background(), []string{dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(350), sample.BytesUsed)
}

func TestWalkSampler_SkipsExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep"), 100)
	excludedDir := filepath.Join(dir, "excluded")
	require.NoError(t, os.Mkdir(excludedDir, 0o755))
	writeFile(t, filepath.Join(excludedDir, "skip"), 900)

	var s WalkSampler
	sample, err := s.SampleUsage(context.Background(), []string{dir}, []string{excludedDir}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sample.BytesUsed)
}

func TestWalkSampler_MultiplePaths(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeFile(t, filepath.Join(dirA, "a"), 10)
	writeFile(t, filepath.Join(dirB, "b"), 20)

	var s WalkSampler
	sample, err := s.CaptureBaseline(context.Background(), []string{dirA, dirB}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sample.BytesUsed)
}

func TestWalkSampler_MissingPathIsNotAnError(t *testing.T) {
	var s WalkSampler
	sample, err := s.SampleUsage(context.Background(), []string{filepath.Join(t.TempDir(), "gone")}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sample.BytesUsed)
}

func TestWalkSampler_ContextCancellationStopsEarly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var s WalkSampler
	_, err := s.CaptureBaseline(ctx, []string{dir}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
