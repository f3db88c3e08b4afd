// Package sampler defines the outbound sampler contract (spec.md §6.5).
// The core only consumes a Sampler; WalkSampler below is the one
// implementation this package ships.
package sampler

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

func walkSize(root string, excluded map[string]struct{}) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if _, skip := excluded[path]; skip {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// DiskSample is a point-in-time disk usage observation (spec.md §3).
// Monotonicity of BytesUsed per path is NOT assumed: the mover reduces
// bytes used on the source path as it moves data away.
type DiskSample struct {
	Timestamp time.Time
	BytesUsed int64
	Path      string
}

// Sampler is the external collaborator that knows how to measure disk
// usage for a set of paths. Both methods are cancellable and may take
// seconds to complete; callers must never invoke them from a loop that
// also needs to stay responsive to other events (the orchestrator runs
// them from its dedicated sampling task, not its lifecycle loop).
type Sampler interface {
	CaptureBaseline(ctx context.Context, paths, exclusionPaths []string) (DiskSample, error)
	SampleUsage(ctx context.Context, paths, exclusionPaths []string, cacheDuration time.Duration) (DiskSample, error)
}

// WalkSampler is a minimal filesystem-walk Sampler for the demo
// composition root (cmd/moverd). It sums file sizes under paths,
// skipping anything under exclusionPaths. Production deployments are
// expected to supply a Sampler with caching and a real mover-specific
// accounting strategy; this one is intentionally simple.
type WalkSampler struct{}

func (WalkSampler) CaptureBaseline(ctx context.Context, paths, exclusionPaths []string) (DiskSample, error) {
	return sumPaths(ctx, paths, exclusionPaths)
}

func (WalkSampler) SampleUsage(ctx context.Context, paths, exclusionPaths []string, _ time.Duration) (DiskSample, error) {
	return sumPaths(ctx, paths, exclusionPaths)
}

func sumPaths(ctx context.Context, paths, exclusionPaths []string) (DiskSample, error) {
	excluded := make(map[string]struct{}, len(exclusionPaths))
	for _, p := range exclusionPaths {
		excluded[p] = struct{}{}
	}

	var total int64
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return DiskSample{}, err
		}
		n, err := walkSize(root, excluded)
		if err != nil {
			return DiskSample{}, err
		}
		total += n
	}

	path := ""
	if len(paths) > 0 {
		path = paths[0]
	}
	return DiskSample{Timestamp: time.Now(), BytesUsed: total, Path: path}, nil
}
