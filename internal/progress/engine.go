// Package progress implements the progress engine (spec.md §4.4): given
// a baseline and a stream of disk samples, produces a ProgressData per
// sample. The rate smoother supplement (SPEC_FULL §4.3) adds weighted
// and exponential smoothers alongside the default simple moving average,
// grounded on the teacher's exponential-moving-average idiom in
// internal/monitoring/monitoring_system.go (`alpha*newVal + (1-alpha)*old`).
package progress

import (
	"time"

	"github.com/moverstatus/moverd/internal/errs"
	"github.com/moverstatus/moverd/internal/sampler"
)

// Data is one point-in-time progress computation (spec.md §3
// ProgressData). Invariant: MovedBytes + RemainingBytes == TotalBytes.
type Data struct {
	Percent            float64
	MovedBytes         int64
	RemainingBytes     int64
	TotalBytes         int64
	RateBytesPerSecond float64
	ETC                time.Duration
	ETCValid           bool
}

// RateSmoother smooths a series of instantaneous rate observations into
// a single reported rate. Samples are supplied oldest-first.
type RateSmoother interface {
	Smooth(rates []float64) float64
}

// SimpleMovingAverage is the spec's default smoother: the arithmetic
// mean of the window.
type SimpleMovingAverage struct{}

func (SimpleMovingAverage) Smooth(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

// WeightedMovingAverage weights more recent samples higher: sample i
// (0-indexed, oldest first) is weighted i+1.
type WeightedMovingAverage struct{}

func (WeightedMovingAverage) Smooth(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	var weightedSum, weightTotal float64
	for i, r := range rates {
		weight := float64(i + 1)
		weightedSum += r * weight
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// ExponentialSmoothing applies exponential smoothing with the
// configured Alpha in [0,1]; higher alpha weights recent samples more.
type ExponentialSmoothing struct {
	Alpha float64
}

func (e ExponentialSmoothing) Smooth(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	smoothed := rates[0]
	for _, r := range rates[1:] {
		smoothed = e.Alpha*r + (1-e.Alpha)*smoothed
	}
	return smoothed
}

// Engine retains a bounded window of samples and computes Data on each
// call to Compute. It is not safe for concurrent use; the orchestrator
// owns a single Engine, used from its single sampling task and Reset at
// each cycle boundary.
type Engine struct {
	windowSize int
	smoother   RateSmoother
	samples    []sampler.DiskSample
}

// NewEngine returns an Engine retaining at most windowSize samples and
// smoothing rates with smoother. A nil smoother defaults to
// SimpleMovingAverage per spec.md §4.4.
func NewEngine(windowSize int, smoother RateSmoother) *Engine {
	if windowSize <= 0 {
		windowSize = 1
	}
	if smoother == nil {
		smoother = SimpleMovingAverage{}
	}
	return &Engine{windowSize: windowSize, smoother: smoother}
}

// Reset discards the retained sample history. Called by the orchestrator
// at the start of each new cycle.
func (e *Engine) Reset() {
	e.samples = nil
}

// SampleCount reports how many samples are currently retained.
func (e *Engine) SampleCount() int {
	return len(e.samples)
}

// Compute implements spec.md §4.4's contract. baseline and the sample's
// BytesUsed must be non-negative; negative values are rejected with
// errs.ErrInvalidInput. The sample is appended to the engine's bounded
// history before the rate is computed.
func (e *Engine) Compute(baseline int64, current sampler.DiskSample) (Data, error) {
	if baseline < 0 || current.BytesUsed < 0 {
		return Data{}, errs.FailedToWithDetails("compute progress", "progress", "", errs.ErrInvalidInput)
	}

	e.samples = append(e.samples, current)
	if len(e.samples) > e.windowSize {
		e.samples = e.samples[len(e.samples)-e.windowSize:]
	}

	if baseline == 0 {
		return Data{Percent: 100, MovedBytes: 0, RemainingBytes: 0, TotalBytes: 0, RateBytesPerSecond: 0, ETCValid: false}, nil
	}

	moved := baseline - current.BytesUsed
	if moved < 0 {
		moved = 0
	}

	percent := clamp(float64(moved)/float64(baseline)*100, 0, 100)

	remaining := baseline - moved
	if remaining < 0 {
		remaining = 0
	}

	if percent >= 100 {
		return Data{
			Percent:        100,
			MovedBytes:     moved,
			RemainingBytes: 0,
			TotalBytes:     baseline,
			ETCValid:       false,
		}, nil
	}

	rate := e.computeRate()

	data := Data{
		Percent:            percent,
		MovedBytes:         moved,
		RemainingBytes:     remaining,
		TotalBytes:         baseline,
		RateBytesPerSecond: rate,
	}

	if rate > 0 && remaining > 0 {
		seconds := float64(remaining) / rate
		data.ETC = time.Duration(seconds * float64(time.Second))
		data.ETCValid = true
	}

	return data, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// computeRate takes (timestamp, moved) points from the retained window,
// skipping samples whose timestamp doesn't strictly increase over the
// previous usable one, computes the instantaneous rate between each
// consecutive pair of usable points, then smooths those rates. Fewer
// than 2 usable samples yields rate 0.
func (e *Engine) computeRate() float64 {
	type point struct {
		t time.Time
		v int64
	}

	usable := make([]point, 0, len(e.samples))
	var lastT time.Time
	for i, s := range e.samples {
		if i > 0 && !s.Timestamp.After(lastT) {
			continue
		}
		usable = append(usable, point{t: s.Timestamp, v: s.BytesUsed})
		lastT = s.Timestamp
	}
	if len(usable) < 2 {
		return 0
	}

	rates := make([]float64, 0, len(usable)-1)
	for i := 1; i < len(usable); i++ {
		dt := usable[i].t.Sub(usable[i-1].t).Seconds()
		if dt <= 0 {
			continue
		}
		// bytes_used decreasing means data is moving; rate is the
		// magnitude of that decrease per second.
		delta := float64(usable[i-1].v - usable[i].v)
		rates = append(rates, delta/dt)
	}
	if len(rates) == 0 {
		return 0
	}

	rate := e.smoother.Smooth(rates)
	if rate < 0 {
		return 0
	}
	return rate
}
