// Package delivery implements the delivery tracker (spec.md §4.8):
// given a delivery id, a message, and the set of target providers,
// accept per-provider outcomes and compute the aggregate dispatch
// status. Grounded on the RetryableError/aggregate-result shape
// confirmed in the pack's notification/delivery test fixtures, adapted
// to spec.md §3's DispatchResult invariants.
package delivery

import (
	"sync"
	"time"
)

// Status is DispatchResult's aggregate status (spec.md §3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// ProviderResult is one (delivery, provider) outcome (spec.md §3).
type ProviderResult struct {
	ProviderIdentifier string
	Success            bool
	Error              string
	Timestamp          time.Time
}

// Result is DispatchResult (spec.md §3). Invariants: Status == success
// iff every provider in Providers succeeded; Status == failed iff every
// provider failed; Status == partial iff mixed; CompletedAt is set iff
// Status is terminal (success, failed, or partial).
type Result struct {
	DeliveryID  string
	Status      Status
	Providers   []string
	Results     map[string]ProviderResult
	CreatedAt   time.Time
	CompletedAt time.Time
	Completed   bool
}

// Tracker holds one Result per outstanding (or recently completed)
// delivery. Mutated only by the dispatcher's worker tasks; Get returns a
// consistent snapshot for any other reader.
type Tracker struct {
	mu      sync.Mutex
	results map[string]*Result
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{results: make(map[string]*Result)}
}

// Track registers a new delivery with its target providers, starting in
// the pending status.
func (t *Tracker) Track(deliveryID string, providers []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[deliveryID] = &Result{
		DeliveryID: deliveryID,
		Status:     StatusPending,
		Providers:  append([]string(nil), providers...),
		Results:    make(map[string]ProviderResult, len(providers)),
		CreatedAt:  time.Now(),
	}
}

// Update records provider's outcome for deliveryID and recomputes the
// aggregate status per spec.md §3/§4.8. Unknown deliveryID is a no-op:
// the dispatcher never calls Update before Track.
func (t *Tracker) Update(deliveryID, provider string, success bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, ok := t.results[deliveryID]
	if !ok {
		return
	}

	result.Results[provider] = ProviderResult{
		ProviderIdentifier: provider,
		Success:            success,
		Error:              errMsg,
		Timestamp:          time.Now(),
	}

	if len(result.Results) < len(result.Providers) {
		result.Status = StatusInProgress
		return
	}

	allSucceeded, allFailed := true, true
	for _, pr := range result.Results {
		if pr.Success {
			allFailed = false
		} else {
			allSucceeded = false
		}
	}

	switch {
	case allSucceeded:
		result.Status = StatusSuccess
	case allFailed:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}
	result.CompletedAt = time.Now()
	result.Completed = true
}

// Get returns a snapshot of deliveryID's current result. The second
// return value is false if deliveryID is unknown.
func (t *Tracker) Get(deliveryID string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, ok := t.results[deliveryID]
	if !ok {
		return Result{}, false
	}
	return snapshot(result), true
}

func snapshot(r *Result) Result {
	copied := *r
	copied.Providers = append([]string(nil), r.Providers...)
	copied.Results = make(map[string]ProviderResult, len(r.Results))
	for k, v := range r.Results {
		copied.Results[k] = v
	}
	return copied
}

// MarkCancelled forces every provider in deliveryID that has not yet
// reported to a failed "cancelled" result. Per spec.md §5, a dispatch
// cancelled mid-fanout surfaces status=failed unconditionally, even if
// some providers had already reported success.
func (t *Tracker) MarkCancelled(deliveryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, ok := t.results[deliveryID]
	if !ok {
		return
	}
	for _, provider := range result.Providers {
		if _, reported := result.Results[provider]; !reported {
			result.Results[provider] = ProviderResult{
				ProviderIdentifier: provider,
				Success:            false,
				Error:              "cancelled",
				Timestamp:          time.Now(),
			}
		}
	}
	result.Status = StatusFailed
	result.CompletedAt = time.Now()
	result.Completed = true
}
