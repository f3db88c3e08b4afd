// Package dispatch implements the async dispatcher (spec.md §4.9):
// register/unregister providers, enqueue a message, fan out to every
// target provider concurrently, and report an aggregate DispatchResult.
// Adapted from the teacher's internal/webhooks/dispatcher.go — a queue
// drained by worker goroutines that fan out a single emitted event to
// every subscriber — generalized from "one HTTP POST per webhook
// subscriber" to "one retry-and-circuit-breaker-wrapped provider call
// per registered provider."
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moverstatus/moverd/internal/delivery"
	"github.com/moverstatus/moverd/internal/errs"
	"github.com/moverstatus/moverd/internal/logging"
	"github.com/moverstatus/moverd/internal/notify"
	"github.com/moverstatus/moverd/internal/queue"
	"github.com/moverstatus/moverd/internal/retry"
	"github.com/moverstatus/moverd/internal/workerpool"
)

// Config parameterizes the dispatcher (queue capacity, worker count,
// per-dispatch timeout, and the retry policy applied to every provider
// call).
type Config struct {
	QueueCapacity   int
	WorkerCount     int
	DrainTimeout    time.Duration
	DispatchTimeout time.Duration
	PolicyFor       func(providerID string) retry.PolicyConfig
	DryRun          bool
}

// DefaultConfig returns spec-sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   256,
		WorkerCount:     4,
		DrainTimeout:    500 * time.Millisecond,
		DispatchTimeout: 30 * time.Second,
		PolicyFor:       func(providerID string) retry.PolicyConfig { return retry.DefaultPolicyConfig(providerID) },
	}
}

// Dispatcher is the async dispatcher described in spec.md §4.9.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	queue   *queue.Queue
	pool    *workerpool.Pool
	tracker *delivery.Tracker
	circuit *retry.Manager

	policyFor func(providerID string) retry.PolicyConfig

	mu        sync.RWMutex
	providers map[string]notify.Provider

	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New returns a Dispatcher ready to have providers registered.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	logger = logging.Default(logger)
	policyFor := cfg.PolicyFor
	if policyFor == nil {
		policyFor = func(providerID string) retry.PolicyConfig { return retry.DefaultPolicyConfig(providerID) }
	}

	return &Dispatcher{
		cfg:       cfg,
		logger:    logger,
		queue:     queue.New(cfg.QueueCapacity),
		pool:      workerpool.New(cfg.WorkerCount, cfg.DrainTimeout),
		tracker:   delivery.New(),
		circuit:   retry.NewManager(func(id string) retry.Config { return policyFor(id).Breaker }),
		policyFor: policyFor,
		providers: make(map[string]notify.Provider),
	}
}

// RegisterProvider adds provider under identifier. Must not be called
// concurrently with an in-flight dispatch's fan-out (spec.md §5's
// shared-resource policy).
func (d *Dispatcher) RegisterProvider(identifier string, provider notify.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[identifier] = provider
}

// UnregisterProvider removes identifier, leaving the dispatcher in its
// pre-registration state for that identifier.
func (d *Dispatcher) UnregisterProvider(identifier string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.providers, identifier)
	d.circuit.Remove(identifier)
}

// Start launches the internal drain loop and worker pool. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.pool.Start(ctx)

	d.wg.Add(1)
	go d.drainLoop()
}

func (d *Dispatcher) drainLoop() {
	defer d.wg.Done()
	for {
		qm, err := d.queue.Dequeue()
		if err != nil {
			return
		}
		d.pool.Submit(func(ctx context.Context) (any, error) {
			d.process(ctx, qm)
			return nil, nil
		})
	}
}

func (d *Dispatcher) process(ctx context.Context, qm queue.QueuedMessage) {
	var wg sync.WaitGroup
	for _, providerID := range qm.Providers {
		d.mu.RLock()
		provider, ok := d.providers[providerID]
		d.mu.RUnlock()
		if !ok {
			d.tracker.Update(qm.DeliveryID, providerID, false, errs.ErrUnknownProvider.Error())
			continue
		}

		wg.Add(1)
		go func(providerID string, provider notify.Provider) {
			defer wg.Done()
			d.callProvider(ctx, qm, providerID, provider)
		}(providerID, provider)
	}
	wg.Wait()
}

func (d *Dispatcher) callProvider(ctx context.Context, qm queue.QueuedMessage, providerID string, provider notify.Provider) {
	if d.cfg.DryRun {
		d.tracker.Update(qm.DeliveryID, providerID, true, "")
		return
	}

	cb := d.circuit.Get(providerID)
	policy := d.policyFor(providerID)

	correlationID := qm.Message.Metadata["correlation_id"]
	if correlationID == "" {
		correlationID = qm.DeliveryID
	}

	data := notify.Data{
		Message: notify.Message{
			Title:    qm.Message.Title,
			Content:  qm.Message.Content,
			Priority: notify.Priority(qm.Priority),
			Tags:     qm.Message.Tags,
			Metadata: qm.Message.Metadata,
		},
		EventType:     notify.EventType(qm.Message.Metadata["event_type"]),
		CorrelationID: correlationID,
	}

	outcome := retry.Call(ctx, cb, policy, func(attemptCtx context.Context) error {
		result, err := provider.SendNotification(attemptCtx, data)
		if err != nil {
			return err
		}
		if !result.Success {
			return errs.FailedToWithDetails("send notification", "provider", providerID,
				fmt.Errorf("%s", result.ErrorMessage))
		}
		return nil
	})

	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}
	d.tracker.Update(qm.DeliveryID, providerID, outcome.Success, errMsg)

	d.logger.Debug("provider call completed",
		logging.NewFields().Component("dispatch").Operation("call_provider").
			Resource("provider", providerID).CorrelationID(qm.DeliveryID).Error(outcome.Err).Args()...)
}

// Dispatch validates providers are all registered, enqueues the message,
// and blocks until the Delivery Tracker reports a terminal status or
// cfg.DispatchTimeout elapses (spec.md §4.9).
func (d *Dispatcher) Dispatch(ctx context.Context, msg notify.Message, providers []string, priority int) (delivery.Result, error) {
	d.mu.RLock()
	for _, p := range providers {
		if _, ok := d.providers[p]; !ok {
			d.mu.RUnlock()
			return delivery.Result{}, errs.FailedToWithDetails("dispatch message", "dispatch", p, errs.ErrUnknownProvider)
		}
	}
	d.mu.RUnlock()

	deliveryID := uuid.NewString()
	d.tracker.Track(deliveryID, providers)

	qm := queue.QueuedMessage{
		Message: queue.Message{
			Title:    msg.Title,
			Content:  msg.Content,
			Priority: int(msg.Priority),
			Tags:     msg.Tags,
			Metadata: msg.Metadata,
		},
		Priority:   priority,
		Providers:  providers,
		DeliveryID: deliveryID,
		CreatedAt:  time.Now(),
	}

	if err := d.queue.Enqueue(qm); err != nil {
		return delivery.Result{}, errs.FailedToWithDetails("enqueue message", "dispatch", deliveryID, err)
	}

	timeout := d.cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		result, ok := d.tracker.Get(deliveryID)
		if ok && result.Completed {
			return result, nil
		}
		if time.Now().After(deadline) {
			result, _ := d.tracker.Get(deliveryID)
			return result, nil
		}
		select {
		case <-ctx.Done():
			d.tracker.MarkCancelled(deliveryID)
			result, _ := d.tracker.Get(deliveryID)
			return result, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stop drains the queue and shuts down the worker pool within the
// dispatcher's drain timeout.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped || !d.started {
		d.stopped = true
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.queue.Shutdown()
	d.wg.Wait()
	d.pool.Stop()
}
