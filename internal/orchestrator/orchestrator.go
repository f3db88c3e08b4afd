// Package orchestrator ties every subsystem together into the daemon
// described by spec.md §4.10: it owns the lifecycle state machine, runs
// the per-cycle sampling loop, evaluates thresholds, and drives the
// async dispatcher. Adapted from the teacher's top-level service wiring
// in cmd/server (one composition root owning every subsystem's
// lifecycle), generalized from HTTP-request-scoped work to a single
// long-running monitoring cycle.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moverstatus/moverd/internal/config"
	"github.com/moverstatus/moverd/internal/dispatch"
	"github.com/moverstatus/moverd/internal/errs"
	"github.com/moverstatus/moverd/internal/lifecycle"
	"github.com/moverstatus/moverd/internal/logging"
	"github.com/moverstatus/moverd/internal/metrics"
	"github.com/moverstatus/moverd/internal/notify"
	"github.com/moverstatus/moverd/internal/progress"
	"github.com/moverstatus/moverd/internal/retry"
	"github.com/moverstatus/moverd/internal/sampler"
	"github.com/moverstatus/moverd/internal/statusapi"
	"github.com/moverstatus/moverd/internal/threshold"
)

// Snapshot is the read-only view exposed to callers (e.g. statusapi) of
// the orchestrator's current externally-visible state.
type Snapshot struct {
	LifecycleState  lifecycle.MoverState
	ActiveCycleID   string
	Progress        progress.Data
	HasProgress     bool
	DispatcherReady bool
}

// StreamPublisher is satisfied by statusapi.Server; the orchestrator
// broadcasts lifecycle and progress events through it when present.
type StreamPublisher interface {
	Broadcast(evt statusapi.StreamEvent)
}

// Orchestrator is the daemon's composition root (spec.md §4.10).
type Orchestrator struct {
	cfg          config.Config
	sm           *lifecycle.StateMachine
	dispatcher   *dispatch.Dispatcher
	samplerImpl  sampler.Sampler
	metrics      *metrics.Metrics
	logger       *slog.Logger
	stream       StreamPublisher
	allProviders map[string]notify.Provider

	mu                sync.RWMutex
	baseline          *sampler.DiskSample
	engine            *progress.Engine
	activeCycleID     string
	latestProgress    progress.Data
	hasProgress       bool
	notifiedThreshold map[float64]struct{}
	dispatcherReady   bool
	registeredIDs     []string

	readyCh     chan struct{}
	readyOnce   sync.Once
	stopOnce    sync.Once
	cancelCycle context.CancelFunc
	wg          sync.WaitGroup
}

// New returns an Orchestrator. providers is the full candidate set keyed
// by identifier; Start filters it down to those passing validation and
// health check.
func New(cfg config.Config, providers map[string]notify.Provider, samp sampler.Sampler, m *metrics.Metrics, stream StreamPublisher, logger *slog.Logger) *Orchestrator {
	logger = logging.Default(logger)

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.DryRun = cfg.Application.DryRun
	dispatchCfg.PolicyFor = func(providerID string) retry.PolicyConfig {
		policy := retry.DefaultPolicyConfig(providerID)
		policy.MaxAttempts = cfg.Notifications.RetryAttempts
		return policy
	}

	return &Orchestrator{
		cfg:               cfg,
		sm:                lifecycle.New(),
		dispatcher:        dispatch.New(dispatchCfg, logger),
		samplerImpl:       samp,
		metrics:           m,
		logger:            logger,
		stream:            stream,
		allProviders:      providers,
		engine:            progress.NewEngine(cfg.Monitoring.WindowSize, rateSmootherFor(cfg.Monitoring)),
		notifiedThreshold: make(map[float64]struct{}),
		readyCh:           make(chan struct{}),
	}
}

func rateSmootherFor(m config.Monitoring) progress.RateSmoother {
	switch m.RateSmoothing {
	case config.RateSmoothingWeighted:
		return progress.WeightedMovingAverage{}
	case config.RateSmoothingExponential:
		return progress.ExponentialSmoothing{Alpha: m.RateSmoothingAlpha}
	default:
		return progress.SimpleMovingAverage{}
	}
}

// SetStream wires the status-stream publisher after construction, for
// callers (e.g. cmd/moverd) whose StreamPublisher needs the Orchestrator
// itself as its StatusProvider and so cannot exist before New returns.
func (o *Orchestrator) SetStream(stream StreamPublisher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream = stream
}

// Ready returns a channel that closes once Start has registered at
// least one healthy provider and begun its lifecycle loop.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.readyCh
}

// Status returns the orchestrator's current externally-visible state,
// satisfying statusapi.StatusProvider via cmd/moverd's adapter.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, _ := o.sm.Current()
	return Snapshot{
		LifecycleState:  state,
		ActiveCycleID:   o.activeCycleID,
		Progress:        o.latestProgress,
		HasProgress:     o.hasProgress,
		DispatcherReady: o.dispatcherReady,
	}
}

// Start runs the provider health-check gate (spec.md §4.10's start
// sequence), registers every provider that passes, starts the
// dispatcher, signals readiness, then blocks processing lifecycle
// events until ctx is cancelled. RequestShutdown stops sampling and the
// dispatcher but does not by itself end this loop; Start returns only
// once ctx is cancelled.
// errs.ErrAllProvidersFailed is returned if no candidate provider passes
// both ValidateConfig and HealthCheck (spec.md §8 S3).
func (o *Orchestrator) Start(ctx context.Context) error {
	healthy := o.gateProviders(ctx)
	if len(healthy) == 0 {
		return errs.ErrAllProvidersFailed
	}

	ids := make([]string, 0, len(healthy))
	for id, p := range healthy {
		o.dispatcher.RegisterProvider(id, p)
		ids = append(ids, id)
	}

	o.dispatcher.Start(ctx)
	o.mu.Lock()
	o.dispatcherReady = true
	o.registeredIDs = ids
	o.mu.Unlock()

	o.readyOnce.Do(func() { close(o.readyCh) })

	mon := &monitor{
		sm:              o.sm,
		pidFile:         o.cfg.Monitoring.PIDFile,
		checkInterval:   time.Duration(o.cfg.Monitoring.PIDCheckInterval) * time.Second,
		processTimeout:  time.Duration(o.cfg.Monitoring.ProcessTimeout) * time.Second,
		processNameHint: o.cfg.Monitoring.ProcessNameHint,
		logger:          o.logger,
	}

	for evt := range mon.run(ctx) {
		o.handleLifecycleEvent(ctx, evt)
	}

	return nil
}

// gateProviders validates and health-checks every candidate provider
// concurrently (spec.md §4.10's start sequence never specifies ordering
// between providers, and a slow or unreachable provider must not delay
// gating the rest), using errgroup.WithContext to fan the calls out and
// join them back without a bespoke sync.WaitGroup/channel pair.
func (o *Orchestrator) gateProviders(ctx context.Context) map[string]notify.Provider {
	timeout := time.Duration(o.cfg.Monitoring.ProcessTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var mu sync.Mutex
	healthy := make(map[string]notify.Provider)

	g, gctx := errgroup.WithContext(ctx)
	for id, p := range o.allProviders {
		g.Go(func() error {
			if !p.ValidateConfig() {
				o.logger.Warn("provider failed config validation",
					logging.NewFields().Component("orchestrator").Operation("gate_providers").Resource("provider", id).Args()...)
				return nil
			}
			checkCtx, cancel := context.WithTimeout(gctx, timeout)
			status := p.HealthCheck(checkCtx)
			cancel()
			if !status.Healthy {
				o.logger.Warn("provider failed health check",
					logging.NewFields().Component("orchestrator").Operation("gate_providers").Resource("provider", id).Args()...)
				return nil
			}
			mu.Lock()
			healthy[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return healthy
}

// handleLifecycleEvent implements spec.md §4.10's per-event handling
// table: STARTED captures a baseline and begins sampling, {STARTED,
// MONITORING}->COMPLETED tears the cycle down and dispatches a
// completion notification, WAITING and MONITORING require no action of
// their own beyond the transition the state machine already recorded.
func (o *Orchestrator) handleLifecycleEvent(ctx context.Context, evt lifecycle.Event) {
	if o.metrics != nil {
		o.metrics.RecordTransition(evt.PreviousState.String(), evt.NewState.String())
	}
	o.publishLifecycle(evt)

	switch evt.NewState {
	case lifecycle.StateStarted:
		o.onStarted(ctx, evt)
	case lifecycle.StateCompleted:
		o.onCompleted(ctx, evt)
	}
}

func (o *Orchestrator) onStarted(ctx context.Context, evt lifecycle.Event) {
	o.mu.Lock()
	if o.baseline != nil {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	baseline, err := o.samplerImpl.CaptureBaseline(ctx, o.cfg.Monitoring.Paths, o.cfg.Monitoring.ExclusionPaths)
	if err != nil {
		o.logger.Error("baseline capture failed",
			logging.NewFields().Component("orchestrator").Operation("capture_baseline").Error(err).Args()...)
		return
	}

	cycleID := uuid.NewString()

	o.mu.Lock()
	o.baseline = &baseline
	o.activeCycleID = cycleID
	o.engine.Reset()
	o.notifiedThreshold = make(map[float64]struct{})
	o.hasProgress = false
	o.mu.Unlock()

	if _, err := o.sm.Transition(lifecycle.StateStarted, lifecycle.StateMonitoring, evt.PID, "baseline captured"); err != nil {
		o.logger.Warn("started->monitoring transition rejected",
			logging.NewFields().Component("orchestrator").Operation("transition").Error(err).Args()...)
	}

	o.dispatchNotification(ctx, cycleID, notify.EventStarted, notify.Message{
		Title:    "Mover started",
		Content:  "A new move cycle has begun.",
		Priority: notify.PriorityNormal,
	})

	cycleCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelCycle = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runSamplingLoop(cycleCtx, cycleID)
}

func (o *Orchestrator) onCompleted(ctx context.Context, evt lifecycle.Event) {
	o.mu.Lock()
	if o.baseline == nil {
		o.mu.Unlock()
		return
	}
	cycleID := o.activeCycleID
	cancel := o.cancelCycle
	final := o.latestProgress
	hasProgress := o.hasProgress
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	if !hasProgress || final.Percent < 100 {
		final.Percent = 100
	}

	if o.cfg.Notifications.CompletionEnabled {
		o.dispatchNotification(ctx, cycleID, notify.EventComplete, notify.Message{
			Title:    "Mover completed",
			Content:  "The move cycle has finished.",
			Priority: notify.PriorityHigh,
		})
	}

	o.mu.Lock()
	o.baseline = nil
	o.activeCycleID = ""
	o.notifiedThreshold = make(map[float64]struct{})
	o.latestProgress = progress.Data{}
	o.hasProgress = false
	o.cancelCycle = nil
	o.mu.Unlock()
	o.engine.Reset()
}

// runSamplingLoop is the per-cycle sampling task (spec.md §4.10): on
// each sampling_interval tick, sample disk usage, recompute progress,
// evaluate thresholds, and dispatch a progress notification on the
// lowest newly-crossed one.
func (o *Orchestrator) runSamplingLoop(ctx context.Context, cycleID string) {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Monitoring.SamplingInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sampleOnce(ctx, cycleID)
		}
	}
}

func (o *Orchestrator) sampleOnce(ctx context.Context, cycleID string) {
	o.mu.RLock()
	baseline := o.baseline
	o.mu.RUnlock()
	if baseline == nil {
		return
	}

	if o.metrics != nil {
		o.metrics.RecordSamplingIteration()
	}

	sample, err := o.samplerImpl.SampleUsage(ctx, o.cfg.Monitoring.Paths, o.cfg.Monitoring.ExclusionPaths, 0)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordSamplerError()
		}
		o.logger.Warn("sample failed",
			logging.NewFields().Component("orchestrator").Operation("sample").Error(err).Args()...)
		return
	}

	data, err := o.engine.Compute(baseline.BytesUsed, sample)
	if err != nil {
		o.logger.Warn("progress computation failed",
			logging.NewFields().Component("orchestrator").Operation("compute_progress").Error(err).Args()...)
		return
	}

	o.mu.Lock()
	o.latestProgress = data
	o.hasProgress = true
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.UpdateProgress(data.Percent, data.RateBytesPerSecond)
	}
	o.publishProgress(data)

	if !o.cfg.Notifications.ProgressEnabled {
		return
	}

	configured := make(map[float64]struct{}, len(o.cfg.Notifications.Thresholds))
	for _, t := range o.cfg.Notifications.Thresholds {
		configured[t] = struct{}{}
	}

	o.mu.Lock()
	crossed, ok := threshold.Evaluate(data.Percent, configured, o.notifiedThreshold)
	if ok {
		o.notifiedThreshold[crossed] = struct{}{}
	}
	o.mu.Unlock()

	if !ok {
		return
	}

	if o.metrics != nil {
		o.metrics.RecordThresholdCrossing()
	}
	o.dispatchNotification(ctx, cycleID, notify.EventProgress, notify.Message{
		Title:    "Mover progress",
		Content:  "A configured progress threshold has been crossed.",
		Priority: notify.PriorityNormal,
	})
}

func (o *Orchestrator) dispatchNotification(ctx context.Context, cycleID string, eventType notify.EventType, msg notify.Message) {
	msg.Metadata = map[string]string{"event_type": string(eventType), "correlation_id": cycleID}

	o.mu.RLock()
	ready := o.dispatcherReady
	providers := append([]string(nil), o.registeredIDs...)
	o.mu.RUnlock()
	if !ready {
		return
	}

	start := time.Now()
	result, err := o.dispatcher.Dispatch(ctx, msg, providers, int(msg.Priority))
	if err != nil {
		o.logger.Warn("dispatch failed",
			logging.NewFields().Component("orchestrator").Operation("dispatch").CorrelationID(cycleID).Error(err).Args()...)
		return
	}

	if o.metrics != nil {
		o.metrics.RecordDispatchOutcome(string(result.Status), time.Since(start).Seconds())
	}
}

func (o *Orchestrator) publishLifecycle(evt lifecycle.Event) {
	o.mu.RLock()
	stream := o.stream
	o.mu.RUnlock()
	if stream == nil {
		return
	}
	stream.Broadcast(statusapi.StreamEvent{
		Kind:      "lifecycle",
		Payload:   evt,
		Timestamp: evt.Timestamp.Format(time.RFC3339Nano),
	})
}

func (o *Orchestrator) publishProgress(data progress.Data) {
	o.mu.RLock()
	stream := o.stream
	o.mu.RUnlock()
	if stream == nil {
		return
	}
	stream.Broadcast(statusapi.StreamEvent{
		Kind:      "progress",
		Payload:   data,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

// RequestShutdown stops the active sampling task (if any) and the
// dispatcher. Idempotent; safe to call even if Start's lifecycle loop
// has already returned because ctx was cancelled externally.
func (o *Orchestrator) RequestShutdown() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		cancel := o.cancelCycle
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		o.wg.Wait()
		o.dispatcher.Stop()
	})
}
