package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moverstatus/moverd/internal/delivery"
	"github.com/moverstatus/moverd/internal/notify"
	"github.com/moverstatus/moverd/internal/retry"
)

type fakeProvider struct {
	calls    int32
	behavior func(ctx context.Context, data notify.Data) (notify.SendResult, error)
}

func (f *fakeProvider) SendNotification(ctx context.Context, data notify.Data) (notify.SendResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.behavior(ctx, data)
}
func (f *fakeProvider) ValidateConfig() bool { return true }
func (f *fakeProvider) HealthCheck(ctx context.Context) notify.HealthStatus {
	return notify.HealthStatus{Healthy: true}
}

func alwaysSucceeds() *fakeProvider {
	return &fakeProvider{behavior: func(ctx context.Context, data notify.Data) (notify.SendResult, error) {
		return notify.SendResult{Success: true}, nil
	}}
}

func alwaysFails() *fakeProvider {
	return &fakeProvider{behavior: func(ctx context.Context, data notify.Data) (notify.SendResult, error) {
		return notify.SendResult{Success: false, ErrorMessage: "boom"}, nil
	}}
}

func fastPolicy(providerID string) retry.PolicyConfig {
	cfg := retry.DefaultPolicyConfig(providerID)
	cfg.BackoffFactor = time.Millisecond
	cfg.MaxAttempts = 1
	return cfg
}

func newTestDispatcher() *Dispatcher {
	cfg := DefaultConfig()
	cfg.DispatchTimeout = 2 * time.Second
	cfg.PolicyFor = fastPolicy
	return New(cfg, nil)
}

func TestDispatch_SingleProviderSuccess(t *testing.T) {
	d := newTestDispatcher()
	provider := alwaysSucceeds()
	d.RegisterProvider("discord", provider)
	d.Start(context.Background())
	defer d.Stop()

	result, err := d.Dispatch(context.Background(), notify.Message{Title: "hi"}, []string{"discord"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSuccess, result.Status)
	assert.EqualValues(t, 1, provider.calls)
}

func TestDispatch_UnknownProviderRejected(t *testing.T) {
	d := newTestDispatcher()
	d.Start(context.Background())
	defer d.Stop()

	_, err := d.Dispatch(context.Background(), notify.Message{}, []string{"nope"}, 0)
	require.Error(t, err)
}

func TestDispatch_PartialResult_S4Scenario(t *testing.T) {
	d := newTestDispatcher()
	a := alwaysSucceeds()
	b := alwaysFails()
	d.RegisterProvider("A", a)
	d.RegisterProvider("B", b)
	d.Start(context.Background())
	defer d.Stop()

	result, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A", "B"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPartial, result.Status)
	assert.True(t, result.Results["A"].Success)
	assert.False(t, result.Results["B"].Success)
}

func TestDispatch_AllProvidersFail(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterProvider("A", alwaysFails())
	d.Start(context.Background())
	defer d.Stop()

	result, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusFailed, result.Status)
}

func TestDispatch_DryRunSkipsProviderCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	cfg.DispatchTimeout = time.Second
	d := New(cfg, nil)
	provider := alwaysFails() // would fail if actually called
	d.RegisterProvider("A", provider)
	d.Start(context.Background())
	defer d.Stop()

	result, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSuccess, result.Status)
	assert.EqualValues(t, 0, provider.calls)
}

func TestUnregisterProvider_RestoresPreRegistrationState(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterProvider("A", alwaysSucceeds())
	d.UnregisterProvider("A")
	d.Start(context.Background())
	defer d.Stop()

	_, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
	assert.Error(t, err)
}

func TestDispatch_PolicyForBreakerConfigTripsCircuit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchTimeout = 2 * time.Second
	cfg.PolicyFor = func(providerID string) retry.PolicyConfig {
		policy := retry.DefaultPolicyConfig(providerID)
		policy.BackoffFactor = time.Millisecond
		policy.MaxAttempts = 1
		policy.Breaker.FailureThreshold = 1
		return policy
	}
	d := New(cfg, nil)
	provider := alwaysFails()
	d.RegisterProvider("A", provider)
	d.Start(context.Background())
	defer d.Stop()

	// First dispatch trips the breaker (FailureThreshold: 1).
	result, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusFailed, result.Status)
	assert.EqualValues(t, 1, provider.calls)

	// Second dispatch must be rejected by the now-open breaker rather
	// than reaching the provider at all.
	result, err = d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusFailed, result.Status)
	assert.EqualValues(t, 1, provider.calls, "breaker should have skipped the second call")
	assert.Contains(t, result.Results["A"].Error, "circuit breaker is open")
}

func TestDispatch_ConcurrentDispatchesEachGetOwnDeliveryID(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterProvider("A", alwaysSucceeds())
	d.Start(context.Background())
	defer d.Stop()

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := d.Dispatch(context.Background(), notify.Message{}, []string{"A"}, 0)
			require.NoError(t, err)
			ids[i] = result.DeliveryID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, id := range ids {
		require.NotEmpty(t, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 5, "every dispatch should get a distinct delivery id")
}
