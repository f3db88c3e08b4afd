package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("discord"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 3
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		gen, ok := cb.Allow()
		require.True(t, ok)
		cb.ReportFailure(gen)
	}

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenRejectsCalls(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker(cfg)

	gen, _ := cb.Allow()
	cb.ReportFailure(gen)
	require.Equal(t, StateOpen, cb.State())

	_, ok := cb.Allow()
	assert.False(t, ok)
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 20 * time.Millisecond
	cb := NewCircuitBreaker(cfg)

	gen, _ := cb.Allow()
	cb.ReportFailure(gen)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := NewCircuitBreaker(cfg)

	gen, _ := cb.Allow()
	cb.ReportFailure(gen)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	probeGen, ok := cb.Allow()
	require.True(t, ok)
	cb.ReportSuccess(probeGen)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := NewCircuitBreaker(cfg)

	gen, _ := cb.Allow()
	cb.ReportFailure(gen)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	probeGen, ok := cb.Allow()
	require.True(t, ok)
	cb.ReportFailure(probeGen)

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StaleGenerationIgnored(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 5
	cb := NewCircuitBreaker(cfg)

	staleGen, ok := cb.Allow()
	require.True(t, ok)

	// force a generation bump via enough failures to trip
	for i := 0; i < 5; i++ {
		g, _ := cb.Allow()
		cb.ReportFailure(g)
	}
	require.Equal(t, StateOpen, cb.State())

	// reporting against the stale generation must not affect current counts
	cb.ReportSuccess(staleGen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("discord")
	cfg.FailureThreshold = 3
	cb := NewCircuitBreaker(cfg)

	g1, _ := cb.Allow()
	cb.ReportFailure(g1)
	g2, _ := cb.Allow()
	cb.ReportFailure(g2)
	g3, _ := cb.Allow()
	cb.ReportSuccess(g3)

	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestManager_GetCreatesLazily(t *testing.T) {
	m := NewManager(nil)
	cb1 := m.Get("discord")
	cb2 := m.Get("discord")
	assert.Same(t, cb1, cb2)

	cb3 := m.Get("slack")
	assert.NotSame(t, cb1, cb3)
}

func TestManager_Remove(t *testing.T) {
	m := NewManager(nil)
	cb1 := m.Get("discord")
	m.Remove("discord")
	cb2 := m.Get("discord")
	assert.NotSame(t, cb1, cb2)
}
