package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_TrackStartsPending(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"discord", "slack"})

	result, ok := tr.Get("d1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, result.Status)
	assert.False(t, result.Completed)
}

func TestTracker_InProgressWhileIncomplete(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"discord", "slack"})
	tr.Update("d1", "discord", true, "")

	result, _ := tr.Get("d1")
	assert.Equal(t, StatusInProgress, result.Status)
}

func TestTracker_SuccessWhenAllSucceed(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"discord", "slack"})
	tr.Update("d1", "discord", true, "")
	tr.Update("d1", "slack", true, "")

	result, _ := tr.Get("d1")
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.Completed)
	assert.False(t, result.CompletedAt.IsZero())
}

func TestTracker_FailedWhenAllFail(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"discord", "slack"})
	tr.Update("d1", "discord", false, "timeout")
	tr.Update("d1", "slack", false, "timeout")

	result, _ := tr.Get("d1")
	assert.Equal(t, StatusFailed, result.Status)
}

func TestTracker_PartialWhenMixed_S4Scenario(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"A", "B"})
	tr.Update("d1", "A", true, "")
	tr.Update("d1", "B", false, "permanent failure")

	result, _ := tr.Get("d1")
	assert.Equal(t, StatusPartial, result.Status)
	assert.True(t, result.Results["A"].Success)
	assert.False(t, result.Results["B"].Success)
	assert.True(t, result.Completed)
}

func TestTracker_UnknownDeliveryID(t *testing.T) {
	tr := New()
	_, ok := tr.Get("missing")
	assert.False(t, ok)
}

func TestTracker_MarkCancelled(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"A", "B"})
	tr.Update("d1", "A", true, "")
	tr.MarkCancelled("d1")

	result, _ := tr.Get("d1")
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, result.Completed)
	assert.Equal(t, "cancelled", result.Results["B"].Error)
}

func TestTracker_SnapshotIsIndependentCopy(t *testing.T) {
	tr := New()
	tr.Track("d1", []string{"A"})
	result, _ := tr.Get("d1")
	result.Providers[0] = "mutated"

	again, _ := tr.Get("d1")
	assert.Equal(t, "A", again.Providers[0])
}
