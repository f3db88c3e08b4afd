package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRunning_NonPositivePID(t *testing.T) {
	assert.False(t, IsRunning(0))
	assert.False(t, IsRunning(-1))
}

func TestIsRunning_SelfProcessIsRunning(t *testing.T) {
	assert.True(t, IsRunning(os.Getpid()))
}

func TestIsRunning_ImplausiblePIDIsNotRunning(t *testing.T) {
	// PID_MAX_LIMIT on Linux is 2^22; anything far beyond is never valid.
	assert.False(t, IsRunning(1<<30))
}

func TestIsRunningWithHint_EmptyHintBehavesLikeIsRunning(t *testing.T) {
	assert.True(t, IsRunningWithHint(os.Getpid(), ""))
}

func TestIsRunningWithHint_NonMatchingHintRejectsLivePID(t *testing.T) {
	assert.False(t, IsRunningWithHint(os.Getpid(), "definitely-not-our-process-name"))
}

func TestIsRunningWithHint_DeadPIDRejected(t *testing.T) {
	assert.False(t, IsRunningWithHint(1<<30, "anything"))
}

func TestValidateWithTimeout_Running(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, ValidateWithTimeout(ctx, os.Getpid()))
}

func TestValidateWithTimeout_ExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, ValidateWithTimeout(ctx, os.Getpid()))
}

func TestValidateWithTimeout_NotRunning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.False(t, ValidateWithTimeout(ctx, 1<<30))
}
