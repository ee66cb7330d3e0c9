package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recordingTiming(config TimingConfig) (*TimingDelay, *time.Duration) {
	var slept time.Duration
	td := NewTimingDelay(config)
	td.sleep = func(d time.Duration) { slept += d }
	return td, &slept
}

func TestTimingDelay_WaitFrom_OnFailure(t *testing.T) {
	td, slept := recordingTiming(TimingConfig{BaseDelay: 300 * time.Millisecond, RandomDelay: 100 * time.Millisecond})

	td.WaitFrom(time.Now(), false)

	assert.Greater(t, *slept, 250*time.Millisecond)
	assert.LessOrEqual(t, *slept, 400*time.Millisecond)
}

func TestTimingDelay_WaitFrom_SuccessDoesNotWait(t *testing.T) {
	td, slept := recordingTiming(TimingConfig{BaseDelay: 300 * time.Millisecond})

	td.WaitFrom(time.Now(), true)

	assert.Zero(t, *slept)
}

func TestTimingDelay_WaitFrom_AdjustsForElapsedTime(t *testing.T) {
	td, slept := recordingTiming(TimingConfig{BaseDelay: 300 * time.Millisecond})

	td.WaitFrom(time.Now().Add(-200*time.Millisecond), false)

	assert.Greater(t, *slept, 50*time.Millisecond)
	assert.LessOrEqual(t, *slept, 100*time.Millisecond)
}

func TestTimingDelay_WaitFrom_NoWaitIfAlreadyExceeded(t *testing.T) {
	td, slept := recordingTiming(TimingConfig{BaseDelay: 50 * time.Millisecond})

	td.WaitFrom(time.Now().Add(-time.Second), false)

	assert.Zero(t, *slept)
}

func TestTimingDelay_RealSleep(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelay: 30 * time.Millisecond})
	start := time.Now()

	td.WaitFrom(start, false)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestJitter(t *testing.T) {
	assert.Zero(t, jitter(0))
	for i := 0; i < 100; i++ {
		d := jitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond)
	}
}
