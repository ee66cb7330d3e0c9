package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig sets the floor that failed logins are padded to
type TimingConfig struct {
	BaseDelay   time.Duration
	RandomDelay time.Duration // upper bound of the jitter added to BaseDelay
}

// TimingDelay makes "unknown user", "no PIN" and "wrong PIN" take roughly the
// same time
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, sleep: time.Sleep}
}

// WaitFrom sleeps until at least the target delay has passed since start.
// Successful operations return immediately.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success {
		return
	}
	if remaining := td.target() - time.Since(start); remaining > 0 {
		td.sleep(remaining)
	}
}

func (td *TimingDelay) target() time.Duration {
	return td.config.BaseDelay + jitter(td.config.RandomDelay)
}

// jitter returns a crypto-random duration in [0, max)
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}
