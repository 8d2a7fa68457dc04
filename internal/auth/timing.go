package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig configures the failure-path delay applied to credential and
// factor verification so that "user not found", "wrong password" and "wrong
// code" take indistinguishable time.
type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

// TimingDelay applies a randomized minimum duration to auth operations.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

func cryptoRandIntn(max int) int {
	if max <= 0 {
		return 0
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(buf) % uint64(max))
}

func (td *TimingDelay) target() time.Duration {
	base := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	random := time.Duration(cryptoRandIntn(td.config.RandomDelayMs)) * time.Millisecond
	return base + random
}

// Wait sleeps for the configured delay. Successful operations skip the
// delay unless DelayOnSuccess is set.
func (td *TimingDelay) Wait(success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	time.Sleep(td.target())
}

// WaitFrom sleeps only for the remainder of the target delay, counted from
// startTime, so work already done is not penalized twice.
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	target := td.target()
	if elapsed := time.Since(startTime); elapsed < target {
		time.Sleep(target - elapsed)
	}
}
