// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package libprof // import "github.com/callscope/callscope/libprof"

import (
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// Void is an empty placeholder type for sets and signal channels.
type Void struct{}

// AddJitter adds +/- jitter (jitter is [0..1]) to baseDuration.
func AddJitter(baseDuration time.Duration, jitter float64) time.Duration {
	if jitter < 0.0 || jitter > 1.0 {
		log.Errorf("Jitter (%f) out of range [0..1].", jitter)
		return baseDuration
	}
	return time.Duration((1 + jitter - 2*jitter*rand.Float64()) * float64(baseDuration))
}

// DurationToMillis converts a duration to fractional milliseconds, the unit
// used throughout the report document.
func DurationToMillis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
