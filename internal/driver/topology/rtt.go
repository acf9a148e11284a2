// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const (
	rttAlpha      = 0.2
	rttMinSamples = 10
)

// RTTTracker keeps a fixed-size ring of handshake round-trip-time
// samples and derives an exponentially-weighted average, a minimum,
// and a 90th-percentile estimate, grounded on the teacher's
// topology/rtt_monitor.go sampling algorithm and its use of
// github.com/montanaflynn/stats for the percentile computation.
type RTTTracker struct {
	mu         sync.RWMutex
	samples    []time.Duration
	offset     int
	minRTT     time.Duration
	rtt90      time.Duration
	averageRTT time.Duration
	haveAvg    bool
}

// NewRTTTracker allocates a tracker holding numSamples RTT
// observations.
func NewRTTTracker(numSamples int) *RTTTracker {
	if numSamples < rttMinSamples {
		numSamples = rttMinSamples
	}
	return &RTTTracker{samples: make([]time.Duration, numSamples)}
}

// AddSample records one handshake's RTT, grounded on HelloRTT
// produced by Initialize.
func (t *RTTTracker) AddSample(rtt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.offset] = rtt
	t.offset = (t.offset + 1) % len(t.samples)

	t.minRTT = minDuration(t.samples, rttMinSamples)
	t.rtt90 = percentileDuration(90.0, t.samples, rttMinSamples)

	if !t.haveAvg {
		t.averageRTT = rtt
		t.haveAvg = true
		return
	}
	t.averageRTT = time.Duration(rttAlpha*float64(rtt) + (1-rttAlpha)*float64(t.averageRTT))
}

// Average returns the exponentially-weighted moving average RTT.
func (t *RTTTracker) Average() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.averageRTT
}

// Min returns the minimum observed RTT over the current window.
func (t *RTTTracker) Min() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minRTT
}

// P90 returns the 90th-percentile observed RTT over the current
// window.
func (t *RTTTracker) P90() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rtt90
}

func minDuration(samples []time.Duration, minCount int) time.Duration {
	count := 0
	m := time.Duration(math.MaxInt64)
	for _, d := range samples {
		if d > 0 {
			count++
			if d < m {
				m = d
			}
		}
	}
	if count < minCount {
		return 0
	}
	return m
}

func percentileDuration(perc float64, samples []time.Duration, minCount int) time.Duration {
	floats := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s > 0 {
			floats = append(floats, float64(s))
		}
	}
	if len(floats) < minCount {
		return 0
	}
	p, err := stats.Percentile(floats, perc)
	if err != nil {
		panic(fmt.Errorf("topology: computing %.0fth percentile RTT: %w", perc, err))
	}
	return time.Duration(p)
}
