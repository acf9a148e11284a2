// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTTrackerEnforcesMinimumSampleSize(t *testing.T) {
	tr := NewRTTTracker(1)
	assert.Len(t, tr.samples, rttMinSamples)
}

func TestRTTTrackerWithholdsStatsBelowMinimumSamples(t *testing.T) {
	tr := NewRTTTracker(rttMinSamples)
	for i := 0; i < rttMinSamples-1; i++ {
		tr.AddSample(10 * time.Millisecond)
	}
	assert.Zero(t, tr.Min())
	assert.Zero(t, tr.P90())
	assert.NotZero(t, tr.Average(), "average reports from the first sample, unlike min/p90")
}

func TestRTTTrackerReportsOnceMinimumSamplesReached(t *testing.T) {
	tr := NewRTTTracker(rttMinSamples)
	for i := 0; i < rttMinSamples; i++ {
		tr.AddSample(10 * time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, tr.Min())
	assert.Equal(t, 10*time.Millisecond, tr.P90())
}

func TestRTTTrackerAverageIsEWMA(t *testing.T) {
	tr := NewRTTTracker(rttMinSamples)
	tr.AddSample(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, tr.Average())

	tr.AddSample(0)
	avg := tr.Average()
	assert.Less(t, avg, 100*time.Millisecond)
	assert.Greater(t, avg, time.Duration(0))
}

func TestRTTTrackerMinTracksLowestInWindow(t *testing.T) {
	tr := NewRTTTracker(rttMinSamples)
	for i := 0; i < rttMinSamples; i++ {
		tr.AddSample(50 * time.Millisecond)
	}
	tr.AddSample(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, tr.Min())
}
