package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int64) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func TestBlocksPerHourUnavailableWithFewSamples(t *testing.T) {
	tracker := NewTracker(60)

	_, ok := tracker.BlocksPerHour()
	assert.False(t, ok, "rate is unavailable with 0 samples")

	tracker.Record(at(0), 100, 0.5)
	_, ok = tracker.BlocksPerHour()
	assert.False(t, ok, "rate is unavailable with 1 sample")
}

func TestBlocksPerHourLinearRate(t *testing.T) {
	tracker := NewTracker(60)
	tracker.Record(at(0), 100, 0.5)
	tracker.Record(at(3600), 160, 0.6)

	rate, ok := tracker.BlocksPerHour()
	require.True(t, ok)
	assert.InDelta(t, 60.0, rate, 1e-9, "60 blocks over one hour is 60 blocks/hour")
}

func TestBlocksPerHourZeroElapsed(t *testing.T) {
	tracker := NewTracker(60)
	tracker.Record(at(0), 100, 0.5)
	tracker.Record(at(0), 160, 0.6)

	_, ok := tracker.BlocksPerHour()
	assert.False(t, ok, "identical timestamps yield no rate")
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	tracker := NewTracker(5)
	for i := int64(0); i < 8; i++ {
		tracker.Record(at(i*60), 100+i, 0.5)
	}

	assert.Equal(t, 5, tracker.Len(), "window is capped")

	// Oldest retained sample is now i=3: rate spans samples 3..7.
	rate, ok := tracker.BlocksPerHour()
	require.True(t, ok)
	assert.InDelta(t, 15.0, rate, 1e-9, "4 blocks over 4 minutes is 15 blocks/hour")
}

func TestETA(t *testing.T) {
	tracker := NewTracker(60)
	tracker.Record(at(0), 100, 0.5)
	tracker.Record(at(3600), 160, 0.6)

	eta, ok := tracker.ETA(220)
	require.True(t, ok)
	assert.Equal(t, time.Hour, eta, "60 remaining blocks at 60 blocks/hour is one hour")

	_, ok = tracker.ETA(160)
	assert.False(t, ok, "caught up means no ETA")

	_, ok = tracker.ETA(100)
	assert.False(t, ok, "headers behind height means no ETA")
}

func TestETAUnavailableWithoutRate(t *testing.T) {
	tracker := NewTracker(60)
	tracker.Record(at(0), 100, 0.5)

	_, ok := tracker.ETA(1000)
	assert.False(t, ok)
}

func TestETAUnavailableWithNegativeRate(t *testing.T) {
	// Height can regress across a reorg or reindex.
	tracker := NewTracker(60)
	tracker.Record(at(0), 200, 0.5)
	tracker.Record(at(3600), 100, 0.5)

	_, ok := tracker.ETA(1000)
	assert.False(t, ok, "non-positive rate means no ETA")
}

func TestDetectCompletionFiresExactlyOnce(t *testing.T) {
	tracker := NewTracker(60)

	assert.False(t, tracker.DetectCompletion(true), "first observation never completes")
	assert.False(t, tracker.DetectCompletion(true))
	assert.True(t, tracker.DetectCompletion(false), "the true-to-false edge fires once")

	// Held false for many cycles: no re-fire.
	for i := 0; i < 10; i++ {
		assert.False(t, tracker.DetectCompletion(false), "repeated false must not re-fire")
	}

	// A second full sync cycle fires again.
	assert.False(t, tracker.DetectCompletion(true))
	assert.True(t, tracker.DetectCompletion(false))
}

func TestDetectCompletionInitialFalseDoesNotFire(t *testing.T) {
	tracker := NewTracker(60)
	assert.False(t, tracker.DetectCompletion(false), "starting already synced is not a completion")
	assert.False(t, tracker.DetectCompletion(false))
}
