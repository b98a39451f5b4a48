// Package stats derives sync throughput and ETA from a bounded sliding
// window of progress samples.
package stats

import (
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

// DefaultWindow is the number of samples retained when no window size
// is configured.
const DefaultWindow = 60

// Sample is one immutable sync-progress observation.
type Sample struct {
	Time     time.Time
	Height   int64
	Progress float64
}

// Tracker keeps a capped window of samples and derives blocks/hour and
// ETA from the oldest and newest retained ones. It also detects the
// one-shot sync-completion edge.
type Tracker struct {
	mutex      sync.Mutex
	window     int
	samples    []Sample
	wasSyncing *bool // nil until the first live observation
}

// NewTracker creates a tracker retaining at most window samples.
func NewTracker(window int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{window: window}
}

// Record appends a sample. Cycles without a live node are skipped
// without evicting history.
func (t *Tracker) Record(now time.Time, height int64, progress float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.samples = append(t.samples, Sample{Time: now, Height: height, Progress: progress})
	if len(t.samples) > t.window {
		t.samples = t.samples[len(t.samples)-t.window:]
	}
}

// Len returns the number of retained samples.
func (t *Tracker) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.samples)
}

// BlocksPerHour returns the linear block rate between the oldest and
// newest retained sample. ok is false with fewer than 2 samples or zero
// elapsed time.
func (t *Tracker) BlocksPerHour() (float64, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(t.samples) < 2 {
		return 0, false
	}

	oldest := t.samples[0]
	newest := t.samples[len(t.samples)-1]

	elapsed := newest.Time.Sub(oldest.Time).Hours()
	if elapsed <= 0 {
		return 0, false
	}

	return float64(newest.Height-oldest.Height) / elapsed, true
}

// ETA estimates the time to reach headers at the current rate. ok is
// false when the rate is unavailable or not positive, or when the node
// has already caught up.
func (t *Tracker) ETA(headers int64) (time.Duration, bool) {
	rate, ok := t.BlocksPerHour()
	if !ok || rate <= 0 {
		return 0, false
	}

	t.mutex.Lock()
	height := t.samples[len(t.samples)-1].Height
	t.mutex.Unlock()

	remaining := headers - height
	if remaining <= 0 {
		return 0, false
	}

	hours := float64(remaining) / rate
	return time.Duration(hours * float64(time.Hour)), true
}

// DetectCompletion reports the one-shot falling edge of the
// in-progress flag. It fires exactly once per true-to-false transition;
// repeated false observations do not re-fire.
func (t *Tracker) DetectCompletion(syncing bool) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	completed := t.wasSyncing != nil && *t.wasSyncing && !syncing
	state := syncing
	t.wasSyncing = &state

	if completed {
		log.WithFields(logrus.Fields{
			"samples": len(t.samples),
		}).Info("Initial block download completed")
	}
	return completed
}
