// Package alert derives operator alerts from consecutive refresh-cycle
// observations and keeps them in a bounded ordered log.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
)

var log = logger.Logger

// Severity ranks an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

// String returns the display name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "invalid"
	}
}

// Alert is one immutable log entry.
type Alert struct {
	Severity Severity
	Message  string
	Time     time.Time
}

// DefaultCapacity bounds the log when no capacity is configured.
const DefaultCapacity = 50

// Log is the append-only, capacity-bounded alert log. Oldest entries
// are evicted first. Clearing it is an explicit operator action and
// does not affect alert-generation state.
type Log struct {
	mutex    sync.Mutex
	capacity int
	entries  []Alert
}

// NewLog creates a log holding at most capacity alerts.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds alerts in order, evicting the oldest on overflow.
func (l *Log) Append(alerts ...Alert) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.entries = append(l.entries, alerts...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Alert {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	out := make([]Alert, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained alerts.
func (l *Log) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.entries)
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = nil
}

// Observation is the slice of a refresh cycle the engine inspects.
// Presence flags keep unavailable data from reading as zero.
type Observation struct {
	Live          bool
	HavePeers     bool
	Peers         int
	SyncCompleted bool // falling edge already detected by the stats tracker
	HaveDrift     bool
	DriftOver     bool
	Drift         time.Duration
}

// Engine turns consecutive observations into alerts. All rules are
// evaluated independently; several may fire in one cycle. Threshold
// crossings use true observation history, not the log, so clearing the
// log never replays or suppresses alerts.
type Engine struct {
	peerThreshold int
	prev          *Observation

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// DefaultPeerThreshold is the low-peer warning level when none is
// configured.
const DefaultPeerThreshold = 3

// NewEngine creates an engine warning below peerThreshold peers.
func NewEngine(peerThreshold int) *Engine {
	if peerThreshold <= 0 {
		peerThreshold = DefaultPeerThreshold
	}
	return &Engine{peerThreshold: peerThreshold, now: time.Now}
}

// Observe consumes one cycle's observation and returns the alerts it
// produces against the previous one.
func (e *Engine) Observe(curr Observation) []Alert {
	prev := e.prev
	state := curr
	e.prev = &state

	var alerts []Alert
	emit := func(severity Severity, message string) {
		log.WithFields(logger.Fields{
			"severity": severity,
			"message":  message,
		}).Info("Alert raised")
		alerts = append(alerts, Alert{Severity: severity, Message: message, Time: e.now()})
	}

	// Connectivity transitions.
	if prev != nil {
		if prev.Live && !curr.Live {
			emit(SeverityError, "node not responding")
		}
		if !prev.Live && curr.Live {
			emit(SeveritySuccess, "connection restored")
		}
	}

	// Peer-count threshold crossings need peer data on both sides.
	if prev != nil && prev.HavePeers && curr.HavePeers {
		if curr.Peers < e.peerThreshold && prev.Peers >= e.peerThreshold {
			emit(SeverityWarning, fmt.Sprintf("low peer count: %d", curr.Peers))
		}
		if curr.Peers >= e.peerThreshold && prev.Peers < e.peerThreshold {
			emit(SeveritySuccess, fmt.Sprintf("peer count recovered: %d", curr.Peers))
		}
	}

	// Sync completion is already edge-detected upstream.
	if curr.SyncCompleted {
		emit(SeveritySuccess, "sync completed")
	}

	// Clock drift: rising edge only.
	if curr.HaveDrift && curr.DriftOver {
		if prev == nil || !prev.HaveDrift || !prev.DriftOver {
			emit(SeverityWarning, fmt.Sprintf("system clock drift %s exceeds threshold", curr.Drift.Round(time.Millisecond)))
		}
	}

	return alerts
}
