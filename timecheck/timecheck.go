// Package timecheck measures local clock drift against external NTP
// sources. A drifting clock makes the node reject peer timestamps, so
// the scheduler surfaces drift as a warning alert.
package timecheck

import (
	"fmt"
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

// NtpServerSource lists the external time sources, tried in order.
var NtpServerSource = [3]string{
	"pool.ntp.org",        // NTP pool
	"time.google.com",     // Google's NTP server
	"time.cloudflare.com", // Cloudflare's NTP server
}

// DefaultDriftThreshold is the drift above which a warning is raised
// when none is configured.
const DefaultDriftThreshold = 2 * time.Second

// QueryFunc resolves one NTP source to a clock offset; swappable for
// tests.
type QueryFunc func(server string) (time.Duration, error)

func ntpOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Checker probes external time sources for the local clock offset.
type Checker struct {
	mutex     sync.RWMutex
	sources   []string
	threshold time.Duration
	query     QueryFunc

	lastOffset time.Duration
	lastSync   time.Time
	haveOffset bool
}

// NewChecker creates a checker with the default source list. threshold
// is the |offset| beyond which Exceeded reports true.
func NewChecker(threshold time.Duration) *Checker {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}

	checker := &Checker{
		threshold: threshold,
		query:     ntpOffset,
	}
	for _, source := range NtpServerSource {
		checker.sources = append(checker.sources, source)
	}
	return checker
}

// AddSource adds an external time source.
func (c *Checker) AddSource(address string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sources = append(c.sources, address)
}

// Probe queries the sources in order and records the first answer. It
// returns the measured offset; err is non-nil when every source failed.
func (c *Checker) Probe() (time.Duration, error) {
	c.mutex.RLock()
	sources := make([]string, len(c.sources))
	copy(sources, c.sources)
	c.mutex.RUnlock()

	var lastErr error
	for _, server := range sources {
		offset, err := c.query(server)
		if err != nil {
			log.WithFields(logrus.Fields{
				"server": server,
				"error":  err,
			}).Debug("NTP source did not answer")
			lastErr = err
			continue
		}

		c.mutex.Lock()
		c.lastOffset = offset
		c.lastSync = time.Now()
		c.haveOffset = true
		c.mutex.Unlock()

		log.WithFields(logrus.Fields{
			"server": server,
			"offset": offset,
		}).Debug("Clock offset measured")
		return offset, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no NTP sources configured")
	}
	return 0, fmt.Errorf("all NTP sources failed: %w", lastErr)
}

// Offset returns the last measured offset; ok is false before the
// first successful probe.
func (c *Checker) Offset() (time.Duration, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastOffset, c.haveOffset
}

// Exceeded reports whether the last measured |offset| is beyond the
// threshold. It is false before the first successful probe.
func (c *Checker) Exceeded() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.haveOffset {
		return false
	}
	offset := c.lastOffset
	if offset < 0 {
		offset = -offset
	}
	return offset > c.threshold
}
