// Package control owns the node-process lifecycle state machine. It
// detects liveness from the OS process table, so a node that is running
// but not yet accepting RPC reports Starting, never Stopped.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

// State is the controller's view of the daemon lifecycle.
type State int

const (
	// StateStopped means no matching process exists.
	StateStopped State = iota
	// StateStarting means the process exists but has not yet answered RPC.
	StateStarting
	// StateRunning means the process exists and has answered RPC.
	StateRunning
	// StateStopping means a stop was issued and the process has not yet exited.
	StateStopping
	// StateUnknown means the last liveness probe could not be completed.
	// Unknown is never conflated with Stopped.
	StateUnknown
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

var (
	// ErrAlreadyRunning rejects a start while the daemon is up.
	ErrAlreadyRunning = errors.New("node is already running")
	// ErrNotRunning rejects a stop while the daemon is down.
	ErrNotRunning = errors.New("node is not running")
	// ErrOperationInProgress rejects overlapping lifecycle operations.
	ErrOperationInProgress = errors.New("another lifecycle operation is in progress")
)

// RestartSettleDelay separates the stop and start halves of a restart,
// giving the daemon time to release its lock files.
const RestartSettleDelay = 3 * time.Second

// StopCaller is the slice of the RPC gateway the controller needs.
type StopCaller interface {
	Stop(ctx context.Context) (string, error)
}

// Controller drives the daemon lifecycle. All methods are safe for
// concurrent use; overlapping start/stop/restart requests are rejected
// with ErrOperationInProgress rather than queued.
type Controller struct {
	mutex      sync.Mutex
	state      State
	opInFlight bool

	daemonPath string
	fdFloor    uint64

	table   ProcessTable
	spawner Spawner
	stopper StopCaller

	// raiseLimit is swappable for tests.
	raiseLimit func(uint64) error
	// settle is swappable for tests; sleeps between restart halves.
	settle func(ctx context.Context, d time.Duration) error
}

// New creates a controller for the daemon at daemonPath. fdFloor is the
// open-file-descriptor floor raised before each start.
func New(daemonPath string, fdFloor uint64, table ProcessTable, spawner Spawner, stopper StopCaller) *Controller {
	log.WithFields(logrus.Fields{
		"daemonPath": daemonPath,
		"fdFloor":    fdFloor,
	}).Debug("Creating node controller")

	return &Controller{
		state:      StateUnknown,
		daemonPath: daemonPath,
		fdFloor:    fdFloor,
		table:      table,
		spawner:    spawner,
		stopper:    stopper,
		raiseLimit: raiseFDLimit,
		settle:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Probe reconciles the state machine against the process table. It is
// called on the liveness cadence and after lifecycle operations.
func (c *Controller) Probe() State {
	_, found, err := c.table.FindDaemon(c.daemonPath)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		if c.state != StateUnknown {
			log.WithError(err).Warn("Liveness probe failed, lifecycle state unknown")
		}
		c.state = StateUnknown
		return c.state
	}

	if !found {
		// A definite absence: the process has exited.
		if c.state != StateStopped {
			log.WithField("previous", c.state).Info("Daemon process no longer present")
		}
		c.state = StateStopped
		return c.state
	}

	// Process is present. Recover concrete state from Unknown, and move
	// Stopped to Starting; Starting/Running/Stopping keep their meaning.
	switch c.state {
	case StateStopped, StateUnknown:
		c.state = StateStarting
	}
	return c.state
}

// MarkResponsive promotes the state to Running after a successful RPC
// round-trip. RPC success during Stopping does not resurrect the state:
// the daemon keeps answering while it shuts down.
func (c *Controller) MarkResponsive() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case StateStarting, StateUnknown:
		log.WithField("previous", c.state).Info("Daemon answering RPC, now running")
		c.state = StateRunning
	}
}

// Start launches the daemon. It fails fast with ErrAlreadyRunning when
// the daemon is up, and with ErrOperationInProgress while another
// lifecycle operation runs. warn carries a non-fatal resource-limit
// failure; the start still proceeded.
func (c *Controller) Start(ctx context.Context) (warn error, err error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	return c.start(ctx)
}

// start assumes the operation guard is held.
func (c *Controller) start(ctx context.Context) (warn error, err error) {
	c.mutex.Lock()
	switch c.state {
	case StateRunning, StateStarting:
		c.mutex.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.mutex.Unlock()

	// Raising the limit failing is a warning, never a rejection.
	if limitErr := c.raiseLimit(c.fdFloor); limitErr != nil {
		log.WithError(limitErr).Warn("Could not raise open-file limit before start")
		warn = fmt.Errorf("resource limit: %w", limitErr)
	}

	if spawnErr := c.spawner.Spawn(ctx, c.daemonPath, "-daemon"); spawnErr != nil {
		log.WithError(spawnErr).Error("Daemon start failed")
		return warn, spawnErr
	}

	c.mutex.Lock()
	c.state = StateStarting
	c.mutex.Unlock()

	log.Info("Daemon start issued")
	return warn, nil
}

// Stop shuts the daemon down via RPC. It fails fast with ErrNotRunning
// when the daemon is down. The caller is responsible for operator
// confirmation; Stop acts unconditionally once invoked.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	return c.stop(ctx)
}

// stop assumes the operation guard is held.
func (c *Controller) stop(ctx context.Context) error {
	c.mutex.Lock()
	if c.state == StateStopped {
		c.mutex.Unlock()
		return ErrNotRunning
	}
	c.state = StateStopping
	c.mutex.Unlock()

	msg, err := c.stopper.Stop(ctx)
	if err != nil {
		log.WithError(err).Error("Daemon stop call failed")
		// Leave Stopping; the next probe reconciles against the table.
		return fmt.Errorf("stop call failed: %w", err)
	}

	log.WithField("response", msg).Info("Daemon stop issued")
	return nil
}

// Restart stops then starts the daemon with a settle delay in between.
// A restart in progress suppresses overlapping start/stop requests.
func (c *Controller) Restart(ctx context.Context) (warn error, err error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	// Only stop when something is there to stop.
	if c.State() != StateStopped {
		if err := c.stop(ctx); err != nil {
			return nil, err
		}
		if err := c.settle(ctx, RestartSettleDelay); err != nil {
			return nil, err
		}
		// The process may need a few more probes to leave the table;
		// reconcile so start does not see a phantom Running.
		c.Probe()
	}

	return c.start(ctx)
}

// begin acquires the single-operation guard.
func (c *Controller) begin() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.opInFlight {
		return ErrOperationInProgress
	}
	c.opInFlight = true
	return nil
}

func (c *Controller) end() {
	c.mutex.Lock()
	c.opInFlight = false
	c.mutex.Unlock()
}
