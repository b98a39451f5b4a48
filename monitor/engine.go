// Package monitor runs the refresh scheduler. A single dispatch loop
// owns all mutable monitoring state; fast-tier RPC calls fan out
// concurrently each cycle and the assembled Snapshot is published to
// subscribers whether or not any call succeeded.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/GabrielVF/NodePulse/alert"
	"github.com/GabrielVF/NodePulse/config"
	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/logger"
	"github.com/GabrielVF/NodePulse/nodeconf"
	"github.com/GabrielVF/NodePulse/rpc"
	"github.com/GabrielVF/NodePulse/stats"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

// syncedProgress is the verification progress at which the node is
// treated as caught up. The daemon reports slightly below 1.0 at tip.
const syncedProgress = 0.9999

// Gateway is the slice of the RPC client the scheduler calls.
type Gateway interface {
	GetBlockchainInfo(ctx context.Context) (*rpc.BlockchainInfo, error)
	GetNetworkInfo(ctx context.Context) (*rpc.NetworkInfo, error)
	GetPeerInfo(ctx context.Context) ([]rpc.PeerInfo, error)
	GetMempoolInfo(ctx context.Context) (*rpc.MempoolInfo, error)
	EstimateSmartFee(ctx context.Context, confTarget int) (*rpc.FeeEstimate, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlock(ctx context.Context, hash string) (*rpc.Block, error)
	Uptime(ctx context.Context) (int64, error)
}

// Lifecycle is the slice of the node controller the scheduler drives.
type Lifecycle interface {
	State() control.State
	Probe() control.State
	MarkResponsive()
	Start(ctx context.Context) (warn error, err error)
	Stop(ctx context.Context) error
	Restart(ctx context.Context) (warn error, err error)
}

// ClockProbe is the slice of the drift checker the slow tier polls.
type ClockProbe interface {
	Probe() (time.Duration, error)
	Offset() (time.Duration, bool)
	Exceeded() bool
}

type commandKind int

const (
	cmdRefreshNow commandKind = iota
	cmdStartNode
	cmdStopNode
	cmdRestartNode
	cmdStageChange
	cmdApplyChanges
	cmdResetChanges
	cmdReloadConfig
	cmdClearAlerts
)

// command is one queued operator request. reply is buffered so the
// loop never blocks on a caller that has gone away.
type command struct {
	kind       commandKind
	key, value string
	reply      chan error
}

// Engine is the refresh scheduler. Construct with NewEngine, then call
// Run exactly once; operator methods may be called from any goroutine
// and are queued into the dispatch loop.
type Engine struct {
	cfg       *config.Config
	gateway   Gateway
	lifecycle Lifecycle
	conf      *nodeconf.Manager
	tracker   *stats.Tracker
	rules     *alert.Engine
	alerts    *alert.Log
	clock     ClockProbe

	commands chan command

	subMutex    sync.Mutex
	subscribers []chan Snapshot

	// Everything below is owned by the dispatch loop.
	seq          uint64
	lastSnap     Snapshot
	lastSlow     time.Time
	recentBlocks []rpc.Block
	blocksAsOf   time.Time
	haveOffset   bool
	clockOffset  time.Duration
	offsetAsOf   time.Time
}

// NewEngine wires the scheduler. conf may be shared with nothing else:
// the loop is its only writer once Run starts.
func NewEngine(cfg *config.Config, gateway Gateway, lifecycle Lifecycle, conf *nodeconf.Manager, clock ClockProbe) *Engine {
	log.WithFields(logrus.Fields{
		"fastInterval":     cfg.Refresh.FastInterval,
		"slowInterval":     cfg.Refresh.SlowInterval,
		"livenessInterval": cfg.Refresh.LivenessInterval,
	}).Debug("Creating refresh scheduler")

	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		lifecycle: lifecycle,
		conf:      conf,
		tracker:   stats.NewTracker(cfg.Refresh.StatsWindow),
		rules:     alert.NewEngine(cfg.Alerts.PeerThreshold),
		alerts:    alert.NewLog(cfg.Alerts.LogCapacity),
		clock:     clock,
		commands:  make(chan command, 16),
	}
}

// Subscribe registers a consumer. The channel carries the latest
// Snapshot; a slow consumer sees intermediate snapshots dropped, never
// a stalled engine.
func (e *Engine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	e.subMutex.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subMutex.Unlock()
	return ch
}

// Alerts returns a read-only copy of the alert log, oldest first.
func (e *Engine) Alerts() []alert.Alert {
	return e.alerts.Entries()
}

// Conf exposes the config manager for read paths (option catalogue,
// current values). Mutations must go through the queued commands.
func (e *Engine) Conf() *nodeconf.Manager {
	return e.conf
}

// Run drives the dispatch loop until ctx is cancelled. The first cycle
// runs immediately so subscribers never wait a full interval for data.
func (e *Engine) Run(ctx context.Context) error {
	fast := time.NewTicker(e.cfg.Refresh.FastInterval)
	defer fast.Stop()
	liveness := time.NewTicker(e.cfg.Refresh.LivenessInterval)
	defer liveness.Stop()

	log.Info("Refresh scheduler started")
	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Refresh scheduler stopping")
			return ctx.Err()
		case <-fast.C:
			e.runCycle(ctx)
		case <-liveness.C:
			// Process-table-only probe between data cycles; publishes the
			// lifecycle change without fresh RPC data.
			before := e.lifecycle.State()
			after := e.lifecycle.Probe()
			if after != before {
				e.republish()
			}
		case cmd := <-e.commands:
			e.handle(ctx, cmd)
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdRefreshNow:
		e.runCycle(ctx)
	case cmdStartNode:
		err = e.startNode(ctx)
	case cmdStopNode:
		err = e.stopNode(ctx)
	case cmdRestartNode:
		err = e.restartNode(ctx)
	case cmdStageChange:
		err = e.conf.StageChange(cmd.key, cmd.value)
	case cmdApplyChanges:
		var backup string
		backup, err = e.conf.Apply()
		if err == nil && backup != "" {
			e.alerts.Append(alert.Alert{
				Severity: alert.SeverityInfo,
				Message:  "configuration applied, restart the node to take effect",
				Time:     time.Now(),
			})
		}
	case cmdResetChanges:
		e.conf.Reset()
	case cmdReloadConfig:
		err = e.conf.Reload()
	case cmdClearAlerts:
		e.alerts.Clear()
	}

	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (e *Engine) startNode(ctx context.Context) error {
	warn, err := e.lifecycle.Start(ctx)
	if warn != nil {
		e.alerts.Append(alert.Alert{
			Severity: alert.SeverityWarning,
			Message:  "node started with " + warn.Error(),
			Time:     time.Now(),
		})
	}
	if err != nil {
		return err
	}
	e.republish()
	return nil
}

func (e *Engine) stopNode(ctx context.Context) error {
	if err := e.lifecycle.Stop(ctx); err != nil {
		return err
	}
	e.republish()
	return nil
}

func (e *Engine) restartNode(ctx context.Context) error {
	warn, err := e.lifecycle.Restart(ctx)
	if warn != nil {
		e.alerts.Append(alert.Alert{
			Severity: alert.SeverityWarning,
			Message:  "node restarted with " + warn.Error(),
			Time:     time.Now(),
		})
	}
	if err != nil {
		return err
	}
	e.republish()
	return nil
}

// republish re-emits the last assembled snapshot with a fresh
// lifecycle state, preserving the data fields a liveness-only probe or
// lifecycle command has no way to refresh.
func (e *Engine) republish() {
	e.seq++
	snap := e.lastSnap
	snap.Seq = e.seq
	snap.Time = time.Now()
	snap.Lifecycle = e.lifecycle.State()
	e.publish(snap)
}

// cycleResult collects the fan-out answers of one cycle. Each field
// group is written by exactly one goroutine.
type cycleResult struct {
	chain   *rpc.BlockchainInfo
	network *rpc.NetworkInfo
	peers   []rpc.PeerInfo
	havePrs bool
	mempool *rpc.MempoolInfo
	fees    map[int]float64
	haveFee bool
	uptime  int64
	haveUp  bool
}

// runCycle performs one full data refresh: lifecycle probe, concurrent
// fast-tier fan-out, slow tier when due, assembly, alert derivation,
// publish. Manual refreshes reuse this path, so a forced cycle is
// indistinguishable from a scheduled one.
func (e *Engine) runCycle(ctx context.Context) {
	e.lifecycle.Probe()

	var res cycleResult
	var wg sync.WaitGroup

	wg.Add(5)
	go func() {
		defer wg.Done()
		info, err := e.gateway.GetBlockchainInfo(ctx)
		if err == nil {
			res.chain = info
		}
	}()
	go func() {
		defer wg.Done()
		info, err := e.gateway.GetNetworkInfo(ctx)
		if err == nil {
			res.network = info
		}
	}()
	go func() {
		defer wg.Done()
		peers, err := e.gateway.GetPeerInfo(ctx)
		if err == nil {
			res.peers = peers
			res.havePrs = true
		}
	}()
	go func() {
		defer wg.Done()
		info, err := e.gateway.GetMempoolInfo(ctx)
		if err == nil {
			res.mempool = info
		}
	}()
	go func() {
		defer wg.Done()
		seconds, err := e.gateway.Uptime(ctx)
		if err == nil {
			res.uptime = seconds
			res.haveUp = true
		}
	}()

	// Fee targets fan out individually: one unavailable estimate must not
	// hide the others.
	var feeMutex sync.Mutex
	fees := make(map[int]float64)
	feeOK := false
	for _, target := range FeeTargets {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			est, err := e.gateway.EstimateSmartFee(ctx, target)
			if err != nil {
				return
			}
			feeMutex.Lock()
			feeOK = true
			if est.Feerate != nil {
				fees[target] = *est.Feerate
			}
			feeMutex.Unlock()
		}(target)
	}

	wg.Wait()
	res.fees = fees
	res.haveFee = feeOK

	live := res.chain != nil || res.network != nil || res.havePrs ||
		res.mempool != nil || res.haveUp
	if live {
		e.lifecycle.MarkResponsive()
	}

	if res.chain != nil && time.Since(e.lastSlow) >= e.cfg.Refresh.SlowInterval {
		e.runSlowTier(ctx, res.chain.Blocks)
		e.lastSlow = time.Now()
	}

	snap := e.assemble(res, live)
	e.deriveAlerts(snap)
	e.publish(snap)
}

// runSlowTier fetches the recent block summaries and the clock offset.
// Runs inline on the loop; its calls are bounded by the gateway timeout.
func (e *Engine) runSlowTier(ctx context.Context, tip int64) {
	count := e.cfg.Refresh.RecentBlocks
	if count <= 0 {
		count = 5
	}

	var blocks []rpc.Block
	for i := int64(0); i < int64(count) && tip-i >= 0; i++ {
		hash, err := e.gateway.GetBlockHash(ctx, tip-i)
		if err != nil {
			log.WithFields(logrus.Fields{
				"height": tip - i,
				"error":  err,
			}).Debug("Recent block hash fetch failed")
			break
		}
		blk, err := e.gateway.GetBlock(ctx, hash)
		if err != nil {
			log.WithFields(logrus.Fields{
				"hash":  hash,
				"error": err,
			}).Debug("Recent block fetch failed")
			break
		}
		blocks = append(blocks, *blk)
	}
	if blocks != nil {
		e.recentBlocks = blocks
		e.blocksAsOf = time.Now()
	}

	if e.clock != nil {
		offset, err := e.clock.Probe()
		if err != nil {
			log.WithError(err).Debug("Clock offset unavailable")
		} else {
			e.haveOffset = true
			e.clockOffset = offset
			e.offsetAsOf = time.Now()
		}
	}
}

// assemble builds the published Snapshot from one cycle's results plus
// the carried slow-tier values.
func (e *Engine) assemble(res cycleResult, live bool) Snapshot {
	e.seq++
	snap := Snapshot{
		Seq:       e.seq,
		Time:      time.Now(),
		Live:      live,
		Lifecycle: e.lifecycle.State(),

		RecentBlocks: e.recentBlocks,
		BlocksAsOf:   e.blocksAsOf,
		HaveOffset:   e.haveOffset,
		ClockOffset:  e.clockOffset,
		OffsetAsOf:   e.offsetAsOf,
	}
	if e.clock != nil {
		snap.OffsetOver = e.clock.Exceeded()
	}

	if res.chain != nil {
		snap.HaveChain = true
		snap.Chain = res.chain.Chain
		snap.Height = res.chain.Blocks
		snap.Headers = res.chain.Headers
		snap.VerificationProgress = res.chain.VerificationProgress
		snap.InitialBlockDownload = res.chain.InitialBlockDownload
		snap.Pruned = res.chain.Pruned
		snap.PruneTargetSize = res.chain.PruneTargetSize
		snap.SizeOnDisk = res.chain.SizeOnDisk
		snap.Syncing = res.chain.InitialBlockDownload ||
			res.chain.VerificationProgress < syncedProgress
	}
	if res.network != nil {
		snap.HaveNetwork = true
		snap.Subversion = res.network.Subversion
		snap.Peers = res.network.Connections
		snap.PeersIn = res.network.ConnectionsIn
		snap.PeersOut = res.network.ConnectionsOut
	}
	if res.havePrs {
		snap.HavePeerList = true
		snap.PeerVersions = make(map[string]int)
		for _, peer := range res.peers {
			snap.PeerVersions[peer.Subver]++
		}
	}
	if res.mempool != nil {
		snap.HaveMempool = true
		snap.MempoolTxs = res.mempool.Size
		snap.MempoolBytes = res.mempool.Bytes
		snap.MempoolUsage = res.mempool.Usage
	}
	if res.haveFee {
		snap.HaveFees = true
		snap.Fees = res.fees
	}
	if res.haveUp {
		snap.HaveUptime = true
		snap.Uptime = time.Duration(res.uptime) * time.Second
	}

	if live && snap.HaveChain {
		e.tracker.Record(snap.Time, snap.Height, snap.VerificationProgress)
	}
	if rate, ok := e.tracker.BlocksPerHour(); ok {
		snap.HaveRate = true
		snap.BlocksPerHour = rate
	}
	if snap.HaveChain {
		if eta, ok := e.tracker.ETA(snap.Headers); ok {
			snap.HaveETA = true
			snap.ETA = eta
		}
	}
	return snap
}

// deriveAlerts feeds one snapshot through the rule engine and records
// whatever fires.
func (e *Engine) deriveAlerts(snap Snapshot) {
	completed := false
	if snap.Live && snap.HaveChain {
		completed = e.tracker.DetectCompletion(snap.Syncing)
	}

	obs := alert.Observation{
		Live:          snap.Live,
		HavePeers:     snap.HaveNetwork,
		Peers:         snap.Peers,
		SyncCompleted: completed,
		HaveDrift:     snap.HaveOffset,
		DriftOver:     snap.OffsetOver,
		Drift:         snap.ClockOffset,
	}
	if fired := e.rules.Observe(obs); len(fired) > 0 {
		e.alerts.Append(fired...)
	}
}

// publish hands the snapshot to every subscriber, replacing an unread
// older one rather than blocking the loop. Only the dispatch loop
// calls publish.
func (e *Engine) publish(snap Snapshot) {
	e.lastSnap = snap

	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// enqueue queues a command and waits for the loop to execute it.
func (e *Engine) enqueue(kind commandKind, key, value string) error {
	reply := make(chan error, 1)
	e.commands <- command{kind: kind, key: key, value: value, reply: reply}
	return <-reply
}

// RefreshNow forces a full data cycle ahead of the fast cadence. The
// forced cycle replaces, not doubles, the scheduled work.
func (e *Engine) RefreshNow() error {
	return e.enqueue(cmdRefreshNow, "", "")
}

// StartNode launches the daemon.
func (e *Engine) StartNode() error {
	return e.enqueue(cmdStartNode, "", "")
}

// StopNode shuts the daemon down. Confirmation is the caller's business.
func (e *Engine) StopNode() error {
	return e.enqueue(cmdStopNode, "", "")
}

// RestartNode stops then starts the daemon.
func (e *Engine) RestartNode() error {
	return e.enqueue(cmdRestartNode, "", "")
}

// StageChange stages a config edit in memory.
func (e *Engine) StageChange(key, value string) error {
	return e.enqueue(cmdStageChange, key, value)
}

// ApplyChanges writes the staged edits to the node's config file.
func (e *Engine) ApplyChanges() error {
	return e.enqueue(cmdApplyChanges, "", "")
}

// ResetChanges discards the staged edits.
func (e *Engine) ResetChanges() error {
	return e.enqueue(cmdResetChanges, "", "")
}

// ReloadConfig discards staged edits and re-reads the config file.
func (e *Engine) ReloadConfig() error {
	return e.enqueue(cmdReloadConfig, "", "")
}

// ClearAlerts empties the alert log without touching detection state.
func (e *Engine) ClearAlerts() error {
	return e.enqueue(cmdClearAlerts, "", "")
}
