package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GabrielVF/NodePulse/config"
	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/nodeconf"
	"github.com/GabrielVF/NodePulse/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FakeGateway answers from canned data, or fails every call when err
// is set.
type FakeGateway struct {
	mutex   sync.Mutex
	err     error
	chain   rpc.BlockchainInfo
	network rpc.NetworkInfo
	peers   []rpc.PeerInfo
	mempool rpc.MempoolInfo
	fees    map[int]*float64
	uptime  int64
	blocks  map[int64]rpc.Block
	calls   map[string]int
}

func newFakeGateway() *FakeGateway {
	feerate := 0.00012
	return &FakeGateway{
		chain: rpc.BlockchainInfo{
			Chain:                "main",
			Blocks:               840000,
			Headers:              840000,
			VerificationProgress: 0.99995,
		},
		network: rpc.NetworkInfo{
			Subversion:     "/Satoshi:27.0.0/",
			Connections:    10,
			ConnectionsIn:  2,
			ConnectionsOut: 8,
		},
		peers: []rpc.PeerInfo{
			{ID: 1, Subver: "/Satoshi:27.0.0/"},
			{ID: 2, Subver: "/Satoshi:27.0.0/"},
			{ID: 3, Subver: "/Satoshi:26.1.0/"},
		},
		mempool: rpc.MempoolInfo{Size: 4200, Bytes: 1800000, Usage: 5400000},
		fees:    map[int]*float64{1: &feerate, 3: &feerate},
		uptime:  3600,
		blocks:  map[int64]rpc.Block{},
		calls:   map[string]int{},
	}
}

func (f *FakeGateway) record(method string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls[method]++
	return f.err
}

func (f *FakeGateway) count(method string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[method]
}

func (f *FakeGateway) fail(err error) {
	f.mutex.Lock()
	f.err = err
	f.mutex.Unlock()
}

func (f *FakeGateway) GetBlockchainInfo(ctx context.Context) (*rpc.BlockchainInfo, error) {
	if err := f.record("getblockchaininfo"); err != nil {
		return nil, err
	}
	info := f.chain
	return &info, nil
}

func (f *FakeGateway) GetNetworkInfo(ctx context.Context) (*rpc.NetworkInfo, error) {
	if err := f.record("getnetworkinfo"); err != nil {
		return nil, err
	}
	info := f.network
	return &info, nil
}

func (f *FakeGateway) GetPeerInfo(ctx context.Context) ([]rpc.PeerInfo, error) {
	if err := f.record("getpeerinfo"); err != nil {
		return nil, err
	}
	return f.peers, nil
}

func (f *FakeGateway) GetMempoolInfo(ctx context.Context) (*rpc.MempoolInfo, error) {
	if err := f.record("getmempoolinfo"); err != nil {
		return nil, err
	}
	info := f.mempool
	return &info, nil
}

func (f *FakeGateway) EstimateSmartFee(ctx context.Context, confTarget int) (*rpc.FeeEstimate, error) {
	if err := f.record("estimatesmartfee"); err != nil {
		return nil, err
	}
	return &rpc.FeeEstimate{Feerate: f.fees[confTarget]}, nil
}

func (f *FakeGateway) GetBlockHash(ctx context.Context, height int64) (string, error) {
	if err := f.record("getblockhash"); err != nil {
		return "", err
	}
	blk, ok := f.blocks[height]
	if !ok {
		return "", fmt.Errorf("no block at height %d", height)
	}
	return blk.Hash, nil
}

func (f *FakeGateway) GetBlock(ctx context.Context, hash string) (*rpc.Block, error) {
	if err := f.record("getblock"); err != nil {
		return nil, err
	}
	for _, blk := range f.blocks {
		if blk.Hash == hash {
			found := blk
			return &found, nil
		}
	}
	return nil, fmt.Errorf("unknown block %s", hash)
}

func (f *FakeGateway) Uptime(ctx context.Context) (int64, error) {
	if err := f.record("uptime"); err != nil {
		return 0, err
	}
	return f.uptime, nil
}

// FakeLifecycle tracks transitions without touching the process table.
type FakeLifecycle struct {
	mutex      sync.Mutex
	state      control.State
	probes     int
	responsive int
	starts     int
	stops      int
	restarts   int
	startErr   error
	stopErr    error
}

func (f *FakeLifecycle) State() control.State {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.state
}

func (f *FakeLifecycle) Probe() control.State {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.probes++
	return f.state
}

func (f *FakeLifecycle) MarkResponsive() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.responsive++
	f.state = control.StateRunning
}

func (f *FakeLifecycle) Start(ctx context.Context) (error, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.state = control.StateStarting
	return nil, nil
}

func (f *FakeLifecycle) Stop(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.state = control.StateStopping
	return nil
}

func (f *FakeLifecycle) Restart(ctx context.Context) (error, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.restarts++
	f.state = control.StateStarting
	return nil, nil
}

// FakeClock reports a fixed offset.
type FakeClock struct {
	offset   time.Duration
	err      error
	measured bool
	over     bool
}

func (f *FakeClock) Probe() (time.Duration, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.measured = true
	return f.offset, nil
}

func (f *FakeClock) Offset() (time.Duration, bool) {
	return f.offset, f.measured
}

func (f *FakeClock) Exceeded() bool {
	return f.measured && f.over
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg.Refresh.FastInterval = 20 * time.Millisecond
	cfg.Refresh.SlowInterval = 50 * time.Millisecond
	cfg.Refresh.LivenessInterval = 10 * time.Millisecond
	return cfg
}

func testEngine(t *testing.T, gateway *FakeGateway) (*Engine, *FakeLifecycle) {
	t.Helper()
	lifecycle := &FakeLifecycle{state: control.StateUnknown}
	conf := nodeconf.NewManager(filepath.Join(t.TempDir(), "bitcoin.conf"))
	engine := NewEngine(testConfig(t), gateway, lifecycle, conf, &FakeClock{})
	return engine, lifecycle
}

func TestCyclePopulatesSnapshot(t *testing.T) {
	gateway := newFakeGateway()
	engine, lifecycle := testEngine(t, gateway)
	sub := engine.Subscribe()

	engine.runCycle(context.Background())

	var snap Snapshot
	select {
	case snap = <-sub:
	default:
		t.Fatal("no snapshot published")
	}

	assert.True(t, snap.Live)
	assert.True(t, snap.HaveChain)
	assert.Equal(t, int64(840000), snap.Height)
	assert.True(t, snap.HaveNetwork)
	assert.Equal(t, 10, snap.Peers)
	assert.True(t, snap.HavePeerList)
	assert.Equal(t, 2, snap.PeerVersions["/Satoshi:27.0.0/"])
	assert.True(t, snap.HaveMempool)
	assert.Equal(t, int64(4200), snap.MempoolTxs)
	assert.True(t, snap.HaveUptime)
	assert.Equal(t, time.Hour, snap.Uptime)
	assert.False(t, snap.Syncing)
	assert.Equal(t, control.StateRunning, snap.Lifecycle)
	assert.Equal(t, 1, lifecycle.responsive, "RPC success should promote the lifecycle")
}

func TestCyclePublishesWhenEveryCallFails(t *testing.T) {
	gateway := newFakeGateway()
	gateway.fail(errors.New("connection refused"))
	engine, lifecycle := testEngine(t, gateway)
	sub := engine.Subscribe()

	engine.runCycle(context.Background())

	var snap Snapshot
	select {
	case snap = <-sub:
	default:
		t.Fatal("a snapshot must be published even when every call fails")
	}

	assert.False(t, snap.Live)
	assert.False(t, snap.HaveChain)
	assert.False(t, snap.HaveNetwork)
	assert.False(t, snap.HavePeerList)
	assert.False(t, snap.HaveMempool)
	assert.False(t, snap.HaveFees)
	assert.False(t, snap.HaveUptime)
	assert.Equal(t, 0, lifecycle.responsive)
}

func TestFeeTargetsWithoutEstimateAreAbsent(t *testing.T) {
	gateway := newFakeGateway()
	engine, _ := testEngine(t, gateway)
	sub := engine.Subscribe()

	engine.runCycle(context.Background())
	snap := <-sub

	require.True(t, snap.HaveFees)
	_, has1 := snap.Fees[1]
	_, has6 := snap.Fees[6]
	assert.True(t, has1)
	assert.False(t, has6, "target without an estimate must be absent, not zero")
}

func TestSlowTierCarriesBetweenCycles(t *testing.T) {
	gateway := newFakeGateway()
	for i := int64(0); i < 5; i++ {
		height := gateway.chain.Blocks - i
		gateway.blocks[height] = rpc.Block{
			Hash:   fmt.Sprintf("%064d", height),
			Height: height,
			NTx:    100,
		}
	}
	engine, _ := testEngine(t, gateway)
	engine.cfg.Refresh.SlowInterval = time.Hour
	sub := engine.Subscribe()

	engine.runCycle(context.Background())
	first := <-sub
	require.Len(t, first.RecentBlocks, 5)
	assert.Equal(t, gateway.chain.Blocks, first.RecentBlocks[0].Height, "newest block first")

	// Second cycle inside the slow interval must reuse the carried
	// blocks without refetching.
	fetched := gateway.count("getblock")
	engine.runCycle(context.Background())
	second := <-sub
	assert.Equal(t, fetched, gateway.count("getblock"))
	assert.Equal(t, first.BlocksAsOf, second.BlocksAsOf)
	assert.Equal(t, first.RecentBlocks, second.RecentBlocks)
}

func TestLivenessFlipRaisesAlerts(t *testing.T) {
	gateway := newFakeGateway()
	engine, _ := testEngine(t, gateway)

	ctx := context.Background()
	engine.runCycle(ctx)
	gateway.fail(errors.New("connection refused"))
	engine.runCycle(ctx)
	gateway.fail(nil)
	engine.runCycle(ctx)

	var messages []string
	for _, entry := range engine.Alerts() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"node not responding", "connection restored"}, messages)
}

func TestCommandsRunOnTheLoop(t *testing.T) {
	gateway := newFakeGateway()
	lifecycle := &FakeLifecycle{state: control.StateStopped}
	confPath := filepath.Join(t.TempDir(), "bitcoin.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("prune=0\n"), 0644))
	conf := nodeconf.NewManager(confPath)
	engine := NewEngine(testConfig(t), gateway, lifecycle, conf, &FakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	require.NoError(t, engine.StartNode())
	assert.Equal(t, 1, lifecycle.starts)

	require.NoError(t, engine.StageChange("prune", "4096"))
	require.NoError(t, engine.ApplyChanges())

	data, err := os.ReadFile(confPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prune=4096")

	assert.Error(t, engine.StageChange("prune", "999"), "off-catalogue value must be rejected")
}

func TestRefreshNowReusesTheCyclePath(t *testing.T) {
	gateway := newFakeGateway()
	lifecycle := &FakeLifecycle{state: control.StateRunning}
	conf := nodeconf.NewManager(filepath.Join(t.TempDir(), "bitcoin.conf"))

	cfg := testConfig(t)
	cfg.Refresh.FastInterval = time.Hour // only manual refreshes fire
	cfg.Refresh.LivenessInterval = time.Hour
	engine := NewEngine(cfg, gateway, lifecycle, conf, &FakeClock{})
	sub := engine.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	// The startup cycle publishes once.
	select {
	case <-sub:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle did not publish")
	}
	before := gateway.count("getblockchaininfo")

	require.NoError(t, engine.RefreshNow())
	select {
	case <-sub:
	case <-time.After(2 * time.Second):
		t.Fatal("manual refresh did not publish")
	}
	assert.Equal(t, before+1, gateway.count("getblockchaininfo"),
		"a forced refresh is one ordinary cycle")
}

func TestClearAlerts(t *testing.T) {
	gateway := newFakeGateway()
	engine, _ := testEngine(t, gateway)

	ctx := context.Background()
	engine.runCycle(ctx)
	gateway.fail(errors.New("connection refused"))
	engine.runCycle(ctx)
	require.NotEmpty(t, engine.Alerts())

	ctxRun, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctxRun)

	require.NoError(t, engine.ClearAlerts())
	assert.Empty(t, engine.Alerts())
}

func TestStopErrorPropagates(t *testing.T) {
	gateway := newFakeGateway()
	lifecycle := &FakeLifecycle{state: control.StateStopped, stopErr: control.ErrNotRunning}
	conf := nodeconf.NewManager(filepath.Join(t.TempDir(), "bitcoin.conf"))
	engine := NewEngine(testConfig(t), gateway, lifecycle, conf, &FakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	err := engine.StopNode()
	assert.ErrorIs(t, err, control.ErrNotRunning)
}
