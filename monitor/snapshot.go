package monitor

import (
	"time"

	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/rpc"
)

// FeeTargets are the confirmation targets probed each fast cycle.
var FeeTargets = [3]int{1, 3, 6}

// Snapshot is one refresh cycle's complete view of the node. It is
// immutable once published; every group of fields carries a presence
// flag so a failed call reads as absent, never as zero.
type Snapshot struct {
	Seq  uint64
	Time time.Time

	// Live means at least one RPC call answered this cycle.
	Live      bool
	Lifecycle control.State

	HaveChain            bool
	Chain                string
	Height               int64
	Headers              int64
	VerificationProgress float64
	InitialBlockDownload bool
	Pruned               bool
	PruneTargetSize      int64
	SizeOnDisk           int64

	HaveNetwork bool
	Subversion  string
	Peers       int
	PeersIn     int
	PeersOut    int

	// PeerVersions counts connected peers per user-agent string.
	HavePeerList bool
	PeerVersions map[string]int

	HaveMempool  bool
	MempoolTxs   int64
	MempoolBytes int64
	MempoolUsage int64

	// Fees maps confirmation target to BTC/kvB; targets the node has no
	// estimate for are absent from the map.
	HaveFees bool
	Fees     map[int]float64

	HaveUptime bool
	Uptime     time.Duration

	// Slow-tier fields carry the last good value between slow ticks;
	// BlocksAsOf / OffsetAsOf date that value.
	RecentBlocks []rpc.Block
	BlocksAsOf   time.Time

	HaveOffset  bool
	ClockOffset time.Duration
	OffsetOver  bool // |offset| beyond the configured drift threshold
	OffsetAsOf  time.Time

	// Derived sync statistics.
	Syncing       bool
	HaveRate      bool
	BlocksPerHour float64
	HaveETA       bool
	ETA           time.Duration
}
