package rpc

// BlockchainInfo mirrors the fields of `getblockchaininfo` the monitor
// consumes. VerificationProgress is chainwork-weighted, not
// block-count-weighted.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	VerificationProgress float64 `json:"verificationprogress"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	Pruned               bool    `json:"pruned"`
	PruneTargetSize      int64   `json:"prune_target_size"`
	SizeOnDisk           int64   `json:"size_on_disk"`
}

// NetworkInfo mirrors the fields of `getnetworkinfo` the monitor consumes.
type NetworkInfo struct {
	Version        int64  `json:"version"`
	Subversion     string `json:"subversion"`
	Connections    int    `json:"connections"`
	ConnectionsIn  int    `json:"connections_in"`
	ConnectionsOut int    `json:"connections_out"`
}

// PeerInfo is one entry of the `getpeerinfo` array.
type PeerInfo struct {
	ID      int64  `json:"id"`
	Subver  string `json:"subver"`
	Inbound bool   `json:"inbound"`
}

// MempoolInfo mirrors the fields of `getmempoolinfo` the monitor consumes.
type MempoolInfo struct {
	Size       int64 `json:"size"`
	Bytes      int64 `json:"bytes"`
	Usage      int64 `json:"usage"`
	MaxMempool int64 `json:"maxmempool"`
}

// FeeEstimate is the result of `estimatesmartfee`. Feerate is nil when
// the node has no estimate for the target (the daemon reports an errors
// array instead of a rate).
type FeeEstimate struct {
	Feerate *float64 `json:"feerate"`
	Blocks  int      `json:"blocks"`
}

// Block mirrors the fields of `getblock <hash> 1` the monitor consumes.
type Block struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
	Time   int64  `json:"time"`
	NTx    int    `json:"nTx"`
	Size   int64  `json:"size"`
}
