package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeCli writes an executable shell script standing in for
// bitcoin-cli and returns its path.
func writeFakeCli(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-bitcoin-cli")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755)
	require.NoError(t, err, "should write fake RPC client script")
	return path
}

func TestCallReturnsStdout(t *testing.T) {
	cli := writeFakeCli(t, `echo '{"blocks":42}'`)
	client := NewClient(cli, time.Second, 0)

	out, err := client.Call(context.Background(), "getblockchaininfo")
	require.NoError(t, err, "successful call should not error")
	assert.JSONEq(t, `{"blocks":42}`, string(out), "stdout should be passed through")
}

func TestCallTimeoutKillsSubprocess(t *testing.T) {
	// A stalling fake RPC client: sleeps far past the timeout.
	cli := writeFakeCli(t, "sleep 30")
	client := NewClient(cli, 200*time.Millisecond, 0)

	start := time.Now()
	_, err := client.Call(context.Background(), "getblockchaininfo")
	elapsed := time.Since(start)

	require.Error(t, err, "stalled call must fail")
	assert.True(t, IsKind(err, KindTimeout), "stalled call should be tagged as timeout, got %v", err)
	assert.Less(t, elapsed, 2*time.Second, "call must return within timeout plus epsilon, took %v", elapsed)
}

func TestCallProcessNotFound(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "no-such-binary"), time.Second, 0)

	_, err := client.Call(context.Background(), "getblockchaininfo")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProcessNotFound), "missing binary should be tagged process-not-found, got %v", err)
}

func TestCallNonZeroExit(t *testing.T) {
	cli := writeFakeCli(t, `echo 'error: could not connect' >&2; exit 28`)
	client := NewClient(cli, time.Second, 0)

	_, err := client.Call(context.Background(), "getblockchaininfo")
	require.Error(t, err)
	require.True(t, IsKind(err, KindNonZeroExit), "failed client should be tagged non-zero-exit, got %v", err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 28, rpcErr.ExitCode, "exit code should be preserved")
	assert.Equal(t, "error: could not connect", rpcErr.Stderr, "stderr should be preserved")
}

func TestGetBlockchainInfoDecodes(t *testing.T) {
	cli := writeFakeCli(t, `echo '{"chain":"main","blocks":850000,"headers":850100,"verificationprogress":0.9987,"initialblockdownload":true,"pruned":true,"prune_target_size":4294967296,"size_on_disk":4000000000}'`)
	client := NewClient(cli, time.Second, 0)

	info, err := client.GetBlockchainInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(850000), info.Blocks)
	assert.Equal(t, int64(850100), info.Headers)
	assert.InDelta(t, 0.9987, info.VerificationProgress, 1e-9)
	assert.True(t, info.InitialBlockDownload)
	assert.True(t, info.Pruned)
	assert.Equal(t, int64(4294967296), info.PruneTargetSize)
}

func TestGetBlockchainInfoParseError(t *testing.T) {
	cli := writeFakeCli(t, `echo 'not json at all'`)
	client := NewClient(cli, time.Second, 0)

	_, err := client.GetBlockchainInfo(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindParse), "garbage output should be tagged parse, got %v", err)
}

func TestGetBlockHashParsesBareLine(t *testing.T) {
	hash := "00000000000000000002a7c4c1e48d76c5a37902165a270156b7a8d72728a054"
	cli := writeFakeCli(t, "echo "+hash)
	client := NewClient(cli, time.Second, 0)

	got, err := client.GetBlockHash(context.Background(), 850000)
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestGetBlockHashRejectsGarbage(t *testing.T) {
	cli := writeFakeCli(t, `echo 'nope'`)
	client := NewClient(cli, time.Second, 0)

	_, err := client.GetBlockHash(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindParse))
}

func TestEstimateSmartFeeMissingRate(t *testing.T) {
	// The daemon reports an errors array and no feerate when it has no
	// estimate for the target.
	cli := writeFakeCli(t, `echo '{"errors":["Insufficient data or no feerate found"],"blocks":1}'`)
	client := NewClient(cli, time.Second, 0)

	est, err := client.EstimateSmartFee(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, est.Feerate, "absent feerate should stay nil, never zero")
}

func TestUptimeParsesSeconds(t *testing.T) {
	cli := writeFakeCli(t, `echo 86400`)
	client := NewClient(cli, time.Second, 0)

	secs, err := client.Uptime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(86400), secs)
}

func TestCallsRunConcurrently(t *testing.T) {
	cli := writeFakeCli(t, `sleep 0.2; echo '{}'`)
	client := NewClient(cli, 2*time.Second, 0)

	start := time.Now()
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := client.Call(context.Background(), "getmempoolinfo")
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-done)
	}

	// Four independent subprocesses should overlap, not serialize.
	assert.Less(t, time.Since(start), 700*time.Millisecond, "concurrent calls should not serialize")
}
