// Package rpc invokes the node's command-line RPC client. Each call
// spawns one short-lived subprocess with a bounded wall-clock timeout
// and returns either a decoded result or a tagged *Error; nothing here
// panics or hangs past the deadline.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/GabrielVF/NodePulse/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.Logger

// Kind classifies a gateway failure so callers can branch on the
// failure mode instead of on absence alone.
type Kind int

const (
	// KindTimeout means the subprocess exceeded its wall-clock limit and
	// was killed by the gateway.
	KindTimeout Kind = iota
	// KindProcessNotFound means the RPC client binary is missing or
	// unreachable.
	KindProcessNotFound
	// KindNonZeroExit means the client ran but reported failure.
	KindNonZeroExit
	// KindParse means the client produced output the gateway could not
	// decode.
	KindParse
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindProcessNotFound:
		return "process-not-found"
	case KindNonZeroExit:
		return "non-zero-exit"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the tagged failure returned by every gateway call.
type Error struct {
	Kind     Kind
	Method   string
	ExitCode int    // valid only for KindNonZeroExit
	Stderr   string // trimmed, valid only for KindNonZeroExit
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("rpc %s: exit %d: %s", e.Method, e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("rpc %s: %s: %v", e.Method, e.Kind, e.Err)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Kind == kind
}

// DefaultTimeout bounds ordinary data calls.
const DefaultTimeout = 5 * time.Second

// Client invokes the RPC client binary once per call. A Client is safe
// for concurrent use; calls are independent and never pooled.
type Client struct {
	cliPath     string
	timeout     time.Duration
	stopTimeout time.Duration
}

// NewClient creates a gateway around the given binary. timeout bounds
// data calls; stopTimeout bounds the stop call, which the daemon may
// take much longer to acknowledge.
func NewClient(cliPath string, timeout, stopTimeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if stopTimeout <= 0 {
		stopTimeout = 6 * timeout
	}

	log.WithFields(logrus.Fields{
		"cliPath":     cliPath,
		"timeout":     timeout,
		"stopTimeout": stopTimeout,
	}).Debug("Creating RPC gateway client")

	return &Client{
		cliPath:     cliPath,
		timeout:     timeout,
		stopTimeout: stopTimeout,
	}
}

// Call runs `<cli> <method> <args...>` and returns raw standard output.
// The subprocess is killed at the deadline; the caller always receives a
// result within timeout+epsilon.
func (c *Client) Call(ctx context.Context, method string, args ...string) ([]byte, error) {
	return c.call(ctx, c.timeout, method, args...)
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, args ...string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, c.cliPath, append([]string{method}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if callCtx.Err() == context.DeadlineExceeded {
		log.WithFields(logrus.Fields{
			"method":  method,
			"timeout": timeout,
		}).Warn("RPC call exceeded timeout, subprocess killed")
		return nil, &Error{Kind: KindTimeout, Method: method, Err: callCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		trimmed := strings.TrimSpace(stderr.String())
		log.WithFields(logrus.Fields{
			"method":   method,
			"exitCode": exitErr.ExitCode(),
			"stderr":   trimmed,
		}).Debug("RPC client exited non-zero")
		return nil, &Error{
			Kind:     KindNonZeroExit,
			Method:   method,
			ExitCode: exitErr.ExitCode(),
			Stderr:   trimmed,
			Err:      err,
		}
	}

	// Anything else means we never got a process to run: missing binary,
	// permission problem, unusable path.
	log.WithFields(logrus.Fields{
		"method":  method,
		"cliPath": c.cliPath,
		"error":   err,
	}).Error("Failed to spawn RPC client")
	return nil, &Error{Kind: KindProcessNotFound, Method: method, Err: err}
}

// callJSON runs a call and decodes the JSON document on stdout into out.
func (c *Client) callJSON(ctx context.Context, out interface{}, method string, args ...string) error {
	raw, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindParse, Method: method, Err: err}
	}
	return nil
}

// GetBlockchainInfo returns chain height, headers and sync state.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.callJSON(ctx, &info, "getblockchaininfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetNetworkInfo returns connection counts and the local version string.
func (c *Client) GetNetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	var info NetworkInfo
	if err := c.callJSON(ctx, &info, "getnetworkinfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPeerInfo returns the connected peer list.
func (c *Client) GetPeerInfo(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo
	if err := c.callJSON(ctx, &peers, "getpeerinfo"); err != nil {
		return nil, err
	}
	return peers, nil
}

// GetMempoolInfo returns mempool transaction count and memory usage.
func (c *Client) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.callJSON(ctx, &info, "getmempoolinfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

// EstimateSmartFee returns the fee estimate for a confirmation target.
func (c *Client) EstimateSmartFee(ctx context.Context, confTarget int) (*FeeEstimate, error) {
	var est FeeEstimate
	if err := c.callJSON(ctx, &est, "estimatesmartfee", strconv.Itoa(confTarget)); err != nil {
		return nil, err
	}
	return &est, nil
}

// GetBlockHash returns the hash at the given height. The client prints
// the hash as a bare line, not JSON.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	raw, err := c.Call(ctx, "getblockhash", strconv.FormatInt(height, 10))
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(string(raw))
	if len(hash) != 64 {
		return "", &Error{
			Kind:   KindParse,
			Method: "getblockhash",
			Err:    fmt.Errorf("expected 64-char block hash, got %q", hash),
		}
	}
	return hash, nil
}

// GetBlock returns the summary of a block (verbosity 1).
func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	var blk Block
	if err := c.callJSON(ctx, &blk, "getblock", hash, "1"); err != nil {
		return nil, err
	}
	return &blk, nil
}

// Uptime returns the daemon's uptime in seconds.
func (c *Client) Uptime(ctx context.Context) (int64, error) {
	raw, err := c.Call(ctx, "uptime")
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, &Error{Kind: KindParse, Method: "uptime", Err: err}
	}
	return seconds, nil
}

// Stop asks the daemon to shut down. It uses the longer stop timeout.
func (c *Client) Stop(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, c.stopTimeout, "stop")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
