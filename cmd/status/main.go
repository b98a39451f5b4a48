// Command status prints a single snapshot of the node as JSON and
// exits. It shares the monitor engine with the dashboard, so the
// output matches what the dashboard would show.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/GabrielVF/NodePulse/config"
	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/logger"
	"github.com/GabrielVF/NodePulse/monitor"
	"github.com/GabrielVF/NodePulse/nodeconf"
	"github.com/GabrielVF/NodePulse/rpc"
	"github.com/GabrielVF/NodePulse/timecheck"
	"github.com/urfave/cli/v2"
)

// report wraps the snapshot with a readable lifecycle name and the
// pending config edits.
type report struct {
	monitor.Snapshot
	LifecycleName string            `json:"lifecycle_name"`
	StagedChanges []nodeconf.Change `json:"staged_changes,omitempty"`
}

func main() {
	app := &cli.App{
		Name:  "nodepulse-status",
		Usage: "print one snapshot of the node as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "monitor config file path",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log to stderr while collecting",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "give up after this long",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	// No TUI here, so console logging is safe when asked for.
	if err := logger.Configure(logger.Options{
		Level:     cfg.Logging.Level,
		ToConsole: c.Bool("verbose"),
	}); err != nil {
		return err
	}

	gateway := rpc.NewClient(cfg.Node.BitcoinCliPath, cfg.Node.RPCTimeout, cfg.Node.StopTimeout)
	controller := control.New(cfg.Node.BitcoindPath, cfg.Node.FDLimitFloor,
		control.OSProcessTable{}, control.OSSpawner{}, gateway)
	conf := nodeconf.NewManager(cfg.Node.ConfPath)
	clock := timecheck.NewChecker(cfg.Clock.DriftThreshold)

	engine := monitor.NewEngine(cfg, gateway, controller, conf, clock)
	sub := engine.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()
	go engine.Run(ctx)

	var snap monitor.Snapshot
	select {
	case snap = <-sub:
	case <-ctx.Done():
		return fmt.Errorf("no snapshot within %s", c.Duration("timeout"))
	}
	cancel()

	out := report{
		Snapshot:      snap,
		LifecycleName: snap.Lifecycle.String(),
		StagedChanges: conf.Diff(),
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
