package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GabrielVF/NodePulse/config"
	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/logger"
	"github.com/GabrielVF/NodePulse/monitor"
	"github.com/GabrielVF/NodePulse/nodeconf"
	"github.com/GabrielVF/NodePulse/rpc"
	"github.com/GabrielVF/NodePulse/timecheck"
	"github.com/GabrielVF/NodePulse/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "nodepulse",
		Usage: "Bitcoin Core node monitor and control panel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "monitor config file path",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "override the log file path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the log level",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			if path := c.String("log-file"); path != "" {
				cfg.Logging.FilePath = path
			}
			if level := c.String("log-level"); level != "" {
				cfg.Logging.Level = level
			}

			// The dashboard owns the terminal; logs go to the file only.
			if err := logger.Configure(logger.Options{
				FilePath:  cfg.Logging.FilePath,
				Level:     cfg.Logging.Level,
				MaxSizeMB: cfg.Logging.MaxSizeMB,
			}); err != nil {
				return err
			}

			gateway := rpc.NewClient(cfg.Node.BitcoinCliPath, cfg.Node.RPCTimeout, cfg.Node.StopTimeout)
			controller := control.New(cfg.Node.BitcoindPath, cfg.Node.FDLimitFloor,
				control.OSProcessTable{}, control.OSSpawner{}, gateway)
			conf := nodeconf.NewManager(cfg.Node.ConfPath)
			clock := timecheck.NewChecker(cfg.Clock.DriftThreshold)

			engine := monitor.NewEngine(cfg, gateway, controller, conf, clock)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go engine.Run(ctx)

			program := tea.NewProgram(tui.New(engine), tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("dashboard failed: %w", err)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
