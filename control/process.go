package control

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// ProcessTable is the capability the controller uses to detect the
// daemon by process identity (executable path + argument signature),
// independent of RPC reachability.
type ProcessTable interface {
	// FindDaemon reports whether a process matching the daemon
	// executable is present. A non-nil error means the table could not
	// be read at all, which is distinct from "not found".
	FindDaemon(daemonPath string) (pid int32, found bool, err error)
}

// Spawner is the capability the controller uses to launch the daemon.
type Spawner interface {
	Spawn(ctx context.Context, daemonPath string, args ...string) error
}

// OSProcessTable scans the real OS process table.
type OSProcessTable struct{}

// FindDaemon matches on the executable base name appearing as the
// process name or anywhere in its argument list.
func (OSProcessTable) FindDaemon(daemonPath string) (int32, bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read process table: %w", err)
	}

	want := filepath.Base(daemonPath)
	for _, p := range procs {
		name, err := p.Name()
		if err == nil && name == want {
			return p.Pid, true, nil
		}

		args, err := p.CmdlineSlice()
		if err != nil {
			continue
		}
		for _, arg := range args {
			if strings.Contains(arg, want) {
				return p.Pid, true, nil
			}
		}
	}

	return 0, false, nil
}

// OSSpawner starts the daemon through the OS.
type OSSpawner struct{}

// Spawn runs the daemon launch command and waits for it to detach. The
// daemon is expected to fork into the background itself, so the launch
// command returning is bounded.
func (OSSpawner) Spawn(ctx context.Context, daemonPath string, args ...string) error {
	spawnCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(spawnCtx, daemonPath, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.WithFields(logrus.Fields{
		"daemonPath": daemonPath,
		"args":       args,
	}).Info("Spawning node daemon")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(output.String())
		if msg != "" {
			return fmt.Errorf("failed to start daemon: %w: %s", err, msg)
		}
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return nil
}
