// Package process lists and signals the invoking user's local processes.
// The tunnel layer uses it to find and stop the ssh forward processes it
// owns on the login node.
package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
)

// Table reads the local process table.
type Table struct {
	cfg      config.Config
	executor exec.CommandExecutor
}

// NewTable returns a Table for the configured user.
func NewTable(cfg config.Config, executor exec.CommandExecutor) *Table {
	return &Table{cfg: cfg, executor: executor}
}

// List returns the user's processes as "pid args" rows, one per process.
func (t *Table) List(ctx context.Context) ([]string, error) {
	out, err := t.executor.Output(ctx, "ps", "-u", t.cfg.User, "-o", "pid=,args=")
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	var rows []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			rows = append(rows, line)
		}
	}
	return rows, nil
}

// Kill sends SIGTERM to pid. Signalling an already-gone process is not an
// error; teardown paths call this without checking first.
func (t *Table) Kill(ctx context.Context, pid cluster.PID) error {
	out, err := t.executor.CombinedOutput(ctx, "kill", pid.String())
	if err != nil {
		if strings.Contains(string(out), "No such process") {
			return nil
		}
		return fmt.Errorf("kill %s: %w", pid, err)
	}
	return nil
}
