// Package remote runs commands on cluster nodes over SSH. Every call is
// bounded by the configured remote timeout so a hung node cannot stall
// the caller indefinitely.
package remote

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/paths"
)

// Runner executes shell commands on a named compute node.
type Runner struct {
	cfg      config.Config
	executor exec.CommandExecutor
}

// NewRunner returns a Runner that reaches nodes via cfg.SSHBin.
func NewRunner(cfg config.Config, executor exec.CommandExecutor) *Runner {
	return &Runner{cfg: cfg, executor: executor}
}

// Run executes command on node and returns its combined output. The call
// is cut off after the configured remote timeout; a timeout is reported
// as cluster.ErrTimeout so callers can distinguish it from command
// failure.
func (r *Runner) Run(ctx context.Context, node cluster.NodeName, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RemoteTimeout())
	defer cancel()

	host := r.cfg.NodeHostname(node)
	logger.WithComponent("remote").Debug("running remote command", "host", host, "command", command)

	out, err := r.executor.CombinedOutput(ctx, r.cfg.SSHBin, host, command)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return string(out), fmt.Errorf("remote command on %s after %v: %w",
				host, r.cfg.RemoteTimeout(), cluster.ErrTimeout)
		}
		return string(out), fmt.Errorf("remote command on %s: %w", host, err)
	}
	return string(out), nil
}

// Lines runs command on node and returns its output split into non-empty
// trimmed lines.
func (r *Runner) Lines(ctx context.Context, node cluster.NodeName, command string) ([]string, error) {
	out, err := r.Run(ctx, node, command)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Interactive runs command on node with the caller's terminal attached.
// Used for prompts that need a tty, like vncpasswd. This goes through
// os/exec directly rather than the CommandExecutor because the executor
// abstraction captures output, and here the subprocess must own stdio.
func (r *Runner) Interactive(ctx context.Context, node cluster.NodeName, command string) error {
	host := r.cfg.NodeHostname(node)
	cmd := osexec.CommandContext(ctx, r.cfg.SSHBin, "-t", host, command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("interactive command on %s: %w", host, err)
	}
	return nil
}

// ClearKnownHosts removes the user's known_hosts file. Compute node host
// keys rotate when nodes are reimaged, and a stale entry blocks every
// subsequent SSH hop. Missing file is fine.
func ClearKnownHosts() error {
	path, err := paths.KnownHostsPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
