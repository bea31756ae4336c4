// Package tunnel manages the ssh port forwards between the login node and
// compute nodes. A forward is a detached `ssh -N -f -L` process owned by
// the user; the package finds free local ports for new forwards, confirms
// they came up, and locates or kills existing ones through the process
// table.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/parse"
	"github.com/uw-psych/hyakvnc/process"
)

// Manager creates, finds, and removes port forwards.
type Manager struct {
	cfg      config.Config
	executor exec.CommandExecutor
	table    *process.Table
	log      *slog.Logger
}

// NewManager returns a Manager backed by the given executor.
func NewManager(cfg config.Config, executor exec.CommandExecutor) *Manager {
	return &Manager{
		cfg:      cfg,
		executor: executor,
		table:    process.NewTable(cfg, executor),
		log:      logger.WithComponent("tunnel"),
	}
}

// ListeningPorts returns the set of local ports with a listener.
func (m *Manager) ListeningPorts(ctx context.Context) (map[cluster.Port]bool, error) {
	out, err := m.executor.CombinedOutput(ctx, m.cfg.NetstatBin, "-ant")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.cfg.NetstatBin, err)
	}
	ports := make(map[cluster.Port]bool)
	for _, line := range strings.Split(string(out), "\n") {
		if port, ok := parse.ListeningPort(line); ok {
			ports[port] = true
		}
	}
	return ports, nil
}

// PortInUse reports whether a listener is bound to port.
func (m *Manager) PortInUse(ctx context.Context, port cluster.Port) (bool, error) {
	ports, err := m.ListeningPorts(ctx)
	if err != nil {
		return false, err
	}
	return ports[port], nil
}

// FreeLocalPort returns an unused local port from the probe window above
// the base port, or cluster.ErrPortExhausted when the whole window is
// taken.
func (m *Manager) FreeLocalPort(ctx context.Context) (cluster.Port, error) {
	ports, err := m.ListeningPorts(ctx)
	if err != nil {
		return 0, err
	}
	base := m.cfg.VNCBasePort()
	for i := 0; i < m.cfg.PortProbeWindow; i++ {
		candidate := base + cluster.Port(i)
		if !ports[candidate] {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("probed %d ports from %s: %w",
		m.cfg.PortProbeWindow, base, cluster.ErrPortExhausted)
}

// Create starts a forward from localPort to remotePort on node and waits
// until the local listener is up. ssh detaches immediately, so creation is
// only trusted once the port is observed listening; if that never happens
// within the configured attempts the error is cluster.ErrTimeout and the
// caller must treat the forward as absent.
func (m *Manager) Create(ctx context.Context, node cluster.NodeName, localPort, remotePort cluster.Port) error {
	host := m.cfg.NodeHostname(node)
	spec := fmt.Sprintf("%s:127.0.0.1:%s", localPort, remotePort)

	m.log.Info("creating port forward", "local", localPort, "remote", remotePort, "host", host)
	if _, err := m.executor.CombinedOutput(ctx, m.cfg.SSHBin, "-N", "-f", "-L", spec, host); err != nil {
		return fmt.Errorf("starting forward %s to %s: %w", spec, host, err)
	}

	for attempt := 0; attempt < m.cfg.TunnelConfirmAttempts; attempt++ {
		up, err := m.PortInUse(ctx, localPort)
		if err != nil {
			return err
		}
		if up {
			m.log.Info("port forward confirmed", "local", localPort, "attempts", attempt+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.TunnelConfirmInterval()):
		}
	}
	return fmt.Errorf("forward %s to %s not listening after %d attempts: %w",
		spec, host, m.cfg.TunnelConfirmAttempts, cluster.ErrTimeout)
}

// List returns the user's live forwards, read from the process table.
func (m *Manager) List(ctx context.Context) ([]parse.Forward, error) {
	rows, err := m.table.List(ctx)
	if err != nil {
		return nil, err
	}
	var forwards []parse.Forward
	for _, row := range rows {
		if fwd, ok := parse.ForwardProcess(row); ok {
			forwards = append(forwards, fwd)
		}
	}
	return forwards, nil
}

// FindForNode returns the forwards whose target is node. Matching is by
// the forward's exact target hostname, so two nodes with a shared name
// prefix cannot shadow each other.
func (m *Manager) FindForNode(ctx context.Context, node cluster.NodeName) ([]parse.Forward, error) {
	forwards, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	host := m.cfg.NodeHostname(node)
	var matched []parse.Forward
	for _, fwd := range forwards {
		if fwd.Host == host || fwd.Host == string(node) {
			matched = append(matched, fwd)
		}
	}
	return matched, nil
}

// Kill stops the forward process. Stopping one that already exited is fine.
func (m *Manager) Kill(ctx context.Context, fwd parse.Forward) error {
	m.log.Info("killing port forward", "pid", fwd.PID, "local", fwd.LocalPort, "host", fwd.Host)
	return m.table.Kill(ctx, fwd.PID)
}

// KillForNode stops every forward targeting node.
func (m *Manager) KillForNode(ctx context.Context, node cluster.NodeName) error {
	forwards, err := m.FindForNode(ctx, node)
	if err != nil {
		return err
	}
	for _, fwd := range forwards {
		if err := m.Kill(ctx, fwd); err != nil {
			return err
		}
	}
	return nil
}
