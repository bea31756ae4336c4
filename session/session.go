// Package session controls VNC desktop sessions on compute nodes. Sessions
// are started inside the configured desktop container and tracked through
// vncserver's pid files, which live under ~/.vnc on the shared home
// filesystem and are therefore readable from the login node.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/parse"
	"github.com/uw-psych/hyakvnc/paths"
	"github.com/uw-psych/hyakvnc/remote"
	"github.com/uw-psych/hyakvnc/store"
)

// PIDLister reports the set of process IDs belonging to an allocation on a
// node. Liveness checks use it so a session is only considered alive when
// its process belongs to its own allocation, not merely when a process with
// the right name exists somewhere on the node.
type PIDLister interface {
	ListPIDs(ctx context.Context, node cluster.NodeName, id cluster.JobID) (map[cluster.PID]bool, error)
}

// Listing separates a node's sessions into live and stale entries.
type Listing struct {
	Active []cluster.Display
	Stale  []cluster.Display
}

// Controller starts, inspects, and kills VNC sessions.
type Controller struct {
	cfg    config.Config
	runner *remote.Runner
	pids   store.Store
	lister PIDLister
	log    *slog.Logger
}

// NewController returns a Controller. pidStore holds vncserver's pid
// bookkeeping, keyed by "hostname:display".
func NewController(cfg config.Config, executor exec.CommandExecutor, pidStore store.Store, lister PIDLister) *Controller {
	return &Controller{
		cfg:    cfg,
		runner: remote.NewRunner(cfg, executor),
		pids:   pidStore,
		lister: lister,
		log:    logger.WithComponent("session"),
	}
}

// Start launches a VNC session on node and returns the display the server
// chose. Pass display < 0 to let the server pick; a non-negative display
// requests that specific one, which the restart path uses to keep an
// existing tunnel valid. The error is cluster.ErrTimeout when the node did
// not answer in time and cluster.ErrParseMismatch when the server's output
// carried no recognizable confirmation.
func (c *Controller) Start(ctx context.Context, node cluster.NodeName, display cluster.Display) (cluster.Display, error) {
	target := ""
	if display >= 0 {
		target = " " + display.String()
	}
	command := fmt.Sprintf("%s vncserver%s -xstartup %s",
		c.cfg.ContainerExec(), target, c.cfg.XStartupPath)

	lines, err := c.runner.Lines(ctx, node, command)
	if err != nil {
		return 0, fmt.Errorf("starting session on %s: %w", node, err)
	}
	for _, line := range lines {
		if d, ok := parse.Desktop(line); ok {
			c.log.Info("session started", "node", node, "display", d)
			return d, nil
		}
	}
	return 0, fmt.Errorf("vncserver output on %s: %w", node, cluster.ErrParseMismatch)
}

// List reports the sessions vncserver knows about on node, split into
// active and stale. A stale entry is one whose marker text (configured, the
// list format is not a documented contract) appeared on the row.
func (c *Controller) List(ctx context.Context, node cluster.NodeName) (Listing, error) {
	command := c.cfg.ContainerExec() + " vncserver -list"
	lines, err := c.runner.Lines(ctx, node, command)
	if err != nil {
		return Listing{}, fmt.Errorf("listing sessions on %s: %w", node, err)
	}

	var listing Listing
	for _, line := range lines {
		row, ok := parse.SessionList(line, c.cfg.StaleMarker)
		if !ok {
			continue
		}
		if row.Stale {
			listing.Stale = append(listing.Stale, row.Display)
		} else {
			listing.Active = append(listing.Active, row.Display)
		}
	}
	return listing, nil
}

// PID returns the recorded process id of the session on node's display,
// taken from vncserver's pid file.
func (c *Controller) PID(node cluster.NodeName, display cluster.Display) (cluster.PID, bool, error) {
	key := store.SessionKey(c.cfg.NodeHostname(node), display)
	value, found, err := c.pids.Get(key)
	if err != nil || !found {
		return 0, false, err
	}
	pid, err := cluster.ParsePID(value)
	if err != nil {
		return 0, false, fmt.Errorf("pid file for %s: %w", key, err)
	}
	return pid, true, nil
}

// Alive reports whether the session on node's display is running inside
// allocation id. The recorded pid must appear in the allocation's own
// process set; a matching process elsewhere does not count.
func (c *Controller) Alive(ctx context.Context, node cluster.NodeName, id cluster.JobID, display cluster.Display) (bool, error) {
	pid, found, err := c.PID(node, display)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	set, err := c.lister.ListPIDs(ctx, node, id)
	if err != nil {
		return false, err
	}
	return set[pid], nil
}

// Processes returns the display-server processes found in node's process
// table, whether or not vncserver still has bookkeeping for them. The
// repair path uses this to rediscover a session's display and port after
// the pid file or the forward went missing.
func (c *Controller) Processes(ctx context.Context, node cluster.NodeName) ([]parse.VNCProcess, error) {
	command := fmt.Sprintf("ps -u %s -o pid=,args=", c.cfg.User)
	lines, err := c.runner.Lines(ctx, node, command)
	if err != nil {
		return nil, fmt.Errorf("scanning processes on %s: %w", node, err)
	}
	var procs []parse.VNCProcess
	for _, line := range lines {
		if p, ok := parse.VNCServerProcess(line); ok {
			procs = append(procs, p)
		}
	}
	return procs, nil
}

// Kill terminates the session on node's display and removes its pid file
// and X11 socket. Killing a display with no session is not an error; the
// bookkeeping is cleaned up either way.
func (c *Controller) Kill(ctx context.Context, node cluster.NodeName, display cluster.Display) error {
	command := fmt.Sprintf("%s vncserver -kill %s", c.cfg.ContainerExec(), display)
	lines, err := c.runner.Lines(ctx, node, command)
	if err != nil {
		return fmt.Errorf("killing session %s on %s: %w", display, node, err)
	}

	confirmed := false
	for _, line := range lines {
		if parse.KillConfirmed(line) {
			confirmed = true
		}
		if strings.Contains(line, "Can't kill") {
			return fmt.Errorf("killing session %s on %s: %s", display, node, strings.TrimSpace(line))
		}
	}
	if !confirmed {
		c.log.Debug("no session to kill", "node", node, "display", display)
	}

	if err := c.pids.Delete(store.SessionKey(c.cfg.NodeHostname(node), display)); err != nil {
		c.log.Warn("failed to remove pid file", "display", display, "error", err)
	}
	c.removeSockets(ctx, node, display)
	return nil
}

// KillAll terminates every session on node, active and stale, then sweeps
// leftover pid files and the user's display sockets.
func (c *Controller) KillAll(ctx context.Context, node cluster.NodeName) error {
	listing, err := c.List(ctx, node)
	if err != nil {
		return err
	}
	for _, d := range append(listing.Active, listing.Stale...) {
		if err := c.Kill(ctx, node, d); err != nil {
			c.log.Warn("session kill failed", "display", d, "error", err)
		}
	}

	// Sweep pid files the per-display kills did not cover, but only for
	// this node. Other nodes may still have live desktops whose
	// bookkeeping must survive.
	keys, err := c.pids.Keys()
	if err != nil {
		return err
	}
	prefix := c.cfg.NodeHostname(node) + ":"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := c.pids.Delete(key); err != nil {
			c.log.Warn("failed to remove pid file", "key", key, "error", err)
		}
	}

	c.removeSockets(ctx, node, -1)
	return nil
}

// removeSockets deletes the user's display socket files on node. A
// non-negative display removes that display's X11 socket only; -1 sweeps
// everything the user owns in both socket directories. Leftover sockets
// make vncserver refuse to reuse a display.
func (c *Controller) removeSockets(ctx context.Context, node cluster.NodeName, display cluster.Display) {
	var command string
	if display >= 0 {
		command = fmt.Sprintf("rm -f %s/X%d", c.cfg.X11SocketDir, int(display))
	} else {
		command = fmt.Sprintf("find %s %s -maxdepth 1 -user %s -delete",
			c.cfg.X11SocketDir, c.cfg.ICESocketDir, c.cfg.User)
	}
	if _, err := c.runner.Run(ctx, node, command); err != nil {
		c.log.Debug("socket cleanup", "node", node, "error", err)
	}
}

// HasPassword reports whether a VNC password has been set.
func (c *Controller) HasPassword() (bool, error) {
	path, err := paths.VNCPasswordPath()
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetPassword runs vncpasswd with the caller's terminal attached. It runs
// locally: the home filesystem is shared, so the password file it writes is
// visible on every node. This is the one place a subprocess owns stdio,
// which the output-capturing executor cannot express, so it goes through
// os/exec directly.
func (c *Controller) SetPassword(ctx context.Context) error {
	command := fmt.Sprintf("%s exec %s vncpasswd", c.cfg.ContainerBin, c.cfg.ContainerImg)
	cmd := osexec.CommandContext(ctx, "bash", "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("vncpasswd: %w", err)
	}
	return nil
}
