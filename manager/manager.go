// Package manager orchestrates the full desktop lifecycle: reserving a
// node, starting the VNC session, wiring the port forward, and tearing it
// all down again. It owns the ordering and the rollback rules; the
// component packages it drives own the individual operations.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/discover"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/parse"
	"github.com/uw-psych/hyakvnc/session"
	"github.com/uw-psych/hyakvnc/slurm"
	"github.com/uw-psych/hyakvnc/store"
	"github.com/uw-psych/hyakvnc/tunnel"
)

// Allocator reserves and releases scheduler allocations.
type Allocator interface {
	Reserve(ctx context.Context, spec slurm.AllocationSpec) (slurm.Allocation, error)
	Queue(ctx context.Context) ([]slurm.QueueEntry, error)
	Cancel(ctx context.Context, id cluster.JobID) error
	ListPIDs(ctx context.Context, node cluster.NodeName, id cluster.JobID) (map[cluster.PID]bool, error)
}

// SessionController drives VNC sessions on compute nodes.
type SessionController interface {
	Start(ctx context.Context, node cluster.NodeName, display cluster.Display) (cluster.Display, error)
	List(ctx context.Context, node cluster.NodeName) (session.Listing, error)
	Alive(ctx context.Context, node cluster.NodeName, id cluster.JobID, display cluster.Display) (bool, error)
	Kill(ctx context.Context, node cluster.NodeName, display cluster.Display) error
	KillAll(ctx context.Context, node cluster.NodeName) error
	Processes(ctx context.Context, node cluster.NodeName) ([]parse.VNCProcess, error)
	HasPassword() (bool, error)
	SetPassword(ctx context.Context) error
}

// Forwarder manages login-to-node port forwards.
type Forwarder interface {
	FreeLocalPort(ctx context.Context) (cluster.Port, error)
	Create(ctx context.Context, node cluster.NodeName, localPort, remotePort cluster.Port) error
	FindForNode(ctx context.Context, node cluster.NodeName) ([]parse.Forward, error)
	KillForNode(ctx context.Context, node cluster.NodeName) error
}

// Manager ties the components together.
type Manager struct {
	cfg      config.Config
	alloc    Allocator
	sessions SessionController
	forwards Forwarder
	log      *slog.Logger
}

// NewManager wires a Manager from explicit components.
func NewManager(cfg config.Config, alloc Allocator, sessions SessionController, forwards Forwarder) *Manager {
	return &Manager{
		cfg:      cfg,
		alloc:    alloc,
		sessions: sessions,
		forwards: forwards,
		log:      logger.WithComponent("manager"),
	}
}

// New builds a Manager over real components sharing one executor. pidStore
// holds vncserver's pid bookkeeping.
func New(cfg config.Config, executor exec.CommandExecutor, pidStore store.Store) *Manager {
	alloc := slurm.NewManager(cfg, executor)
	return NewManager(cfg,
		alloc,
		session.NewController(cfg, executor, pidStore, alloc),
		tunnel.NewManager(cfg, executor))
}

// CreateOptions tunes Create.
type CreateOptions struct {
	// Force skips the existing-desktop guard. Without it Create refuses
	// to stack a second desktop on top of a live one.
	Force bool
}

// CreateResult describes a newly created desktop.
type CreateResult struct {
	JobID      cluster.JobID
	Node       cluster.NodeName
	Display    cluster.Display
	LocalPort  cluster.Port
	RemotePort cluster.Port
}

// Create brings up a complete desktop: allocation, session, forward. Any
// failure after the allocation is granted cancels it before returning, so
// a failed create never leaves resources reserved.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	if has, err := m.sessions.HasPassword(); err != nil {
		return CreateResult{}, err
	} else if !has {
		return CreateResult{}, errors.New("no VNC password set, run set-password first")
	}

	if !opts.Force {
		existing, err := m.alloc.Queue(ctx)
		if err != nil {
			return CreateResult{}, err
		}
		if len(existing) > 0 {
			return CreateResult{}, fmt.Errorf("desktop job %s already exists (use --force to create another)",
				existing[0].ID)
		}
	}

	alloc, err := m.alloc.Reserve(ctx, slurm.SpecFromConfig(m.cfg))
	if err != nil {
		return CreateResult{}, err
	}
	m.log.Info("node reserved", "jobID", alloc.ID, "node", alloc.Node)

	display, err := m.sessions.Start(ctx, alloc.Node, -1)
	if err != nil {
		m.rollback(alloc.ID)
		return CreateResult{}, fmt.Errorf("starting session: %w", err)
	}

	localPort, err := m.forwards.FreeLocalPort(ctx)
	if err != nil {
		m.rollback(alloc.ID)
		return CreateResult{}, err
	}
	remotePort := cluster.PortFor(m.cfg.VNCBasePort(), display)

	if err := m.forwards.Create(ctx, alloc.Node, localPort, remotePort); err != nil {
		m.rollback(alloc.ID)
		return CreateResult{}, err
	}

	return CreateResult{
		JobID:      alloc.ID,
		Node:       alloc.Node,
		Display:    display,
		LocalPort:  localPort,
		RemotePort: remotePort,
	}, nil
}

// rollback cancels an allocation after a partial create. It runs outside
// the caller's context, which may already be cancelled.
func (m *Manager) rollback(id cluster.JobID) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RemoteTimeout())
	defer cancel()
	if err := m.alloc.Cancel(ctx, id); err != nil {
		m.log.Error("rollback failed, allocation may be orphaned", "jobID", id, "error", err)
	}
}

// Status reports everything known about the user's desktops.
func (m *Manager) Status(ctx context.Context) (discover.Report, error) {
	return discover.New(m.cfg, m.alloc, m.sessions, m.forwards).Discover(ctx)
}

// Kill tears down the desktop with the given job id: its sessions, its
// forwards, and finally the allocation itself. Teardown keeps going past
// partial failures and reports them together; the allocation is cancelled
// even when session cleanup failed, since cancelling kills the node's
// processes anyway. Unknown ids return cluster.ErrNotFound.
func (m *Manager) Kill(ctx context.Context, id cluster.JobID) error {
	entries, err := m.alloc.Queue(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		return m.teardown(ctx, e)
	}
	return fmt.Errorf("job %s: %w", id, cluster.ErrNotFound)
}

// KillAll tears down every desktop under the configured job name.
func (m *Manager) KillAll(ctx context.Context) error {
	entries, err := m.alloc.Queue(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := m.teardown(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) teardown(ctx context.Context, e slurm.QueueEntry) error {
	var errs []error
	if !e.Pending() {
		if err := m.sessions.KillAll(ctx, e.Node); err != nil {
			m.log.Warn("session teardown failed", "jobID", e.ID, "error", err)
			errs = append(errs, err)
		}
		if err := m.forwards.KillForNode(ctx, e.Node); err != nil {
			m.log.Warn("forward teardown failed", "jobID", e.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if err := m.alloc.Cancel(ctx, e.ID); err != nil {
		errs = append(errs, err)
	} else {
		m.log.Info("desktop torn down", "jobID", e.ID)
	}
	return errors.Join(errs...)
}

// Repair re-creates missing forwards for desktops that are still running.
// A session's remote port comes from its server process when the command
// line carries it and is derived from the display otherwise. Running it
// when nothing is broken changes nothing.
func (m *Manager) Repair(ctx context.Context) ([]string, error) {
	entries, err := m.alloc.Queue(ctx)
	if err != nil {
		return nil, err
	}

	var actions []string
	for _, e := range entries {
		if e.Pending() {
			continue
		}

		pids, err := m.alloc.ListPIDs(ctx, e.Node, e.ID)
		if err != nil {
			m.log.Warn("cannot inspect allocation", "jobID", e.ID, "error", err)
			actions = append(actions, fmt.Sprintf("job %s: skipped, cannot inspect allocation: %v", e.ID, err))
			continue
		}

		procs, err := m.sessions.Processes(ctx, e.Node)
		if err != nil {
			actions = append(actions, fmt.Sprintf("job %s: skipped, cannot scan node: %v", e.ID, err))
			continue
		}

		forwards, err := m.forwards.FindForNode(ctx, e.Node)
		if err != nil {
			actions = append(actions, fmt.Sprintf("job %s: skipped, cannot list forwards: %v", e.ID, err))
			continue
		}
		forwarded := make(map[cluster.Port]bool)
		for _, fwd := range forwards {
			forwarded[fwd.RemotePort] = true
		}

		for _, proc := range procs {
			if !pids[proc.PID] {
				continue
			}
			remote := proc.RFBPort
			if remote == 0 {
				remote = cluster.PortFor(m.cfg.VNCBasePort(), proc.Display)
			}
			if forwarded[remote] {
				continue
			}
			local, err := m.forwards.FreeLocalPort(ctx)
			if err != nil {
				return actions, err
			}
			if err := m.forwards.Create(ctx, e.Node, local, remote); err != nil {
				actions = append(actions, fmt.Sprintf("job %s: forward to port %s failed: %v", e.ID, remote, err))
				continue
			}
			actions = append(actions,
				fmt.Sprintf("job %s: restored forward %s -> %s:%s", e.ID, local, e.Node, remote))
		}
	}
	return actions, nil
}

// SetPassword prompts for and stores a new VNC password.
func (m *Manager) SetPassword(ctx context.Context) error {
	return m.sessions.SetPassword(ctx)
}

// HasPassword reports whether a VNC password exists.
func (m *Manager) HasPassword() (bool, error) {
	return m.sessions.HasPassword()
}
