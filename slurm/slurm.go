// Package slurm manages compute-node allocations through the cluster
// scheduler's command-line tools. Allocations are reserved with salloc in
// no-shell mode, observed through squeue, and released with scancel.
package slurm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/parse"
	"github.com/uw-psych/hyakvnc/remote"
)

// AllocState tracks an allocation through its lifecycle.
type AllocState int

const (
	// StateUnsubmitted: salloc has not acknowledged the request yet.
	StateUnsubmitted AllocState = iota
	// StatePending: the scheduler queued the request but no node is
	// assigned yet.
	StatePending
	// StateGranted: a node is assigned and ready.
	StateGranted
	// StateCancelled: the allocation was released.
	StateCancelled
)

func (s AllocState) String() string {
	switch s {
	case StateUnsubmitted:
		return "unsubmitted"
	case StatePending:
		return "pending"
	case StateGranted:
		return "granted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AllocationSpec describes the resources to request.
type AllocationSpec struct {
	Partition     string
	Account       string
	JobName       string
	WallTimeHours int
	CPUs          int
	Memory        string
	GPUs          string
}

// SpecFromConfig builds an AllocationSpec from configured defaults.
func SpecFromConfig(cfg config.Config) AllocationSpec {
	return AllocationSpec{
		Partition:     cfg.Partition,
		Account:       cfg.Account,
		JobName:       cfg.JobName,
		WallTimeHours: cfg.WallTimeHours,
		CPUs:          cfg.CPUs,
		Memory:        cfg.Memory,
		GPUs:          cfg.GPUs,
	}
}

// Allocation is a granted (or in-flight) scheduler allocation.
type Allocation struct {
	ID    cluster.JobID
	Node  cluster.NodeName
	State AllocState
}

// QueueEntry is one of the user's queued or running jobs as reported by the
// scheduler, including placeholder rows for jobs without a node.
type QueueEntry struct {
	ID       cluster.JobID
	State    string
	TimeLeft string
	Node     cluster.NodeName
	// Reason is the scheduler's pending reason when no node is assigned.
	Reason string
}

// Pending reports whether the entry has no node yet.
func (e QueueEntry) Pending() bool { return e.Reason != "" }

// Manager reserves, inspects, and releases allocations.
type Manager struct {
	cfg      config.Config
	executor exec.CommandExecutor
	runner   *remote.Runner
	log      *slog.Logger
}

// NewManager returns a Manager backed by the given executor.
func NewManager(cfg config.Config, executor exec.CommandExecutor) *Manager {
	return &Manager{
		cfg:      cfg,
		executor: executor,
		runner:   remote.NewRunner(cfg, executor),
		log:      logger.WithComponent("slurm"),
	}
}

// sallocArgs builds the argument list for a no-shell reservation.
func sallocArgs(spec AllocationSpec) []string {
	args := []string{
		"--no-shell",
		"-J", spec.JobName,
		"-p", spec.Partition,
		"-A", spec.Account,
		"-c", fmt.Sprintf("%d", spec.CPUs),
		"--mem=" + spec.Memory,
		"--time=" + fmt.Sprintf("%d:00:00", spec.WallTimeHours),
	}
	if spec.GPUs != "" {
		args = append(args, "--gres="+spec.GPUs)
	}
	return args
}

// Reserve requests an allocation and waits until the scheduler reports the
// node ready, up to the configured allocation timeout. On timeout the
// request is cancelled before returning cluster.ErrTimeout, so no orphan
// allocation is left behind. If salloc's output never matches the expected
// confirmation lines the error is cluster.ErrParseMismatch.
func (m *Manager) Reserve(ctx context.Context, spec AllocationSpec) (Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AllocTimeout())
	defer cancel()

	m.log.Info("requesting allocation",
		"partition", spec.Partition, "account", spec.Account,
		"cpus", spec.CPUs, "memory", spec.Memory, "hours", spec.WallTimeHours)

	stream, err := m.executor.Stream(ctx, m.cfg.SallocBin, sallocArgs(spec)...)
	if err != nil {
		return Allocation{}, fmt.Errorf("starting salloc: %w", err)
	}
	defer stream.Close()

	alloc := Allocation{State: StateUnsubmitted}
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		if id, ok := parse.AllocationID(line); ok {
			alloc.ID = id
			alloc.State = StatePending
			m.log.Info("allocation acknowledged", "jobID", id)
			continue
		}
		if node, ok := parse.NodeReady(line); ok {
			alloc.Node = node
			alloc.State = StateGranted
			m.log.Info("allocation granted", "jobID", alloc.ID, "node", node)
			return alloc, nil
		}
	}

	// The stream ended without a ready line. salloc in no-shell mode can
	// detach before printing it, so fall back to polling the queue as
	// long as the request was at least acknowledged.
	if alloc.ID != "" {
		granted, err := m.waitGranted(ctx, alloc)
		if err == nil {
			return granted, nil
		}
		m.abandon(alloc.ID)
		if errors.Is(err, context.DeadlineExceeded) {
			return alloc, fmt.Errorf("allocation %s not ready after %v: %w",
				alloc.ID, m.cfg.AllocTimeout(), cluster.ErrTimeout)
		}
		return alloc, err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return alloc, fmt.Errorf("allocation not granted after %v: %w",
			m.cfg.AllocTimeout(), cluster.ErrTimeout)
	}
	// An interrupted request is a cancellation, not a mismatch in what
	// salloc printed.
	if ctx.Err() != nil {
		return alloc, fmt.Errorf("allocation request cancelled: %w", ctx.Err())
	}
	if err := stream.Err(); err != nil {
		return alloc, fmt.Errorf("reading salloc output: %w", err)
	}
	return alloc, fmt.Errorf("salloc output: %w", cluster.ErrParseMismatch)
}

// waitGranted polls the queue until the allocation shows a node.
func (m *Manager) waitGranted(ctx context.Context, alloc Allocation) (Allocation, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		entries, err := m.Queue(ctx)
		if err == nil {
			for _, e := range entries {
				if e.ID != alloc.ID {
					continue
				}
				if !e.Pending() && e.Node != "" {
					alloc.Node = e.Node
					alloc.State = StateGranted
					m.log.Info("allocation granted via queue", "jobID", alloc.ID, "node", e.Node)
					return alloc, nil
				}
				m.log.Debug("allocation still pending", "jobID", alloc.ID, "reason", e.Reason)
			}
		}

		select {
		case <-ctx.Done():
			return alloc, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abandon cancels a timed-out request on a best-effort basis, outside the
// already-expired caller context.
func (m *Manager) abandon(id cluster.JobID) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RemoteTimeout())
	defer cancel()
	if err := m.Cancel(ctx, id); err != nil {
		m.log.Warn("failed to cancel timed-out allocation", "jobID", id, "error", err)
	}
}

// Queue lists the user's jobs under the configured job name. Placeholder
// rows (pending jobs without a node) are included; callers decide whether
// they matter.
func (m *Manager) Queue(ctx context.Context) ([]QueueEntry, error) {
	out, err := m.executor.CombinedOutput(ctx, m.cfg.SqueueBin,
		"-u", m.cfg.User,
		"-n", m.cfg.JobName,
		"-o", parse.SqueueFormat,
		"-h")
	if err != nil {
		return nil, fmt.Errorf("squeue: %w", err)
	}

	var entries []QueueEntry
	for _, line := range strings.Split(string(out), "\n") {
		row, ok := parse.Queue(line)
		if !ok {
			continue
		}
		entries = append(entries, QueueEntry{
			ID:       row.ID,
			State:    row.State,
			TimeLeft: row.TimeLeft,
			Node:     row.Node,
			Reason:   row.Placeholder,
		})
	}
	return entries, nil
}

// TimeLeft returns the scheduler's remaining walltime string for id, or
// cluster.ErrNotFound when the job is no longer queued.
func (m *Manager) TimeLeft(ctx context.Context, id cluster.JobID) (string, error) {
	entries, err := m.Queue(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == id {
			return e.TimeLeft, nil
		}
	}
	return "", fmt.Errorf("job %s: %w", id, cluster.ErrNotFound)
}

// Cancel releases an allocation. Cancelling a job that no longer exists is
// not an error; teardown paths call this without checking first.
func (m *Manager) Cancel(ctx context.Context, id cluster.JobID) error {
	if id == "" {
		return nil
	}
	out, err := m.executor.CombinedOutput(ctx, m.cfg.ScancelBin, id.String())
	if err != nil {
		if strings.Contains(string(out), "Invalid job id") {
			m.log.Debug("cancel of unknown job", "jobID", id)
			return nil
		}
		return fmt.Errorf("scancel %s: %w", id, err)
	}
	m.log.Info("allocation cancelled", "jobID", id)
	return nil
}

// ListPIDs returns the set of process IDs belonging to the allocation,
// queried on its node. This is the authoritative membership test for
// deciding whether a process is part of a given allocation.
func (m *Manager) ListPIDs(ctx context.Context, node cluster.NodeName, id cluster.JobID) (map[cluster.PID]bool, error) {
	lines, err := m.runner.Lines(ctx, node, fmt.Sprintf("%s listpids %s", m.cfg.ScontrolBin, id))
	if err != nil {
		return nil, fmt.Errorf("listing pids for job %s: %w", id, err)
	}
	pids := make(map[cluster.PID]bool)
	for _, line := range lines {
		if pid, ok := parse.JobPID(line); ok {
			pids[pid] = true
		}
	}
	return pids, nil
}
