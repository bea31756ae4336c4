// Package discover assembles the user's current desktop state from three
// independent sources: the scheduler queue, the per-node session lists, and
// the local forward processes. Each source can fail on its own; a failed
// source degrades the affected fields to unknown and adds a warning rather
// than failing the whole report.
package discover

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/logger"
	"github.com/uw-psych/hyakvnc/parse"
	"github.com/uw-psych/hyakvnc/session"
	"github.com/uw-psych/hyakvnc/slurm"
)

// QueueSource lists the user's scheduler jobs.
type QueueSource interface {
	Queue(ctx context.Context) ([]slurm.QueueEntry, error)
}

// SessionSource inspects VNC sessions on a node.
type SessionSource interface {
	List(ctx context.Context, node cluster.NodeName) (session.Listing, error)
	Alive(ctx context.Context, node cluster.NodeName, id cluster.JobID, display cluster.Display) (bool, error)
}

// ForwardSource lists the forwards targeting a node.
type ForwardSource interface {
	FindForNode(ctx context.Context, node cluster.NodeName) ([]parse.Forward, error)
}

// Liveness is a three-valued answer: a liveness check that could not run
// reports unknown, never a guess.
type Liveness int

const (
	LiveUnknown Liveness = iota
	LiveYes
	LiveNo
)

func (l Liveness) String() string {
	switch l {
	case LiveYes:
		return "yes"
	case LiveNo:
		return "no"
	default:
		return "unknown"
	}
}

// Session is one discovered VNC session with its derived connection port.
type Session struct {
	Display cluster.Display
	Port    cluster.Port
	Stale   bool
	Alive   Liveness
}

// Entry groups everything known about one allocation.
type Entry struct {
	Allocation slurm.QueueEntry
	Sessions   []Session
	Forwards   []parse.Forward
}

// Report is the full discovery result. Warnings carry the partial-failure
// and pending-job notes that the entries alone cannot express.
type Report struct {
	Entries  []Entry
	Warnings []string
}

// Correlator builds Reports from its three sources.
type Correlator struct {
	cfg      config.Config
	queue    QueueSource
	sessions SessionSource
	forwards ForwardSource
	log      *slog.Logger
}

// New returns a Correlator over the given sources.
func New(cfg config.Config, queue QueueSource, sessions SessionSource, forwards ForwardSource) *Correlator {
	return &Correlator{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		forwards: forwards,
		log:      logger.WithComponent("discover"),
	}
}

// Discover correlates all sources into one report. A failing source
// degrades its own fields to unknown and adds a warning; no source
// failure aborts the query. When the queue itself cannot be listed there
// is nothing to anchor sessions or forwards to, so the report is empty
// apart from the warning.
func (c *Correlator) Discover(ctx context.Context) (Report, error) {
	entries, err := c.queue.Queue(ctx)
	if err != nil {
		c.log.Warn("queue listing failed", "error", err)
		return Report{Warnings: []string{
			fmt.Sprintf("could not list jobs: %v", err),
		}}, nil
	}

	var report Report
	for _, alloc := range entries {
		entry := Entry{Allocation: alloc}
		if alloc.Pending() {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("job %s has no node yet (%s)", alloc.ID, alloc.Reason))
			report.Entries = append(report.Entries, entry)
			continue
		}

		listing, err := c.sessions.List(ctx, alloc.Node)
		if err != nil {
			c.log.Warn("session listing failed", "node", alloc.Node, "error", err)
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("job %s: could not list sessions on %s: %v", alloc.ID, alloc.Node, err))
		} else {
			entry.Sessions = c.collectSessions(ctx, &report, alloc, listing)
		}

		forwards, err := c.forwards.FindForNode(ctx, alloc.Node)
		if err != nil {
			c.log.Warn("forward listing failed", "node", alloc.Node, "error", err)
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("job %s: could not list forwards for %s: %v", alloc.ID, alloc.Node, err))
		} else {
			entry.Forwards = c.confirmForwards(ctx, alloc, forwards)
		}

		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}

// confirmForwards keeps only the forwards whose derived display passes the
// liveness check. A forward is reported at all only when its session is
// confirmed alive; an unconfirmed forward is dropped from the view rather
// than flagged, since restoring forwards is repair's job and never happens
// during a read-only query.
func (c *Correlator) confirmForwards(ctx context.Context, alloc slurm.QueueEntry, forwards []parse.Forward) []parse.Forward {
	var confirmed []parse.Forward
	for _, fwd := range forwards {
		display, err := cluster.DisplayFor(c.cfg.VNCBasePort(), fwd.RemotePort)
		if err != nil {
			c.log.Debug("forward outside display range", "remotePort", fwd.RemotePort)
			continue
		}
		alive, err := c.sessions.Alive(ctx, alloc.Node, alloc.ID, display)
		if err != nil || !alive {
			c.log.Debug("forward not confirmed", "localPort", fwd.LocalPort, "display", display, "error", err)
			continue
		}
		confirmed = append(confirmed, fwd)
	}
	return confirmed
}

func (c *Correlator) collectSessions(ctx context.Context, report *Report, alloc slurm.QueueEntry, listing session.Listing) []Session {
	var sessions []Session
	add := func(d cluster.Display, stale bool) {
		s := Session{
			Display: d,
			Port:    cluster.PortFor(c.cfg.VNCBasePort(), d),
			Stale:   stale,
		}
		if !stale {
			alive, err := c.sessions.Alive(ctx, alloc.Node, alloc.ID, d)
			switch {
			case err != nil:
				s.Alive = LiveUnknown
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("job %s: liveness of %s unknown: %v", alloc.ID, d, err))
			case alive:
				s.Alive = LiveYes
			default:
				s.Alive = LiveNo
			}
		} else {
			s.Alive = LiveNo
		}
		sessions = append(sessions, s)
	}
	for _, d := range listing.Active {
		add(d, false)
	}
	for _, d := range listing.Stale {
		add(d, true)
	}
	return sessions
}
