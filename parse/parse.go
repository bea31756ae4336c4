// Package parse contains the structured parsers for the text output of the
// external tools hyakvnc drives: salloc, squeue, scontrol, vncserver, ps,
// and netstat. Each expected message shape gets one parser returning typed
// fields and an ok flag; lines that do not match are Unrecognized (ok=false)
// and callers skip them instead of guessing. None of the parsers touch a
// process: they take lines, which keeps them testable against recorded
// output.
package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/uw-psych/hyakvnc/cluster"
)

var (
	// salloc: Pending job allocation 864875
	// salloc: Granted job allocation 864875
	allocationRe = regexp.MustCompile(`^salloc: (?:Granted|Pending) job allocation (\d+)`)

	// salloc: Nodes n3000 are ready for job
	nodeReadyRe = regexp.MustCompile(`^salloc: Nodes (\S+) are ready for job`)

	// New 'n3000.hyak.local:1 (hansem7)' desktop at :1 on machine n3000.hyak.local
	// New 'n3000.hyak.local:6 (hansem7)' desktop is n3000.hyak.local:6
	desktopRe = regexp.MustCompile(`^New '[^:]+:(\d+) \([^)]+\)' desktop`)

	// :1		7280 (stale)
	// :20		30
	sessionRowRe = regexp.MustCompile(`^:(\d+)\s+(\d+)`)

	//  2772462 ssh -N -f -L 5901:127.0.0.1:5902 n3000.hyak.local
	forwardRe = regexp.MustCompile(`^\s*(\d+)\s+ssh -N -f -L (\d+):127\.0\.0\.1:(\d+)\s+(\S+)`)

	//  7280 /usr/bin/Xtigervnc :1 -rfbport 5901 -desktop ...
	vncProcessRe = regexp.MustCompile(`^\s*(\d+)\s+\S*X(?:tiger)?vnc\s+:(\d+)\b`)
	rfbPortRe    = regexp.MustCompile(`-rfbport\s+(\d+)\b`)

	// host:port endpoint at the end of an address field
	endpointPortRe = regexp.MustCompile(`[:.](\d+)$`)

	//  7280 12345 ... (scontrol listpids row: PID JOBID STEPID LOCALID GLOBALID)
	pidRowRe = regexp.MustCompile(`^\s*(\d+)\s+(\d+)`)
)

// AllocationID extracts the job id from a salloc pending/granted line.
func AllocationID(line string) (cluster.JobID, bool) {
	m := allocationRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return cluster.JobID(m[1]), true
}

// NodeReady extracts the node name from a salloc node-ready line.
func NodeReady(line string) (cluster.NodeName, bool) {
	m := nodeReadyRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return cluster.NodeName(m[1]), true
}

// QueueRow is one entry of the scheduler's live queue, produced by
// squeue with the `%i %t %L %R` output format: job id, state code, time
// left, and node-or-reason.
type QueueRow struct {
	ID       cluster.JobID
	State    string
	TimeLeft string
	Node     cluster.NodeName
	// Placeholder is set instead of Node when the scheduler reported a
	// pending/blocked reason (e.g. "Resources", "QOSGrpCpuLimit") in the
	// node column. It must never be treated as a real node.
	Placeholder string
}

// Pending reports whether the row carries a placeholder instead of a node.
func (r QueueRow) Pending() bool { return r.Placeholder != "" }

// SqueueFormat is the output format QueueRow expects; pass it to squeue -o.
const SqueueFormat = "%i %t %L %R"

// Queue parses a squeue row in SqueueFormat.
func Queue(line string) (QueueRow, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return QueueRow{}, false
	}
	id := fields[0]
	if id == "" || id == "JOBID" {
		return QueueRow{}, false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return QueueRow{}, false
		}
	}
	row := QueueRow{
		ID:       cluster.JobID(id),
		State:    fields[1],
		TimeLeft: fields[2],
	}
	last := strings.Join(fields[3:], " ")
	if strings.HasPrefix(last, "(") {
		row.Placeholder = strings.Trim(last, "()")
	} else {
		row.Node = cluster.NodeName(last)
	}
	return row, true
}

// Desktop extracts the assigned display number from a vncserver startup
// confirmation line.
func Desktop(line string) (cluster.Display, bool) {
	m := desktopRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return cluster.Display(d), true
}

// SessionRow is one entry of a `vncserver -list` table.
type SessionRow struct {
	Display cluster.Display
	PID     cluster.PID
	Stale   bool
}

// SessionList parses one row of the `vncserver -list` table. staleMarker is
// the marker text the tool appends to dead entries; it is configuration, not
// a documented contract. Header and blank lines are Unrecognized.
func SessionList(line, staleMarker string) (SessionRow, bool) {
	trimmed := strings.TrimSpace(line)
	m := sessionRowRe.FindStringSubmatch(trimmed)
	if m == nil {
		return SessionRow{}, false
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return SessionRow{}, false
	}
	pid, err := cluster.ParsePID(m[2])
	if err != nil {
		return SessionRow{}, false
	}
	return SessionRow{
		Display: cluster.Display(d),
		PID:     pid,
		Stale:   staleMarker != "" && strings.Contains(trimmed, staleMarker),
	}, true
}

// KillConfirmed reports whether a `vncserver -kill` output line confirms the
// kill. "Can't kill" failures and chatter do not match.
func KillConfirmed(line string) bool {
	return strings.Contains(line, "success")
}

// Forward describes one local tunnel process: a local port forwarded to a
// remote port on a target host.
type Forward struct {
	PID        cluster.PID
	LocalPort  cluster.Port
	RemotePort cluster.Port
	Host       string
}

// ForwardProcess parses a `ps -o pid=,args=` row describing an ssh port
// forward started by this tool.
func ForwardProcess(line string) (Forward, bool) {
	m := forwardRe.FindStringSubmatch(line)
	if m == nil {
		return Forward{}, false
	}
	pid, err := cluster.ParsePID(m[1])
	if err != nil {
		return Forward{}, false
	}
	local, err := cluster.ParsePort(m[2])
	if err != nil {
		return Forward{}, false
	}
	remote, err := cluster.ParsePort(m[3])
	if err != nil {
		return Forward{}, false
	}
	return Forward{PID: pid, LocalPort: local, RemotePort: remote, Host: m[4]}, true
}

// VNCProcess describes a display-server process found in a node's process
// table. RFBPort is 0 when the command line did not carry -rfbport.
type VNCProcess struct {
	PID     cluster.PID
	Display cluster.Display
	RFBPort cluster.Port
}

// VNCServerProcess parses a `ps -o pid=,args=` row describing an Xvnc or
// Xtigervnc process.
func VNCServerProcess(line string) (VNCProcess, bool) {
	m := vncProcessRe.FindStringSubmatch(line)
	if m == nil {
		return VNCProcess{}, false
	}
	pid, err := cluster.ParsePID(m[1])
	if err != nil {
		return VNCProcess{}, false
	}
	d, err := strconv.Atoi(m[2])
	if err != nil {
		return VNCProcess{}, false
	}
	proc := VNCProcess{PID: pid, Display: cluster.Display(d)}
	if pm := rfbPortRe.FindStringSubmatch(line); pm != nil {
		if port, err := cluster.ParsePort(pm[1]); err == nil {
			proc.RFBPort = port
		}
	}
	return proc, true
}

// ListeningPort extracts the local port from a netstat or ss listening-socket
// row. Only lines carrying the LISTEN state are considered.
func ListeningPort(line string) (cluster.Port, bool) {
	if !strings.Contains(line, "LISTEN") {
		return 0, false
	}
	fields := strings.Fields(line)
	for _, f := range fields {
		// The local address is the first field that looks like an
		// endpoint (host:port or host.port).
		m := endpointPortRe.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		port, err := cluster.ParsePort(m[1])
		if err != nil {
			continue
		}
		return port, true
	}
	return 0, false
}

// JobPID parses one data row of `scontrol listpids <jobid>` output
// (PID JOBID STEPID LOCALID GLOBALID). The header row is Unrecognized.
func JobPID(line string) (cluster.PID, bool) {
	m := pidRowRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pid, err := cluster.ParsePID(m[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}
