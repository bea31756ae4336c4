// Package cluster defines the typed identifiers shared across the scheduler,
// session, and tunnel layers. Keeping JobID, NodeName, Display, Port, and PID
// as distinct types makes the cross-source joins in discovery explicit instead
// of relying on substring matches between independently-obtained strings.
package cluster

import (
	"fmt"
	"strconv"
)

// JobID identifies a scheduler allocation. Opaque to everything except the
// scheduler itself.
type JobID string

func (j JobID) String() string { return string(j) }

// NodeName is the short hostname of a compute node (e.g. "n3000").
type NodeName string

func (n NodeName) String() string { return string(n) }

// Display is an X display number. Display numbers are unique per node at any
// instant.
type Display int

func (d Display) String() string { return ":" + strconv.Itoa(int(d)) }

// Port is a TCP port number, local or remote.
type Port int

func (p Port) String() string { return strconv.Itoa(int(p)) }

// PID is an operating-system process id.
type PID int

func (p PID) String() string { return strconv.Itoa(int(p)) }

// PortFor returns the VNC port for a display given the base port. The
// relationship port == base + display is an invariant of the whole system.
func PortFor(base Port, d Display) Port {
	return base + Port(d)
}

// DisplayFor inverts PortFor. It returns an error when the port is at or
// below the base, since display numbers start at 1.
func DisplayFor(base, p Port) (Display, error) {
	d := Display(p - base)
	if d <= 0 {
		return 0, fmt.Errorf("port %d is not above base port %d", p, base)
	}
	return d, nil
}

// ParsePID converts a decimal string to a PID.
func ParsePID(s string) (PID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	return PID(n), nil
}

// ParsePort converts a decimal string to a Port.
func ParsePort(s string) (Port, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return Port(n), nil
}
