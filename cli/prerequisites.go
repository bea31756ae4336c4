// Package cli provides utilities for validating the environment before any
// cluster operation runs.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/paths"
)

// Prerequisite represents a CLI tool hyakvnc depends on
type Prerequisite struct {
	Name        string // Command name (e.g., "salloc", "ssh")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
}

// DefaultPrerequisites returns the list of CLI tools needed by hyakvnc.
// They are all expected to be present on a cluster login node; a missing
// required tool usually means the command is running on the wrong host.
func DefaultPrerequisites(cfg config.Config) []Prerequisite {
	return []Prerequisite{
		{
			Name:        cfg.SSHBin,
			Required:    true,
			Description: "SSH client (node access and port forwards)",
		},
		{
			Name:        cfg.SallocBin,
			Required:    true,
			Description: "Slurm allocation tool",
		},
		{
			Name:        cfg.SqueueBin,
			Required:    true,
			Description: "Slurm queue listing tool",
		},
		{
			Name:        cfg.ScancelBin,
			Required:    true,
			Description: "Slurm job cancellation tool",
		},
		{
			Name:        cfg.ScontrolBin,
			Required:    true,
			Description: "Slurm control tool (allocation inspection)",
		},
		{
			Name:        cfg.NetstatBin,
			Required:    false,
			Description: "socket listing tool (optional, port probing)",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Error        error
}

// Check verifies that a CLI tool is available in PATH
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		result := Check(prereq)
		if !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)",
				prereq.Name, prereq.Description))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required tools (is this a cluster login node?):\n%s",
			strings.Join(missing, "\n"))
	}

	return nil
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// HasIntraClusterKey reports whether the user's authorized_keys mentions
// the login host, which is what lets the node-to-node SSH hops run without
// a password prompt. Absence is worth a warning, not a failure.
func HasIntraClusterKey(cfg config.Config) (bool, error) {
	path, err := paths.AuthorizedKeysPath()
	if err != nil {
		return false, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	host := cfg.LoginHost
	if i := strings.Index(host, "."); i > 0 {
		host = host[:i]
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), host) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
