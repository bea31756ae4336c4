// Package config holds the static configuration for hyakvnc. A Config is a
// plain value: it is loaded (or defaulted) once at startup, validated, and
// then passed into each component's constructor. Nothing mutates it after
// that point.
package config

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uw-psych/hyakvnc/cluster"
)

// memoryRe matches scheduler memory specs like "16G" or "512M".
var memoryRe = regexp.MustCompile(`^[0-9]+[KMGT]$`)

// Config carries every tunable the components need. Zero fields are filled
// from Default() during Load, so a partial config file only overrides what
// it names.
type Config struct {
	// Scheduler defaults for `create`.
	Partition     string `yaml:"partition"`
	Account       string `yaml:"account"`
	JobName       string `yaml:"job_name"`
	WallTimeHours int    `yaml:"wall_time_hours"`
	CPUs          int    `yaml:"cpus"`
	Memory        string `yaml:"memory"`
	GPUs          string `yaml:"gpus,omitempty"` // optional gres spec, e.g. "gpu:1"

	// The VNC base port. port == base_port + display everywhere.
	BasePort int `yaml:"base_port"`

	// Port probing and tunnel confirmation.
	PortProbeWindow        int `yaml:"port_probe_window"`
	TunnelConfirmAttempts  int `yaml:"tunnel_confirm_attempts"`
	TunnelConfirmIntervalS int `yaml:"tunnel_confirm_interval_seconds"`

	// Timeouts, in seconds.
	AllocTimeoutS  int `yaml:"alloc_timeout_seconds"`
	RemoteTimeoutS int `yaml:"remote_timeout_seconds"`

	// Cluster addressing.
	LoginHost  string `yaml:"login_host"`
	NodeDomain string `yaml:"node_domain"`

	// Marker text the session lister appends to dead entries. Upstream
	// tool behavior, not a documented contract, so it is configuration.
	StaleMarker string `yaml:"stale_marker"`

	// External binaries.
	SSHBin      string `yaml:"ssh_bin"`
	SallocBin   string `yaml:"salloc_bin"`
	SqueueBin   string `yaml:"squeue_bin"`
	ScancelBin  string `yaml:"scancel_bin"`
	ScontrolBin string `yaml:"scontrol_bin"`
	NetstatBin  string `yaml:"netstat_bin"`

	// Container used to run the desktop environment on the node.
	ContainerBin  string `yaml:"container_bin"`
	ContainerImg  string `yaml:"container_image"`
	ContainerBind string `yaml:"container_bindpath"`
	XStartupPath  string `yaml:"xstartup_path"`

	// Remote directories holding display/IPC sockets cleaned on teardown.
	X11SocketDir string `yaml:"x11_socket_dir"`
	ICESocketDir string `yaml:"ice_socket_dir"`

	// User defaults to the invoking user.
	User string `yaml:"user,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Partition:     "compute-hugemem",
		Account:       "ece",
		JobName:       "vnc",
		WallTimeHours: 4,
		CPUs:          8,
		Memory:        "16G",

		BasePort: 5900,

		PortProbeWindow:        300,
		TunnelConfirmAttempts:  20,
		TunnelConfirmIntervalS: 1,

		AllocTimeoutS:  120,
		RemoteTimeoutS: 30,

		LoginHost:  "klone.hyak.uw.edu",
		NodeDomain: "hyak.local",

		StaleMarker: "(stale)",

		SSHBin:      "ssh",
		SallocBin:   "salloc",
		SqueueBin:   "squeue",
		ScancelBin:  "scancel",
		ScontrolBin: "scontrol",
		NetstatBin:  "netstat",

		ContainerBin:  "singularity",
		ContainerImg:  "/gscratch/ece/xfce_singularity/xfce.sif",
		ContainerBind: "/tmp:/tmp,$HOME,/gscratch,/opt:/opt",
		XStartupPath:  "/gscratch/ece/xfce_singularity/xstartup",

		X11SocketDir: "/tmp/.X11-unix",
		ICESocketDir: "/tmp/.ICE-unix",
	}
}

// Load reads the config file at path, layering it over Default(). A missing
// file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := cfg.fillUser(); err != nil {
			return Config{}, err
		}
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.fillUser(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) fillUser() error {
	if c.User != "" {
		return nil
	}
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to determine current user: %w", err)
	}
	c.User = u.Username
	return nil
}

// Validate checks that the config is internally consistent.
func (c Config) Validate() error {
	if c.Partition == "" {
		return fmt.Errorf("partition must not be empty")
	}
	if c.Account == "" {
		return fmt.Errorf("account must not be empty")
	}
	if c.JobName == "" {
		return fmt.Errorf("job_name must not be empty")
	}
	if c.WallTimeHours <= 0 {
		return fmt.Errorf("wall_time_hours must be positive, got %d", c.WallTimeHours)
	}
	if c.CPUs <= 0 {
		return fmt.Errorf("cpus must be positive, got %d", c.CPUs)
	}
	if !memoryRe.MatchString(c.Memory) {
		return fmt.Errorf("memory %q is not of the form <n>[KMGT]", c.Memory)
	}
	if c.BasePort <= 1024 {
		return fmt.Errorf("base_port must be above 1024, got %d", c.BasePort)
	}
	if c.PortProbeWindow <= 0 {
		return fmt.Errorf("port_probe_window must be positive, got %d", c.PortProbeWindow)
	}
	if c.TunnelConfirmAttempts <= 0 {
		return fmt.Errorf("tunnel_confirm_attempts must be positive, got %d", c.TunnelConfirmAttempts)
	}
	if c.AllocTimeoutS <= 0 {
		return fmt.Errorf("alloc_timeout_seconds must be positive, got %d", c.AllocTimeoutS)
	}
	if c.RemoteTimeoutS <= 0 {
		return fmt.Errorf("remote_timeout_seconds must be positive, got %d", c.RemoteTimeoutS)
	}
	if c.User == "" {
		return fmt.Errorf("user must not be empty")
	}
	return nil
}

// AllocTimeout returns the allocation wait bound.
func (c Config) AllocTimeout() time.Duration {
	return time.Duration(c.AllocTimeoutS) * time.Second
}

// RemoteTimeout returns the per-remote-command bound.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutS) * time.Second
}

// TunnelConfirmInterval returns the pause between listening-socket polls.
func (c Config) TunnelConfirmInterval() time.Duration {
	return time.Duration(c.TunnelConfirmIntervalS) * time.Second
}

// VNCBasePort returns the base port as a typed Port.
func (c Config) VNCBasePort() cluster.Port {
	return cluster.Port(c.BasePort)
}

// NodeHostname returns the full hostname for a node name, e.g.
// "n3000" → "n3000.hyak.local".
func (c Config) NodeHostname(node cluster.NodeName) string {
	if c.NodeDomain == "" {
		return string(node)
	}
	return string(node) + "." + c.NodeDomain
}

// ContainerExec returns the command prefix that runs a command inside the
// desktop container on a node.
func (c Config) ContainerExec() string {
	return fmt.Sprintf("%s exec -B %s %s", c.ContainerBin, c.ContainerBind, c.ContainerImg)
}

// Save writes the config to path as YAML, creating parent directories as
// needed.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
