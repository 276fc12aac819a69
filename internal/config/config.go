// Package config loads and validates the MCP Hangar configuration file
// (spec §6): provider specs, group specs, and the top-level health-check
// and rate-limit knobs.
//
// Grounded on the teacher's FileBasedConfiguration (cmd/docker-mcp/internal/gateway,
// not retrieved into this pack by name, but its shape is visible through
// run.go's g.configurator.Read(ctx) returning (Configuration, <-chan
// Configuration, stopFunc, error)) and its gopkg.in/yaml.v3 +
// github.com/fsnotify/fsnotify dependencies.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the provider deployment mode (spec §3 ProviderSpec.mode).
type Mode int

const (
	ModeUnknown Mode = iota
	ModeSubprocess
	ModeContainer
	ModeRemote
	ModeGroup
)

func (m Mode) String() string {
	switch m {
	case ModeSubprocess:
		return "subprocess"
	case ModeContainer:
		return "container"
	case ModeRemote:
		return "remote"
	case ModeGroup:
		return "group"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "subprocess":
		return ModeSubprocess, nil
	case "container":
		return ModeContainer, nil
	case "remote":
		return ModeRemote, nil
	case "group":
		return ModeGroup, nil
	default:
		return ModeUnknown, fmt.Errorf("config: unknown provider mode %q", s)
	}
}

func (m *Mode) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Strategy is a Load Balancer member-selection policy (spec §4.6).
type Strategy int

const (
	StrategyUnknown Strategy = iota
	StrategyRoundRobin
	StrategyWeightedRoundRobin
	StrategyRandom
	StrategyPriority
	StrategyLeastConnections
)

func (s Strategy) String() string {
	switch s {
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyWeightedRoundRobin:
		return "weighted_round_robin"
	case StrategyRandom:
		return "random"
	case StrategyPriority:
		return "priority"
	case StrategyLeastConnections:
		return "least_connections"
	default:
		return "unknown"
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "round_robin":
		return StrategyRoundRobin, nil
	case "weighted_round_robin":
		return StrategyWeightedRoundRobin, nil
	case "random":
		return StrategyRandom, nil
	case "priority":
		return StrategyPriority, nil
	case "least_connections":
		return StrategyLeastConnections, nil
	default:
		return StrategyUnknown, fmt.Errorf("config: unknown load balancer strategy %q", s)
	}
}

func (s *Strategy) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	parsed, err := ParseStrategy(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// HTTPOptions holds connect/read timeouts for remote providers.
type HTTPOptions struct {
	ConnectTimeoutS float64 `yaml:"connect_timeout"`
	ReadTimeoutS    float64 `yaml:"read_timeout"`
}

// ResourceLimits mirrors the container resources block.
type ResourceLimits struct {
	Memory string `yaml:"memory"`
	CPU    string `yaml:"cpu"`
}

// DeclaredTool is a fall-back tool descriptor usable before a provider's
// first successful handshake (spec §9 open question #1).
type DeclaredTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// Member is one (id, weight, priority) entry in a GroupSpec.
type Member struct {
	ID       string `yaml:"id"`
	Weight   int    `yaml:"weight"`
	Priority int    `yaml:"priority"`
}

// CircuitBreakerSpec carries the per-group breaker parameters.
type CircuitBreakerSpec struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	ResetTimeoutS    float64 `yaml:"reset_timeout_s"`
}

// ProviderSpec is one `providers.<id>` entry (spec §3).
type ProviderSpec struct {
	ID   string `yaml:"-"`
	Mode Mode   `yaml:"mode"`

	// subprocess
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`

	// container
	Image     string         `yaml:"image"`
	Volumes   []string       `yaml:"volumes"`
	Resources ResourceLimits `yaml:"resources"`
	Network   string         `yaml:"network"`

	// Writable opts a container provider out of the default read-only root
	// filesystem (spec §4.1: "read-only root" is the default policy).
	Writable bool `yaml:"writable"`

	// remote
	Endpoint string      `yaml:"endpoint"`
	HTTP     HTTPOptions `yaml:"http"`

	// lifecycle
	IdleTTLSeconds         int            `yaml:"idle_ttl_s"`
	HealthCheckIntervalS   int            `yaml:"health_check_interval_s"`
	MaxConsecutiveFailures int            `yaml:"max_consecutive_failures"`
	Tools                  []DeclaredTool `yaml:"tools"`

	// group-only
	Strategy       Strategy           `yaml:"strategy"`
	MinHealthy     int                `yaml:"min_healthy"`
	CircuitBreaker CircuitBreakerSpec `yaml:"circuit_breaker"`
	Members        []Member           `yaml:"members"`
}

func (p ProviderSpec) IdleTTL() time.Duration {
	return time.Duration(p.IdleTTLSeconds) * time.Second
}

func (p ProviderSpec) HealthCheckInterval() time.Duration {
	return time.Duration(p.HealthCheckIntervalS) * time.Second
}

// HealthCheckOptions is the top-level `health_check` block.
type HealthCheckOptions struct {
	Enabled    bool `yaml:"enabled"`
	IntervalS  int  `yaml:"interval_s"`
}

// RateLimitOptions is the top-level `rate_limit` block.
type RateLimitOptions struct {
	RPS int `yaml:"rps"`
}

// File is the parsed top-level configuration document.
type File struct {
	Providers   map[string]ProviderSpec `yaml:"providers"`
	HealthCheck HealthCheckOptions      `yaml:"health_check"`
	RateLimit   RateLimitOptions        `yaml:"rate_limit"`
}

// defaults applied when a field is left at its YAML zero value.
const (
	defaultIdleTTLSeconds             = 300
	defaultHealthCheckIntervalSeconds = 30
	defaultMaxConsecutiveFailures     = 3
	defaultHealthCheckTopIntervalS    = 30
)

func applyDefaults(f *File) {
	if f.HealthCheck.IntervalS == 0 {
		f.HealthCheck.IntervalS = defaultHealthCheckTopIntervalS
	}
	for id, p := range f.Providers {
		p.ID = id
		if p.IdleTTLSeconds == 0 {
			p.IdleTTLSeconds = defaultIdleTTLSeconds
		}
		if p.HealthCheckIntervalS == 0 {
			p.HealthCheckIntervalS = defaultHealthCheckIntervalSeconds
		}
		if p.MaxConsecutiveFailures == 0 {
			p.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
		}
		f.Providers[id] = p
	}
}

// Parse parses raw YAML bytes into a validated File.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	applyDefaults(&f)
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the cross-entity invariants spec §3 requires: unique ids
// across providers/groups, min_healthy bounds, no nested groups, and that
// every group member refers to a real provider id.
func Validate(f *File) error {
	for id, p := range f.Providers {
		if p.Mode == ModeGroup {
			if p.MinHealthy > len(p.Members) {
				return fmt.Errorf("config: group %q: min_healthy (%d) exceeds member count (%d)", id, p.MinHealthy, len(p.Members))
			}
			for _, m := range p.Members {
				member, ok := f.Providers[m.ID]
				if !ok {
					return fmt.Errorf("config: group %q: unknown member %q", id, m.ID)
				}
				if member.Mode == ModeGroup {
					return fmt.Errorf("config: group %q: member %q is itself a group (groups never nest)", id, m.ID)
				}
			}
			if p.Strategy == StrategyUnknown {
				return fmt.Errorf("config: group %q: missing or invalid strategy", id)
			}
		} else if p.Mode == ModeUnknown {
			return fmt.Errorf("config: provider %q: missing or invalid mode", id)
		}
	}
	return nil
}

// SearchPaths returns the config search order (spec §6): explicit path
// (if non-empty), process env var, user-config directory, current
// directory default. It returns every candidate; Resolve is the one that
// stops at the first path that exists.
func SearchPaths(explicit string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if envPath := os.Getenv("MCP_HANGAR_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}
	if home, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(home, "mcp-hangar", "hangar.yaml"))
	}
	paths = append(paths, "hangar.yaml")
	return paths
}

// Resolve walks SearchPaths(explicit) and returns the first path that
// exists on disk.
func Resolve(explicit string) (string, error) {
	for _, p := range SearchPaths(explicit) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("config: no configuration file found (searched %v)", SearchPaths(explicit))
}

// Load resolves and parses the configuration file.
func Load(explicit string) (*File, string, error) {
	path, err := Resolve(explicit)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}
