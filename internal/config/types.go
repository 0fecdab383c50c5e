package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the duet.yaml manifest structure.
type Config struct {
	Version        string       `yaml:"version"`
	Name           string       `yaml:"name"`
	Workdir        string       `yaml:"workdir"`
	ReadinessDelay Duration     `yaml:"readinessDelay"`
	Server         *ProcessSpec `yaml:"server"`
	Inspector      *ProcessSpec `yaml:"inspector"`
	Metrics        *MetricsSpec `yaml:"metrics"`

	// ResolvedWorkdir is the absolute working-context path derived from
	// Workdir and the manifest location during Load.
	ResolvedWorkdir string `yaml:"-"`
}

// ProcessSpec describes one supervised process.
type ProcessSpec struct {
	Command     []string          `yaml:"command"`
	Shell       bool              `yaml:"shell"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Readiness   *ReadinessSpec    `yaml:"readiness"`
}

// Clone creates a deep copy of the process specification.
func (p *ProcessSpec) Clone() *ProcessSpec {
	if p == nil {
		return nil
	}
	cp := &ProcessSpec{
		Shell:       p.Shell,
		EnvFromFile: p.EnvFromFile,
	}
	if len(p.Command) > 0 {
		cp.Command = append([]string(nil), p.Command...)
	}
	if len(p.Env) > 0 {
		cp.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			cp.Env[k] = v
		}
	}
	if p.Readiness != nil {
		cp.Readiness = p.Readiness.Clone()
	}
	return cp
}

// ReadinessSpec configures probe-based readiness for the server process. When
// present it replaces the fixed readiness delay before the inspector launch.
type ReadinessSpec struct {
	HTTP     *HTTPProbeSpec    `yaml:"http"`
	TCP      *TCPProbeSpec     `yaml:"tcp"`
	Command  *CommandProbeSpec `yaml:"command"`
	Interval Duration          `yaml:"interval"`
	Timeout  Duration          `yaml:"timeout"`
	Deadline Duration          `yaml:"deadline"`
}

// Clone creates a deep copy of the readiness specification.
func (r *ReadinessSpec) Clone() *ReadinessSpec {
	if r == nil {
		return nil
	}
	cp := *r
	if r.HTTP != nil {
		h := *r.HTTP
		if len(r.HTTP.ExpectStatus) > 0 {
			h.ExpectStatus = append([]int(nil), r.HTTP.ExpectStatus...)
		}
		cp.HTTP = &h
	}
	if r.TCP != nil {
		t := *r.TCP
		cp.TCP = &t
	}
	if r.Command != nil {
		c := CommandProbeSpec{Command: append([]string(nil), r.Command.Command...)}
		cp.Command = &c
	}
	return &cp
}

// HTTPProbeSpec probes an HTTP endpoint.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
}

// TCPProbeSpec probes a TCP listener.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// CommandProbeSpec probes by running a command and checking its exit status.
type CommandProbeSpec struct {
	Command []string `yaml:"command"`
}

// MetricsSpec configures the optional Prometheus listener.
type MetricsSpec struct {
	Addr string `yaml:"addr"`
}

const (
	// DefaultReadinessDelay is the fixed wait inserted between the server
	// and inspector launches when no readiness probe is configured. It is a
	// heuristic, not a readiness guarantee.
	DefaultReadinessDelay = 2 * time.Second

	defaultProbeInterval = 250 * time.Millisecond
	defaultProbeTimeout  = 2 * time.Second
	defaultProbeDeadline = 30 * time.Second
)

// ApplyDefaults fills unset optional fields with their defaults.
func (c *Config) ApplyDefaults() {
	if !c.ReadinessDelay.IsSet() {
		c.ReadinessDelay = Duration{Duration: DefaultReadinessDelay}
	}
	if c.Server != nil && c.Server.Readiness != nil {
		r := c.Server.Readiness
		if !r.Interval.IsSet() {
			r.Interval = Duration{Duration: defaultProbeInterval}
		}
		if !r.Timeout.IsSet() {
			r.Timeout = Duration{Duration: defaultProbeTimeout}
		}
		if !r.Deadline.IsSet() {
			r.Deadline = Duration{Duration: defaultProbeDeadline}
		}
	}
}
