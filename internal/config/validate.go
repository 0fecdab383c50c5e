package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the manifest for structural problems. It operates on raw
// field values, before path resolution.
func (c *Config) Validate() error {
	if c.Workdir == "" {
		return errors.New("workdir: required")
	}
	if c.ReadinessDelay.Duration < 0 {
		return fmt.Errorf("readinessDelay: must be non-negative, got %s", c.ReadinessDelay.Duration)
	}
	if c.Server == nil {
		return errors.New("server: required")
	}
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Inspector != nil {
		if err := c.Inspector.validate(); err != nil {
			return fmt.Errorf("inspector: %w", err)
		}
		if c.Inspector.Readiness != nil {
			return errors.New("inspector: readiness probes are only supported on the server process")
		}
	}
	return nil
}

func (p *ProcessSpec) validate() error {
	if len(p.Command) == 0 {
		return errors.New("command: required")
	}
	if p.Command[0] == "" {
		return errors.New("command: first element must name a program")
	}
	if p.Readiness != nil {
		if err := p.Readiness.validate(); err != nil {
			return fmt.Errorf("readiness: %w", err)
		}
	}
	return nil
}

func (r *ReadinessSpec) validate() error {
	configured := 0
	if r.HTTP != nil {
		configured++
		if r.HTTP.URL == "" {
			return errors.New("http: url is required")
		}
		if _, err := url.ParseRequestURI(r.HTTP.URL); err != nil {
			return fmt.Errorf("http: invalid url %q: %w", r.HTTP.URL, err)
		}
	}
	if r.TCP != nil {
		configured++
		if r.TCP.Address == "" {
			return errors.New("tcp: address is required")
		}
	}
	if r.Command != nil {
		configured++
		if len(r.Command.Command) == 0 {
			return errors.New("command: requires at least one argument")
		}
	}
	if configured == 0 {
		return errors.New("one of http, tcp or command must be set")
	}
	if configured > 1 {
		return errors.New("http, tcp and command are mutually exclusive")
	}
	if r.Interval.Duration < 0 || r.Timeout.Duration < 0 || r.Deadline.Duration < 0 {
		return errors.New("interval, timeout and deadline must be non-negative")
	}
	return nil
}
