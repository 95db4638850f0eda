package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes a single invalid field in the servers document.
type ValidationError struct {
	Server string
	Field  string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("server %q: %s: %v", e.Server, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks every server entry and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Names() {
		sc := c.Servers[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, &ValidationError{Server: name, Field: "name", Err: errors.New("must not be empty")})
			continue
		}
		if sc == nil {
			errs = append(errs, &ValidationError{Server: name, Field: "config", Err: errors.New("must not be null")})
			continue
		}
		errs = append(errs, sc.validate(name)...)
	}
	return errors.Join(errs...)
}

func (s *ServerConfig) validate(name string) []error {
	var errs []error
	if _, err := s.Resolve(); err != nil {
		errs = append(errs, &ValidationError{Server: name, Field: "transport", Err: err})
	}
	if s.IdleTimeout < 0 {
		errs = append(errs, &ValidationError{Server: name, Field: "idleTimeout", Err: errors.New("must not be negative")})
	}
	switch s.Lifecycle {
	case "", LifecycleLazy, LifecycleEager:
	default:
		errs = append(errs, &ValidationError{Server: name, Field: "lifecycle", Err: fmt.Errorf("unknown value %q", s.Lifecycle)})
	}
	return errs
}
