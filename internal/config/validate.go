package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ValidationError lists every problem found in a configuration. It is a
// startup error and must not be retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks required fields, name uniqueness and cross references
// between workflows, schedules and agents.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if u, err := url.Parse(c.Bridge.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		verr.add("bridge.base_url %q is not an absolute URL", c.Bridge.BaseURL)
	}
	if c.Bridge.Timeout <= 0 {
		verr.add("bridge.timeout must be positive")
	}
	if c.Bridge.HealthTimeout <= 0 {
		verr.add("bridge.health_timeout must be positive")
	}
	if !strings.HasPrefix(c.Bridge.HealthPath, "/") {
		verr.add("bridge.health_path must start with /")
	}

	names := make(map[string]string, len(c.Agents))
	for _, key := range sortedKeys(c.Agents) {
		def := c.Agents[key]
		if strings.TrimSpace(key) == "" {
			verr.add("agent with empty key")
		}
		if def.Name == "" {
			verr.add("agent %s: name is required", key)
		} else if other, dup := names[def.Name]; dup {
			verr.add("agent %s: name %q already used by agent %s", key, def.Name, other)
		} else {
			names[def.Name] = key
		}
		if !strings.HasPrefix(def.Endpoint, "/") {
			verr.add("agent %s: endpoint %q must start with /", key, def.Endpoint)
		}
		if def.Model == "" {
			verr.add("agent %s: model is required", key)
		}
		if def.Temperature < 0 || def.Temperature > 2 {
			verr.add("agent %s: temperature %v out of range [0, 2]", key, def.Temperature)
		}
		if def.MaxIterations < 1 {
			verr.add("agent %s: max_iterations must be at least 1", key)
		}
	}

	workflowNames := make(map[string]string, len(c.Workflows))
	for _, key := range sortedKeys(c.Workflows) {
		wf := c.Workflows[key]
		display := wf.Name
		if display == "" {
			display = key
		}
		if other, dup := workflowNames[display]; dup {
			verr.add("workflow %s: name %q already used by workflow %s", key, display, other)
		} else {
			workflowNames[display] = key
		}
		if len(wf.Steps) == 0 {
			verr.add("workflow %s: at least one step is required", key)
		}
		for i, step := range wf.Steps {
			if _, ok := c.Agents[step.Agent]; !ok {
				verr.add("workflow %s: step %d references unknown agent %q", key, i+1, step.Agent)
			}
		}
	}

	// Lookup tries keys before display names, so a name equal to another
	// workflow's key would be unreachable by name.
	for _, key := range sortedKeys(c.Workflows) {
		name := c.Workflows[key].Name
		if name == "" || name == key {
			continue
		}
		if _, clash := c.Workflows[name]; clash {
			verr.add("workflow %s: name %q collides with workflow key %s", key, name, name)
		}
	}

	g := gronx.New()
	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if _, ok := c.Workflows[s.Workflow]; !ok {
			verr.add("schedule %s: unknown workflow %q", label, s.Workflow)
		}
		switch {
		case s.Cron != "" && s.Every != 0:
			verr.add("schedule %s: set either cron or every, not both", label)
		case s.Cron != "":
			if !g.IsValid(s.Cron) {
				verr.add("schedule %s: invalid cron expression %q", label, s.Cron)
			}
		case s.Every != 0:
			if s.Every < time.Second {
				verr.add("schedule %s: every must be at least 1s", label)
			}
		default:
			verr.add("schedule %s: cron or every is required", label)
		}
		if s.Name != "" {
			if seen[s.Name] {
				verr.add("schedule %s: duplicate name", label)
			}
			seen[s.Name] = true
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
