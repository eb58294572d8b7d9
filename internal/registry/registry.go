// Package registry loads the immutable description of every managed service.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/xdg"

	"gopkg.in/yaml.v3"
)

// Service is one entry in the registry. It is never mutated after Load.
type Service struct {
	ID             string            `yaml:"id" json:"id"`
	Name           string            `yaml:"name" json:"name"`
	Group          string            `yaml:"group" json:"group"`
	Description    string            `yaml:"description,omitempty" json:"description,omitempty"`
	Port           int               `yaml:"port,omitempty" json:"port,omitempty"`
	HealthEndpoint string            `yaml:"health_endpoint,omitempty" json:"health_endpoint,omitempty"`
	HealthURL      string            `yaml:"health_url,omitempty" json:"health_url,omitempty"`
	StartCommand   string            `yaml:"start_command" json:"start_command"`
	WorkingDir     string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Dependencies   []string          `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Ghost          bool              `yaml:"ghost,omitempty" json:"ghost"`
	GhostETA       string            `yaml:"ghost_eta,omitempty" json:"ghost_eta,omitempty"`
	TransientPaths []string          `yaml:"transient_paths,omitempty" json:"transient_paths,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// HealthCheckEndpoint returns the URL the health loop probes. An explicit
// health_url wins; otherwise the port and health_endpoint are combined.
func (s *Service) HealthCheckEndpoint() string {
	if s.HealthURL != "" {
		return s.HealthURL
	}
	if s.Port == 0 {
		return ""
	}
	path := s.HealthEndpoint
	if path == "" {
		path = constants.DefaultHealthEndpoint
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.Port, path)
}

// Edge is a dependency edge: To depends on From.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Registry is the validated, read-only service set
type Registry struct {
	services []*Service
	byID     map[string]*Service
	// dependents[id] lists services that directly depend on id
	dependents map[string][]string
}

type file struct {
	Services []*Service `yaml:"services"`
}

// Load reads and validates a YAML registry file
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(errors.ErrRegistryInvalid, "failed to read registry", err)
	}
	return Parse(data)
}

// Parse decodes and validates registry YAML
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrRegistryInvalid, "failed to parse registry", err)
	}
	return New(f.Services)
}

// New validates a service list and builds a Registry. A dependency cycle
// is a fatal error.
func New(services []*Service) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]*Service, len(services)),
		dependents: make(map[string][]string),
	}

	for i, svc := range services {
		if svc == nil || svc.ID == "" {
			return nil, errors.RegistryInvalid(fmt.Sprintf("service at index %d has no id", i))
		}
		if _, dup := r.byID[svc.ID]; dup {
			return nil, errors.RegistryInvalid(fmt.Sprintf("duplicate service id %q", svc.ID))
		}
		if svc.Name == "" {
			svc.Name = svc.ID
		}
		if svc.Group == "" {
			svc.Group = "Default"
		}
		if svc.HealthURL != "" {
			u, err := url.Parse(svc.HealthURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "tcp") {
				return nil, errors.RegistryInvalid(fmt.Sprintf("service %q has unsupported health_url %q", svc.ID, svc.HealthURL))
			}
		}
		svc.WorkingDir = xdg.ExpandHome(svc.WorkingDir)
		for j, p := range svc.TransientPaths {
			svc.TransientPaths[j] = xdg.ExpandHome(p)
		}
		r.byID[svc.ID] = svc
		r.services = append(r.services, svc)
	}

	for _, svc := range r.services {
		for _, dep := range svc.Dependencies {
			if dep == svc.ID {
				return nil, errors.DependencyCycle([]string{svc.ID, svc.ID})
			}
			if _, ok := r.byID[dep]; !ok {
				return nil, errors.RegistryInvalid(fmt.Sprintf("service %q depends on unknown service %q", svc.ID, dep))
			}
			r.dependents[dep] = append(r.dependents[dep], svc.ID)
		}
	}

	if cycle := r.findCycle(); cycle != nil {
		return nil, errors.DependencyCycle(cycle)
	}

	return r, nil
}

// findCycle runs a three-color DFS in registry order and returns the first
// cycle found as a closed path (first element repeated at the end).
func (r *Registry) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(r.services))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range r.byID[id].Dependencies {
			switch color[dep] {
			case grey:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, svc := range r.services {
		if color[svc.ID] == white && visit(svc.ID) {
			return cycle
		}
	}
	return nil
}

// Services returns every service in file order
func (r *Registry) Services() []*Service {
	return slices.Clone(r.services)
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	return len(r.services)
}

// Get returns the service with the given id
func (r *Registry) Get(id string) (*Service, error) {
	svc, ok := r.byID[id]
	if !ok {
		return nil, errors.UnknownService(id)
	}
	return svc, nil
}

// Active returns the non-ghost services in file order
func (r *Registry) Active() []*Service {
	var out []*Service
	for _, svc := range r.services {
		if !svc.Ghost {
			out = append(out, svc)
		}
	}
	return out
}

// Groups returns group names in order of first appearance
func (r *Registry) Groups() []string {
	var groups []string
	for _, svc := range r.services {
		if !slices.Contains(groups, svc.Group) {
			groups = append(groups, svc.Group)
		}
	}
	return groups
}

// Members returns the services in a group. Group names match case-insensitively.
func (r *Registry) Members(group string) []*Service {
	var out []*Service
	for _, svc := range r.services {
		if strings.EqualFold(svc.Group, group) {
			out = append(out, svc)
		}
	}
	return out
}

// DirectDependents returns the services that list id as a dependency
func (r *Registry) DirectDependents(id string) []string {
	return slices.Clone(r.dependents[id])
}

// Dependents returns every service that depends on id, directly or
// transitively, in registry order.
func (r *Registry) Dependents(id string) []string {
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range r.dependents[cur] {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}

	var out []string
	for _, svc := range r.services {
		if seen[svc.ID] {
			out = append(out, svc.ID)
		}
	}
	return out
}

// Edges returns every dependency edge in registry order
func (r *Registry) Edges() []Edge {
	var edges []Edge
	for _, svc := range r.services {
		for _, dep := range svc.Dependencies {
			edges = append(edges, Edge{From: dep, To: svc.ID})
		}
	}
	return edges
}
