package classifier

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of projects a classification may resolve to.
type Registry struct {
	projects map[string]*Project
	mu       sync.RWMutex
}

// NewRegistry creates an empty project registry.
func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]*Project),
	}
}

// Register adds or updates a project.
func (r *Registry) Register(p Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	r.projects[p.Name] = &p
	return nil
}

// Get retrieves a project by name.
func (r *Registry) Get(name string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[name]
	if !ok {
		return Project{}, false
	}
	return *p, true
}

// IsValid reports whether name is a registered, enabled project.
func (r *Registry) IsValid(name string) bool {
	p, ok := r.Get(name)
	return ok && p.Enabled
}

// List returns all projects sorted by priority (desc), then name.
func (r *Registry) List() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, *p)
	}
	sortProjects(projects)
	return projects
}

// GetEnabled returns only enabled projects.
func (r *Registry) GetEnabled() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := make([]Project, 0)
	for _, p := range r.projects {
		if p.Enabled {
			projects = append(projects, *p)
		}
	}
	sortProjects(projects)
	return projects
}

// Enable enables a project.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable disables a project.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[name]
	if !ok {
		return fmt.Errorf("project %q not found", name)
	}
	p.Enabled = enabled
	return nil
}

// Count returns the number of registered projects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// RegisterAll registers every project in ps.
func (r *Registry) RegisterAll(ps []Project) error {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func sortProjects(ps []Project) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority > ps[j].Priority
		}
		return ps[i].Name < ps[j].Name
	})
}
