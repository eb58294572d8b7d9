package registry

import (
	"workshop/internal/errors"
)

// Closure returns ids plus all of their transitive dependencies
func (r *Registry) Closure(ids ...string) (map[string]bool, error) {
	set := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if set[id] {
			return nil
		}
		svc, ok := r.byID[id]
		if !ok {
			return errors.UnknownService(id)
		}
		set[id] = true
		for _, dep := range svc.Dependencies {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := walk(id); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// StartOrder returns ids and their transitive dependencies sorted so every
// service comes after everything it depends on. Ties keep registry order.
func (r *Registry) StartOrder(ids ...string) ([]string, error) {
	set, err := r.Closure(ids...)
	if err != nil {
		return nil, err
	}
	return r.sort(set)
}

// Order sorts exactly the given ids by dependency, without pulling in
// dependencies that were not asked for.
func (r *Registry) Order(ids ...string) ([]string, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			return nil, errors.UnknownService(id)
		}
		set[id] = true
	}
	return r.sort(set)
}

// StopOrder is Order reversed: dependents before their dependencies
func (r *Registry) StopOrder(ids ...string) ([]string, error) {
	order, err := r.Order(ids...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// sort is Kahn's algorithm restricted to set. Edges to services outside
// the set are ignored.
func (r *Registry) sort(set map[string]bool) ([]string, error) {
	indegree := make(map[string]int, len(set))
	for id := range set {
		for _, dep := range r.byID[id].Dependencies {
			if set[dep] {
				indegree[id]++
			}
		}
	}

	order := make([]string, 0, len(set))
	done := make(map[string]bool, len(set))
	for len(order) < len(set) {
		progressed := false
		for _, svc := range r.services {
			if !set[svc.ID] || done[svc.ID] || indegree[svc.ID] > 0 {
				continue
			}
			done[svc.ID] = true
			order = append(order, svc.ID)
			for _, d := range r.dependents[svc.ID] {
				if set[d] {
					indegree[d]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, svc := range r.services {
				if set[svc.ID] && !done[svc.ID] {
					stuck = append(stuck, svc.ID)
				}
			}
			return nil, errors.DependencyCycle(stuck)
		}
	}
	return order, nil
}
