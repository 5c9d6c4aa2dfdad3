package localization

import (
	"fmt"
	"sync"
)

// Registry keeps the runs of a session and names unnamed runs Frame_1,
// Frame_2, ... It is safe for concurrent use; the runs themselves are not.
type Registry struct {
	mu     sync.Mutex
	params Params
	next   int
	runs   map[string]*Localizer
	order  []string
}

// NewRegistry creates an empty registry whose runs share params
func NewRegistry(params Params) *Registry {
	return &Registry{
		params: params,
		next:   1,
		runs:   make(map[string]*Localizer),
	}
}

// New creates a run. An empty name takes the next default name.
func (r *Registry) New(name string) (*Localizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		for {
			name = fmt.Sprintf("Frame_%d", r.next)
			r.next++
			if _, taken := r.runs[name]; !taken {
				break
			}
		}
	} else if _, taken := r.runs[name]; taken {
		return nil, fmt.Errorf("run %q already exists", name)
	}

	l := NewLocalizer(name, r.params)
	r.runs[name] = l
	r.order = append(r.order, name)
	return l, nil
}

// Get returns a run by name
func (r *Registry) Get(name string) (*Localizer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.runs[name]
	return l, ok
}

// Names returns the run names in creation order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Remove deletes a run. Default names are never reused.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[name]; !ok {
		return false
	}
	delete(r.runs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of runs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
