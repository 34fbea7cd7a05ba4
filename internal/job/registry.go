package job

import (
	"cmp"
	"slices"
)

// Registry maps ids to running jobs. It is not safe for concurrent use;
// only the supervising goroutine touches it.
type Registry struct {
	jobs map[ID]*job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[ID]*job)}
}

func (r *Registry) add(j *job) {
	r.jobs[j.id] = j
}

func (r *Registry) get(id ID) (*job, bool) {
	j, ok := r.jobs[id]
	return j, ok
}

func (r *Registry) remove(id ID) (*job, bool) {
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return j, ok
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	return len(r.jobs)
}

// Snapshot returns the registered jobs ordered by id.
func (r *Registry) Snapshot() []Entry {
	entries := make([]Entry, 0, len(r.jobs))
	for _, j := range r.jobs {
		entries = append(entries, j.entry())
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return entries
}
