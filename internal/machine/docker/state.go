package docker

import "sync"

// sizeRepo remembers the size applied to each container by Resize.
// Container labels are immutable, so the creation-time size label goes
// stale after a resize; entries here take precedence over it.
type sizeRepo struct {
	mu    sync.RWMutex
	sizes map[string]string
}

func newSizeRepo() *sizeRepo {
	return &sizeRepo{
		sizes: make(map[string]string),
	}
}

// set records size for the full container id.
func (r *sizeRepo) set(containerID, size string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes[containerID] = size
}

// get returns the recorded size for the full container id.
func (r *sizeRepo) get(containerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size, ok := r.sizes[containerID]
	return size, ok
}
