// Package machinetest provides an in-memory machine.Provider for tests.
package machinetest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"opsbot/internal/apperrors"
	"opsbot/internal/machine"
)

// Fake is an in-memory Provider. Describe understands the tag:Name,
// instance-id, instance-type and instance-state-name filters plus any
// tag:<key> filter.
type Fake struct {
	mu        sync.Mutex
	instances []machine.Instance
	calls     []string

	// Err, when set, is returned by every call.
	Err error
	// ReadyErr is returned by Ready.
	ReadyErr error
}

// New returns a Fake holding instances.
func New(instances ...machine.Instance) *Fake {
	return &Fake{instances: slices.Clone(instances)}
}

// Calls returns the operations invoked so far, e.g. "stop i-1".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Instance returns the current description of id.
func (f *Fake) Instance(id string) (machine.Instance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return machine.Instance{}, false
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *Fake) Describe(ctx context.Context, filters []machine.Filter) ([]machine.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("describe")
	if f.Err != nil {
		return nil, f.Err
	}
	var out []machine.Instance
	for _, inst := range f.instances {
		if matches(inst, filters) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *Fake) Start(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	return f.transition(ids, "start", "running")
}

func (f *Fake) Stop(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	return f.transition(ids, "stop", "stopped")
}

func (f *Fake) transition(ids []string, op, state string) ([]machine.StateChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.record(op + " " + id)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	changes := make([]machine.StateChange, 0, len(ids))
	for _, id := range ids {
		i := f.index(id)
		if i < 0 {
			return nil, apperrors.NotFound("instance", id)
		}
		changes = append(changes, machine.StateChange{ID: id, Previous: f.instances[i].State, Current: state})
		f.instances[i].State = state
	}
	return changes, nil
}

func (f *Fake) Resize(ctx context.Context, id, size string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("resize " + id + " " + size)
	if f.Err != nil {
		return f.Err
	}
	i := f.index(id)
	if i < 0 {
		return apperrors.NotFound("instance", id)
	}
	f.instances[i].Size = size
	return nil
}

func (f *Fake) Ready(ctx context.Context) error {
	return f.ReadyErr
}

func (f *Fake) Close() error {
	return nil
}

func (f *Fake) index(id string) int {
	return slices.IndexFunc(f.instances, func(inst machine.Instance) bool { return inst.ID == id })
}

func matches(inst machine.Instance, filters []machine.Filter) bool {
	for _, filter := range filters {
		var got string
		switch filter.Name {
		case machine.FilterID:
			got = inst.ID
		case machine.FilterSize:
			got = inst.Size
		case machine.FilterState:
			got = inst.State
		default:
			key, ok := strings.CutPrefix(filter.Name, "tag:")
			if !ok || key == "" {
				return false
			}
			got, _ = inst.Tag(key)
		}
		if !slices.Contains(filter.Values, got) {
			return false
		}
	}
	return true
}

var _ machine.Provider = (*Fake)(nil)
