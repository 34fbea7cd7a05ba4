// Package machine describes and controls the machines a deployment runs on.
//
// A Provider is the cloud-facing half: it filters, starts, stops and
// resizes instances. The lookup helpers turn a resolved reference into
// the filters and ids a Provider understands.
package machine

import (
	"context"
	"fmt"
	"strings"
)

// Filter names every backend understands.
const (
	FilterName  = "tag:Name"
	FilterID    = "instance-id"
	FilterSize  = "instance-type"
	FilterState = "instance-state-name"
)

// Filter narrows a Describe call. An instance matches when, for every
// filter, one of the values matches.
type Filter struct {
	Name   string
	Values []string
}

// Tag is a key/value label on an instance. Order is preserved as reported
// by the backend.
type Tag struct {
	Key   string
	Value string
}

// Instance is the description of one machine.
type Instance struct {
	ID      string `json:"id"`
	Size    string `json:"size"`
	KeyName string `json:"keyName,omitempty"`
	State   string `json:"state"`
	Tags    []Tag  `json:"tags,omitempty"`
}

func (i Instance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", i.ID, i.Size, i.State)
	if i.KeyName != "" {
		fmt.Fprintf(&b, " key=%s", i.KeyName)
	}
	if len(i.Tags) > 0 {
		tags := make([]string, len(i.Tags))
		for n, t := range i.Tags {
			tags[n] = t.Key + "=" + t.Value
		}
		fmt.Fprintf(&b, " tags=[%s]", strings.Join(tags, ", "))
	}
	return b.String()
}

// Tag returns the value of the tag named key.
func (i Instance) Tag(key string) (string, bool) {
	for _, t := range i.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// StateChange reports a state transition caused by Start or Stop.
type StateChange struct {
	ID       string `json:"id"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

func (c StateChange) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.ID, c.Previous, c.Current)
}

// Provider is a machine backend.
type Provider interface {
	// Describe returns the instances matching all filters.
	Describe(ctx context.Context, filters []Filter) ([]Instance, error)

	// Start starts the instances with the given ids.
	Start(ctx context.Context, ids []string) ([]StateChange, error)

	// Stop stops the instances with the given ids.
	Stop(ctx context.Context, ids []string) ([]StateChange, error)

	// Resize changes the size of one instance. Most backends require the
	// instance to be stopped.
	Resize(ctx context.Context, id, size string) error

	// Ready checks the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}
