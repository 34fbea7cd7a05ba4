// Package docker implements machine.Provider on a Docker daemon.
//
// Each managed container stands in for one instance: its labels are the
// instance tags, its short id is the instance id, and a size name maps to
// a CPU and memory allotment applied with a live resource update.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"opsbot/internal/apperrors"
	"opsbot/internal/machine"
)

const (
	// DefaultScopeLabel selects the containers this backend manages.
	DefaultScopeLabel = "managed-by=opsbot"
	// SizeLabel holds the size a container was created with.
	SizeLabel = "opsbot.size"

	shortIDLen = 12
)

// dockerAPI is the subset of the Docker client used by Provider.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerUpdate(ctx context.Context, containerID string, updateConfig container.UpdateConfig) (container.UpdateResponse, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Config holds configuration for the Docker provider.
type Config struct {
	ScopeLabel  string          // label selecting managed containers (default: managed-by=opsbot)
	Sizes       map[string]Size // size table (default: DefaultSizes)
	StopTimeout time.Duration   // grace period before SIGKILL on stop (default: 10s)
}

// Provider implements machine.Provider using Docker.
type Provider struct {
	client      dockerAPI
	scopeLabel  string
	sizes       map[string]Size
	stopTimeout int
	resized     *sizeRepo
	logger      *slog.Logger
}

// New creates a Provider connected to the daemon named by the environment.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	p := newProvider(dockerClient, cfg)

	managed, err := p.list(ctx, nil)
	if err != nil {
		p.logger.Warn("Failed to list managed containers", "error", err)
	} else {
		p.logger.Info("Docker backend ready", "managed", len(managed), "sizes", len(p.sizes))
	}
	return p, nil
}

func newProvider(api dockerAPI, cfg Config) *Provider {
	if cfg.ScopeLabel == "" {
		cfg.ScopeLabel = DefaultScopeLabel
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = DefaultSizes()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Provider{
		client:      api,
		scopeLabel:  cfg.ScopeLabel,
		sizes:       cfg.Sizes,
		stopTimeout: int(cfg.StopTimeout / time.Second),
		resized:     newSizeRepo(),
		logger:      slog.With("component", "docker"),
	}
}

// Describe returns the managed containers matching every filter.
func (p *Provider) Describe(ctx context.Context, fs []machine.Filter) ([]machine.Instance, error) {
	for _, f := range fs {
		if !supportedFilter(f.Name) {
			return nil, apperrors.Validation("filter", fmt.Sprintf("unsupported filter %q", f.Name))
		}
	}

	containers, err := p.list(ctx, fs)
	if err != nil {
		return nil, err
	}

	instances := make([]machine.Instance, 0, len(containers))
	for _, c := range containers {
		inst := p.toInstance(c)
		if matchesAll(inst, c.ID, fs) {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

// Start starts the given containers.
func (p *Provider) Start(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	changes := make([]machine.StateChange, 0, len(ids))
	for _, id := range ids {
		c, err := p.find(ctx, id)
		if err != nil {
			return changes, err
		}
		if err := p.client.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
			return changes, apperrors.Internal("docker.startContainer", err)
		}
		changes = append(changes, machine.StateChange{ID: shortID(c.ID), Previous: instanceState(string(c.State)), Current: "running"})
	}
	return changes, nil
}

// Stop stops the given containers.
func (p *Provider) Stop(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	changes := make([]machine.StateChange, 0, len(ids))
	for _, id := range ids {
		c, err := p.find(ctx, id)
		if err != nil {
			return changes, err
		}
		timeout := p.stopTimeout
		if err := p.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			return changes, apperrors.Internal("docker.stopContainer", err)
		}
		changes = append(changes, machine.StateChange{ID: shortID(c.ID), Previous: instanceState(string(c.State)), Current: "stopped"})
	}
	return changes, nil
}

// Resize applies the CPU and memory allotment of size to a container.
func (p *Provider) Resize(ctx context.Context, id, size string) error {
	s, ok := p.sizes[size]
	if !ok {
		return apperrors.Validation("size", fmt.Sprintf("unknown size %q", size))
	}

	c, err := p.find(ctx, id)
	if err != nil {
		return err
	}

	_, err = p.client.ContainerUpdate(ctx, c.ID, container.UpdateConfig{
		Resources: container.Resources{
			NanoCPUs:   s.nanoCPUs(),
			Memory:     s.memoryBytes(),
			MemorySwap: s.memoryBytes(),
		},
	})
	if err != nil {
		return apperrors.Internal("docker.updateContainer", err)
	}
	p.resized.set(c.ID, size)
	p.logger.InfoContext(ctx, "Container resized", "id", shortID(c.ID), "size", size)
	return nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (p *Provider) Ready(ctx context.Context) error {
	_, err := p.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// list returns managed containers, pushing single-valued label and id
// filters down to the daemon. Callers still match the results.
func (p *Provider) list(ctx context.Context, fs []machine.Filter) ([]container.Summary, error) {
	args := filters.NewArgs(filters.Arg("label", p.scopeLabel))
	for _, f := range fs {
		if len(f.Values) != 1 {
			continue
		}
		if key, ok := strings.CutPrefix(f.Name, "tag:"); ok {
			args.Add("label", key+"="+f.Values[0])
		} else if f.Name == machine.FilterID {
			args.Add("id", f.Values[0])
		}
	}

	containers, err := p.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, apperrors.Internal("docker.listContainers", err)
	}
	return containers, nil
}

// find resolves an id or id prefix to exactly one managed container.
func (p *Provider) find(ctx context.Context, id string) (container.Summary, error) {
	containers, err := p.list(ctx, []machine.Filter{{Name: machine.FilterID, Values: []string{id}}})
	if err != nil {
		return container.Summary{}, err
	}
	containers = slices.DeleteFunc(containers, func(c container.Summary) bool {
		return !strings.HasPrefix(c.ID, id)
	})
	switch len(containers) {
	case 0:
		return container.Summary{}, apperrors.NotFound("instance", id)
	case 1:
		return containers[0], nil
	default:
		return container.Summary{}, apperrors.Conflict("instance", id, fmt.Sprintf("id prefix %q is ambiguous", id))
	}
}

func (p *Provider) toInstance(c container.Summary) machine.Instance {
	scopeKey, _, _ := strings.Cut(p.scopeLabel, "=")

	size, ok := p.resized.get(c.ID)
	if !ok {
		size = c.Labels[SizeLabel]
	}

	keys := make([]string, 0, len(c.Labels))
	for k := range c.Labels {
		if k == scopeKey || k == SizeLabel {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inst := machine.Instance{
		ID:    shortID(c.ID),
		Size:  size,
		State: instanceState(string(c.State)),
	}
	for _, k := range keys {
		inst.Tags = append(inst.Tags, machine.Tag{Key: k, Value: c.Labels[k]})
	}
	return inst
}

func supportedFilter(name string) bool {
	switch name {
	case machine.FilterID, machine.FilterSize, machine.FilterState:
		return true
	}
	key, ok := strings.CutPrefix(name, "tag:")
	return ok && key != ""
}

func matchesAll(inst machine.Instance, fullID string, fs []machine.Filter) bool {
	for _, f := range fs {
		if !matches(inst, fullID, f) {
			return false
		}
	}
	return true
}

func matches(inst machine.Instance, fullID string, f machine.Filter) bool {
	switch f.Name {
	case machine.FilterID:
		return slices.ContainsFunc(f.Values, func(v string) bool { return strings.HasPrefix(fullID, v) })
	case machine.FilterSize:
		return slices.Contains(f.Values, inst.Size)
	case machine.FilterState:
		return slices.Contains(f.Values, inst.State)
	}
	key, _ := strings.CutPrefix(f.Name, "tag:")
	value, ok := inst.Tag(key)
	return ok && slices.Contains(f.Values, value)
}

// instanceState maps container states onto EC2 instance state names.
func instanceState(state string) string {
	switch state {
	case "running":
		return "running"
	case "restarting":
		return "pending"
	case "removing":
		return "shutting-down"
	case "paused":
		return "paused"
	default:
		return "stopped"
	}
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

var _ machine.Provider = (*Provider)(nil)
