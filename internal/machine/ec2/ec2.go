// Package ec2 implements machine.Provider on Amazon EC2.
package ec2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	sdk "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"opsbot/internal/apperrors"
	"opsbot/internal/machine"
)

// API is the subset of the EC2 client used by Provider.
type API interface {
	DescribeInstances(ctx context.Context, params *sdk.DescribeInstancesInput, optFns ...func(*sdk.Options)) (*sdk.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *sdk.StartInstancesInput, optFns ...func(*sdk.Options)) (*sdk.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *sdk.StopInstancesInput, optFns ...func(*sdk.Options)) (*sdk.StopInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *sdk.ModifyInstanceAttributeInput, optFns ...func(*sdk.Options)) (*sdk.ModifyInstanceAttributeOutput, error)
}

// Config holds configuration for the EC2 provider.
type Config struct {
	Region string // AWS region (default: us-west-2)
}

// Provider implements machine.Provider using the EC2 API.
type Provider struct {
	api    API
	logger *slog.Logger
}

// New creates a Provider from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithAPI(sdk.NewFromConfig(awsCfg)), nil
}

// NewWithAPI creates a Provider on an existing client.
func NewWithAPI(api API) *Provider {
	return &Provider{
		api:    api,
		logger: slog.With("component", "ec2"),
	}
}

// Describe returns every instance matching filters, across all pages.
func (p *Provider) Describe(ctx context.Context, filters []machine.Filter) ([]machine.Instance, error) {
	input := &sdk.DescribeInstancesInput{Filters: toFilters(filters)}

	var instances []machine.Instance
	pages := sdk.NewDescribeInstancesPaginator(p.api, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, apperrors.Internal("ec2.DescribeInstances", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, fromInstance(inst))
			}
		}
	}
	return instances, nil
}

// Start starts the given instances.
func (p *Provider) Start(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	out, err := p.api.StartInstances(ctx, &sdk.StartInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, apperrors.Internal("ec2.StartInstances", err)
	}
	return fromStateChanges(out.StartingInstances), nil
}

// Stop stops the given instances.
func (p *Provider) Stop(ctx context.Context, ids []string) ([]machine.StateChange, error) {
	out, err := p.api.StopInstances(ctx, &sdk.StopInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, apperrors.Internal("ec2.StopInstances", err)
	}
	return fromStateChanges(out.StoppingInstances), nil
}

// Resize sets the instance type. EC2 rejects this for running instances.
func (p *Provider) Resize(ctx context.Context, id, size string) error {
	_, err := p.api.ModifyInstanceAttribute(ctx, &sdk.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(id),
		InstanceType: &types.AttributeValue{Value: aws.String(size)},
	})
	if err != nil {
		return apperrors.Internal("ec2.ModifyInstanceAttribute", err)
	}
	p.logger.InfoContext(ctx, "Instance resized", "id", id, "size", size)
	return nil
}

// Ready issues a minimal DescribeInstances call to verify credentials and
// connectivity.
func (p *Provider) Ready(ctx context.Context) error {
	_, err := p.api.DescribeInstances(ctx, &sdk.DescribeInstancesInput{MaxResults: aws.Int32(5)})
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}

func toFilters(filters []machine.Filter) []types.Filter {
	if len(filters) == 0 {
		return nil
	}
	out := make([]types.Filter, len(filters))
	for i, f := range filters {
		out[i] = types.Filter{Name: aws.String(f.Name), Values: f.Values}
	}
	return out
}

func fromInstance(inst types.Instance) machine.Instance {
	out := machine.Instance{
		ID:      aws.ToString(inst.InstanceId),
		Size:    string(inst.InstanceType),
		KeyName: aws.ToString(inst.KeyName),
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	for _, tag := range inst.Tags {
		out.Tags = append(out.Tags, machine.Tag{Key: aws.ToString(tag.Key), Value: aws.ToString(tag.Value)})
	}
	return out
}

func fromStateChanges(changes []types.InstanceStateChange) []machine.StateChange {
	out := make([]machine.StateChange, len(changes))
	for i, c := range changes {
		out[i] = machine.StateChange{ID: aws.ToString(c.InstanceId)}
		if c.PreviousState != nil {
			out[i].Previous = string(c.PreviousState.Name)
		}
		if c.CurrentState != nil {
			out[i].Current = string(c.CurrentState.Name)
		}
	}
	return out
}

var _ machine.Provider = (*Provider)(nil)
