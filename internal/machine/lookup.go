package machine

import (
	"context"
	"strings"

	"opsbot/internal/apperrors"
	"opsbot/internal/reference"
)

// FiltersFor returns the Describe filters selecting ref. It reports false
// for an unresolved reference.
func FiltersFor(ref reference.Reference) ([]Filter, bool) {
	switch ref.Kind {
	case reference.Name:
		return []Filter{{Name: FilterName, Values: []string{ref.Value}}}, true
	case reference.Identifier:
		return []Filter{{Name: FilterID, Values: []string{ref.Value}}}, true
	default:
		return nil, false
	}
}

// Lookup describes the instances ref points at.
func Lookup(ctx context.Context, p Provider, ref reference.Reference) ([]Instance, error) {
	filters, ok := FiltersFor(ref)
	if !ok {
		return nil, apperrors.BadInput("target", "expected a deployment url or an instance id")
	}
	return p.Describe(ctx, filters)
}

// IDs returns the instance ids ref points at. An identifier is returned as
// is, without a backend call; a name is looked up by tag.
func IDs(ctx context.Context, p Provider, ref reference.Reference) ([]string, error) {
	switch ref.Kind {
	case reference.Identifier:
		return []string{ref.Value}, nil
	case reference.Name:
		instances, err := Lookup(ctx, p, ref)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(instances))
		for i, inst := range instances {
			ids[i] = inst.ID
		}
		return ids, nil
	default:
		return nil, apperrors.BadInput("target", "expected a deployment url or an instance id")
	}
}

// Start starts every instance ref points at.
func Start(ctx context.Context, p Provider, ref reference.Reference) ([]StateChange, error) {
	ids, err := IDs(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperrors.NotFound("instance", ref.Value)
	}
	return p.Start(ctx, ids)
}

// Stop stops every instance ref points at.
func Stop(ctx context.Context, p Provider, ref reference.Reference) ([]StateChange, error) {
	ids, err := IDs(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperrors.NotFound("instance", ref.Value)
	}
	return p.Stop(ctx, ids)
}

// Resize resizes the last instance ref points at.
func Resize(ctx context.Context, p Provider, ref reference.Reference, size string) error {
	ids, err := IDs(ctx, p, ref)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return apperrors.NotFound("instance", ref.Value)
	}
	return p.Resize(ctx, ids[len(ids)-1], size)
}

// ParseFilters turns "key=value" pairs into filters. Pairs that do not split
// into exactly one key and one value are dropped.
func ParseFilters(pairs []string) []Filter {
	filters := make([]Filter, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) != 2 {
			continue
		}
		filters = append(filters, Filter{Name: parts[0], Values: []string{parts[1]}})
	}
	return filters
}
