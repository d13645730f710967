// Package catalog decides which post types may be exposed and plans the
// route surface for the active ones.
package catalog

import (
	"context"
	"slices"

	"github.com/cptrest/cptrest/internal/model"
)

// CoreTypes are host built-ins that are never exposed.
var CoreTypes = []string{"post", "page", "attachment"}

// Registry is the host's live post type registry.
type Registry interface {
	ListPostTypes(ctx context.Context) ([]model.PostType, error)
}

// SettingsSource supplies the current configuration snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) (model.Settings, error)
}

// Catalog computes availability from the registry and settings on every
// call. Nothing is cached between calls.
type Catalog struct {
	registry Registry
	settings SettingsSource
}

// New creates a Catalog.
func New(registry Registry, settings SettingsSource) *Catalog {
	return &Catalog{registry: registry, settings: settings}
}

// AvailableTypes returns the descriptors of every post type eligible for
// exposure, in registry order.
func (c *Catalog) AvailableTypes(ctx context.Context) ([]model.PostType, error) {
	snap, err := c.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	types, err := c.registry.ListPostTypes(ctx)
	if err != nil {
		return nil, err
	}
	return Eligible(types, snap), nil
}

// Available returns the names of every post type eligible for exposure.
func (c *Catalog) Available(ctx context.Context) ([]string, error) {
	types, err := c.AvailableTypes(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(types))
	for i, pt := range types {
		names[i] = pt.Name
	}
	return names, nil
}

// Active returns the saved active types that are still available, in the
// order they were saved.
func (c *Catalog) Active(ctx context.Context) ([]string, error) {
	snap, err := c.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	available, err := c.Available(ctx)
	if err != nil {
		return nil, err
	}
	return Intersect(snap.ActiveTypes, available), nil
}

// IsActive reports whether name is currently active.
func (c *Catalog) IsActive(ctx context.Context, name string) (bool, error) {
	active, err := c.Active(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(active, name), nil
}

// Eligible filters types down to those that may be exposed under snap's
// inclusion rules. Core types are always excluded. Without inclusion rules
// any public, queryable or admin-visible type qualifies; with rules a
// non-public type qualifies only if its visibility class is listed.
func Eligible(types []model.PostType, snap model.Settings) []model.PostType {
	out := []model.PostType{}
	for _, pt := range types {
		if slices.Contains(CoreTypes, pt.Name) {
			continue
		}
		if pt.Public {
			out = append(out, pt)
			continue
		}
		if !snap.RestrictsNonPublic() {
			if pt.PubliclyQueryable || pt.ShowUI {
				out = append(out, pt)
			}
			continue
		}
		if slices.Contains(snap.NonPublic, pt.Visibility()) {
			out = append(out, pt)
		}
	}
	return out
}

// Intersect returns the members of selected that appear in available,
// keeping selected's order.
func Intersect(selected, available []string) []string {
	out := []string{}
	for _, name := range selected {
		if slices.Contains(available, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// CurrentPlan snapshots the configuration into a route plan. It also returns
// the descriptors of the active types, in plan order.
func (c *Catalog) CurrentPlan(ctx context.Context) (Plan, []model.PostType, error) {
	snap, err := c.settings.Snapshot(ctx)
	if err != nil {
		return Plan{}, nil, err
	}
	types, err := c.registry.ListPostTypes(ctx)
	if err != nil {
		return Plan{}, nil, err
	}
	eligible := Eligible(types, snap)
	available := make([]string, len(eligible))
	for i, pt := range eligible {
		available[i] = pt.Name
	}
	active := Intersect(snap.ActiveTypes, available)

	descriptors := make([]model.PostType, 0, len(active))
	for _, name := range active {
		for _, pt := range eligible {
			if pt.Name == name {
				descriptors = append(descriptors, pt)
				break
			}
		}
	}
	return Plan{
		Segment:          snap.BaseSegment,
		ActiveTypes:      active,
		RelationsEnabled: snap.RelationsEnabled,
	}, descriptors, nil
}
