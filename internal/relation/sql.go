package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
)

// SQLProvider stores relationships in the host database.
type SQLProvider struct {
	store *config.Store
}

// NewSQLProvider creates a provider over the host store.
func NewSQLProvider(store *config.Store) *SQLProvider {
	return &SQLProvider{store: store}
}

func (p *SQLProvider) Definitions(ctx context.Context) ([]model.Relationship, error) {
	return p.store.ListRelationships(ctx)
}

func (p *SQLProvider) Definition(ctx context.Context, slug string) (*model.Relationship, error) {
	defs, err := p.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].Slug == slug {
			return &defs[i], nil
		}
	}
	return nil, ErrUnknownRelation
}

func (p *SQLProvider) Instances(ctx context.Context, slug string) ([]model.RelationshipInstance, error) {
	links, err := p.store.ListAssociations(ctx, slug)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrUnknownRelation
		}
		return nil, err
	}
	out := make([]model.RelationshipInstance, 0, len(links))
	for _, l := range links {
		out = append(out, NewInstance(slug, l.ParentID, l.ChildID))
	}
	return out, nil
}

// Connect links parent to child, enforcing the definition's cardinality.
// ChildMax bounds the children of one parent and ParentMax the parents of
// one child; negative values are unbounded.
func (p *SQLProvider) Connect(ctx context.Context, slug string, parentID, childID int64) (model.RelationshipInstance, error) {
	def, err := p.Definition(ctx, slug)
	if err != nil {
		return model.RelationshipInstance{}, err
	}
	children, parents, err := p.store.CountAssociations(ctx, slug, parentID, childID)
	if err != nil {
		return model.RelationshipInstance{}, err
	}
	if (def.Cardinality.ChildMax >= 0 && children >= def.Cardinality.ChildMax) ||
		(def.Cardinality.ParentMax >= 0 && parents >= def.Cardinality.ParentMax) {
		// A duplicate is reported as such even when the bound is also hit.
		links, err := p.store.ListAssociations(ctx, slug)
		if err != nil {
			return model.RelationshipInstance{}, err
		}
		for _, l := range links {
			if l.ParentID == parentID && l.ChildID == childID {
				return model.RelationshipInstance{}, ErrExists
			}
		}
		return model.RelationshipInstance{}, ErrLimit
	}
	if err := p.store.InsertAssociation(ctx, slug, parentID, childID); err != nil {
		if errors.Is(err, config.ErrExists) {
			return model.RelationshipInstance{}, ErrExists
		}
		return model.RelationshipInstance{}, err
	}
	return NewInstance(slug, parentID, childID), nil
}

func (p *SQLProvider) Disconnect(ctx context.Context, slug string, parentID, childID int64) (bool, error) {
	removed, err := p.store.DeleteAssociation(ctx, slug, parentID, childID)
	if errors.Is(err, config.ErrNotFound) {
		return false, ErrUnknownRelation
	}
	return removed, err
}

// Resolve returns the provider named by kind, or nil for "none" and "".
func Resolve(kind string, store *config.Store, logger *slog.Logger, onState func(open bool)) (Provider, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "sql":
		return Guard(NewSQLProvider(store), logger, onState), nil
	default:
		return nil, fmt.Errorf("unknown relations provider %q", kind)
	}
}
