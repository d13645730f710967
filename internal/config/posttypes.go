package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cptrest/cptrest/internal/model"
)

// BuiltinPostTypes are registered by the host itself and always present.
var BuiltinPostTypes = []model.PostType{
	{Name: "post", Label: "Posts", Public: true, PubliclyQueryable: true, ShowUI: true, Builtin: true},
	{Name: "page", Label: "Pages", Public: true, ShowUI: true, Builtin: true},
	{Name: "attachment", Label: "Media", Public: true, ShowUI: true, Builtin: true},
}

func (s *Store) seedBuiltinTypes(ctx context.Context) error {
	for _, pt := range BuiltinPostTypes {
		_, err := s.GetPostType(ctx, pt.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.UpsertPostType(ctx, pt); err != nil {
			return fmt.Errorf("seed post type %s: %w", pt.Name, err)
		}
	}
	return nil
}

// ListPostTypes returns every registered post type, ordered by name.
func (s *Store) ListPostTypes(ctx context.Context) ([]model.PostType, error) {
	var types []model.PostType
	if err := s.db.SelectContext(ctx, &types, "SELECT * FROM post_types ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list post types: %w", err)
	}
	return types, nil
}

// GetPostType returns a registered post type by name.
func (s *Store) GetPostType(ctx context.Context, name string) (*model.PostType, error) {
	var pt model.PostType
	if err := s.db.GetContext(ctx, &pt, s.db.Rebind("SELECT * FROM post_types WHERE name = ?"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post type: %w", err)
	}
	return &pt, nil
}

// UpsertPostType registers a post type or replaces its flags.
func (s *Store) UpsertPostType(ctx context.Context, pt model.PostType) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO post_types (name, label, description, public, publicly_queryable, show_ui, builtin)
			VALUES (:name, :label, :description, :public, :publicly_queryable, :show_ui, :builtin)
			ON DUPLICATE KEY UPDATE label = VALUES(label), description = VALUES(description),
			public = VALUES(public), publicly_queryable = VALUES(publicly_queryable),
			show_ui = VALUES(show_ui), builtin = VALUES(builtin)`
	default:
		q = `INSERT INTO post_types (name, label, description, public, publicly_queryable, show_ui, builtin)
			VALUES (:name, :label, :description, :public, :publicly_queryable, :show_ui, :builtin)
			ON CONFLICT (name) DO UPDATE SET label = excluded.label, description = excluded.description,
			public = excluded.public, publicly_queryable = excluded.publicly_queryable,
			show_ui = excluded.show_ui, builtin = excluded.builtin`
	}
	if _, err := s.db.NamedExecContext(ctx, q, pt); err != nil {
		return fmt.Errorf("upsert post type: %w", err)
	}
	return nil
}

// DeletePostType unregisters a post type. Built-in types cannot be removed.
func (s *Store) DeletePostType(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM post_types WHERE name = ? AND builtin = ?"), name, false)
	if err != nil {
		return fmt.Errorf("delete post type: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post type rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RegisteredMeta returns the meta keys registered for a post type. An empty
// result means no allowlist is in effect.
func (s *Store) RegisteredMeta(ctx context.Context, postType string) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys,
		s.db.Rebind("SELECT meta_key FROM registered_meta WHERE post_type = ? ORDER BY meta_key"), postType); err != nil {
		return nil, fmt.Errorf("registered meta: %w", err)
	}
	return keys, nil
}

// RegisterMeta adds a meta key to a post type's allowlist.
func (s *Store) RegisterMeta(ctx context.Context, postType, key string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO registered_meta (post_type, meta_key) VALUES (?, ?)"), postType, key)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("register meta: %w", err)
	}
	return nil
}
