package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cptrest/cptrest/internal/model"
)

type relationshipRow struct {
	ID          int64  `db:"id"`
	Slug        string `db:"slug"`
	Name        string `db:"name"`
	ParentTypes string `db:"parent_types"`
	ChildTypes  string `db:"child_types"`
	ParentMax   int    `db:"parent_max"`
	ChildMax    int    `db:"child_max"`
	IsActive    bool   `db:"is_active"`
}

func (r relationshipRow) toModel() (model.Relationship, error) {
	rel := model.Relationship{
		Slug:        r.Slug,
		Name:        r.Name,
		Cardinality: model.Cardinality{ParentMax: r.ParentMax, ChildMax: r.ChildMax},
		IsActive:    r.IsActive,
	}
	if err := json.Unmarshal([]byte(r.ParentTypes), &rel.ParentTypes); err != nil {
		return rel, fmt.Errorf("decode parent types: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ChildTypes), &rel.ChildTypes); err != nil {
		return rel, fmt.Errorf("decode child types: %w", err)
	}
	return rel, nil
}

// CreateRelationship stores a relationship definition.
func (s *Store) CreateRelationship(ctx context.Context, rel model.Relationship) error {
	parents, err := json.Marshal(rel.ParentTypes)
	if err != nil {
		return err
	}
	children, err := json.Marshal(rel.ChildTypes)
	if err != nil {
		return err
	}
	const q = `INSERT INTO relationships (slug, name, parent_types, child_types, parent_max, child_max, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.insertID(ctx, q, rel.Slug, rel.Name, string(parents), string(children),
		rel.Cardinality.ParentMax, rel.Cardinality.ChildMax, rel.IsActive); err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// ListRelationships returns all relationship definitions ordered by slug.
func (s *Store) ListRelationships(ctx context.Context) ([]model.Relationship, error) {
	var rows []relationshipRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM relationships ORDER BY slug"); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	out := make([]model.Relationship, 0, len(rows))
	for _, r := range rows {
		rel, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func (s *Store) relationshipID(ctx context.Context, slug string) (int64, error) {
	var id int64
	if err := s.db.GetContext(ctx, &id, s.db.Rebind("SELECT id FROM relationships WHERE slug = ?"), slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get relationship: %w", err)
	}
	return id, nil
}

// Association is one stored parent-child link.
type Association struct {
	ParentID int64 `db:"parent_id"`
	ChildID  int64 `db:"child_id"`
}

// ListAssociations returns the links stored for a relationship slug.
func (s *Store) ListAssociations(ctx context.Context, slug string) ([]Association, error) {
	relID, err := s.relationshipID(ctx, slug)
	if err != nil {
		return nil, err
	}
	out := []Association{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT parent_id, child_id FROM associations WHERE relationship_id = ? ORDER BY parent_id, child_id"), relID); err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	return out, nil
}

// CountAssociations returns how many children a parent has and how many
// parents a child has within a relationship.
func (s *Store) CountAssociations(ctx context.Context, slug string, parentID, childID int64) (children, parents int, err error) {
	relID, err := s.relationshipID(ctx, slug)
	if err != nil {
		return 0, 0, err
	}
	if err := s.db.GetContext(ctx, &children, s.db.Rebind(
		"SELECT COUNT(*) FROM associations WHERE relationship_id = ? AND parent_id = ?"), relID, parentID); err != nil {
		return 0, 0, fmt.Errorf("count children: %w", err)
	}
	if err := s.db.GetContext(ctx, &parents, s.db.Rebind(
		"SELECT COUNT(*) FROM associations WHERE relationship_id = ? AND child_id = ?"), relID, childID); err != nil {
		return 0, 0, fmt.Errorf("count parents: %w", err)
	}
	return children, parents, nil
}

// InsertAssociation links a parent and child. It returns ErrExists when the
// link is already present.
func (s *Store) InsertAssociation(ctx context.Context, slug string, parentID, childID int64) error {
	relID, err := s.relationshipID(ctx, slug)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO associations (relationship_id, parent_id, child_id) VALUES (?, ?, ?)"), relID, parentID, childID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("insert association: %w", err)
	}
	return nil
}

// DeleteAssociation removes a link and reports whether one was removed.
func (s *Store) DeleteAssociation(ctx context.Context, slug string, parentID, childID int64) (bool, error) {
	relID, err := s.relationshipID(ctx, slug)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM associations WHERE relationship_id = ? AND parent_id = ? AND child_id = ?"), relID, parentID, childID)
	if err != nil {
		return false, fmt.Errorf("delete association: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete association rows affected: %w", err)
	}
	return n > 0, nil
}
