package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cptrest/cptrest/internal/model"
)

const postColumns = "id, post_type, title, content, excerpt, slug, status, author, featured_media, created_at, modified_at"

// CreatePost inserts a post. ID, Date and Modified are populated on success.
// Meta is not written; use SetPostMeta.
func (s *Store) CreatePost(ctx context.Context, p *model.Post) error {
	now := time.Now().UTC()
	p.Date = now
	p.Modified = now
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}

	const q = `INSERT INTO posts
		(post_type, title, content, excerpt, slug, status, author, featured_media, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	id, err := s.insertID(ctx, q,
		p.Type, p.Title, p.Content, p.Excerpt, p.Slug, p.Status, p.Author, p.FeaturedMedia, p.Date, p.Modified)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	p.ID = id
	return nil
}

// GetPost returns a post by id, with its meta.
func (s *Store) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	var p model.Post
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT "+postColumns+" FROM posts WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	meta, err := s.GetPostMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Meta = meta
	return &p, nil
}

// ListPosts returns one page of posts matching the query, newest first, along
// with the total number of matching posts.
func (s *Store) ListPosts(ctx context.Context, q model.PostQuery) ([]model.Post, int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind("SELECT COUNT(*) FROM posts WHERE post_type = ? AND status = ?"), q.Type, q.Status); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	posts := []model.Post{}
	if q.PerPage <= 0 || int64(q.Page-1) >= (total+int64(q.PerPage)-1)/int64(q.PerPage) {
		return posts, total, nil
	}
	offset := (q.Page - 1) * q.PerPage
	if err := s.db.SelectContext(ctx, &posts, s.db.Rebind(
		"SELECT "+postColumns+" FROM posts WHERE post_type = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"),
		q.Type, q.Status, q.PerPage, offset); err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}

	for i := range posts {
		meta, err := s.GetPostMeta(ctx, posts[i].ID)
		if err != nil {
			return nil, 0, err
		}
		posts[i].Meta = meta
	}
	return posts, total, nil
}

// UpdatePost applies the non-nil fields of ch to a post.
func (s *Store) UpdatePost(ctx context.Context, id int64, ch model.PostChanges) error {
	sets := []string{"modified_at = ?"}
	args := []any{time.Now().UTC()}
	if ch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *ch.Title)
	}
	if ch.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *ch.Content)
	}
	if ch.Excerpt != nil {
		sets = append(sets, "excerpt = ?")
		args = append(args, *ch.Excerpt)
	}
	if ch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *ch.Status)
	}
	args = append(args, id)

	q := "UPDATE posts SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost permanently removes a post and its meta.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM post_meta WHERE post_id = ?"), id); err != nil {
		return fmt.Errorf("delete post meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind("DELETE FROM associations WHERE parent_id = ? OR child_id = ?"), id, id); err != nil {
		return fmt.Errorf("delete post associations: %w", err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM posts WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type metaRow struct {
	Key   string `db:"meta_key"`
	Value string `db:"meta_value"`
}

// GetPostMeta returns the decoded meta values of a post.
func (s *Store) GetPostMeta(ctx context.Context, postID int64) (map[string]any, error) {
	var rows []metaRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT meta_key, meta_value FROM post_meta WHERE post_id = ? ORDER BY meta_key"), postID); err != nil {
		return nil, fmt.Errorf("get post meta: %w", err)
	}
	meta := make(map[string]any, len(rows))
	for _, r := range rows {
		var v any
		if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
			return nil, fmt.Errorf("decode meta %s: %w", r.Key, err)
		}
		meta[r.Key] = v
	}
	return meta, nil
}

// SetPostMeta writes each entry of meta, replacing existing values of the
// same key. All entries are written in one transaction.
func (s *Store) SetPostMeta(ctx context.Context, postID int64, meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE meta_value = VALUES(meta_value)`
	default:
		q = `INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)
			ON CONFLICT (post_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for k, v := range meta {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode meta %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), postID, k, string(data)); err != nil {
			return fmt.Errorf("set post meta %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Slugify derives a URL slug from a title.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
