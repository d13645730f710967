package handler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/sanitize"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// standardFields are request body keys that are never treated as meta.
var standardFields = []string{"id", "title", "content", "excerpt", "status", "meta", "cpt"}

var allowedStatuses = []string{model.StatusPublish, model.StatusDraft, model.StatusPrivate, model.StatusPending}

var (
	errTypeUnavailable = apierr.Forbidden("rest_forbidden", "This post type is not available via the API.")
	errInvalidPostID   = apierr.NotFound("rest_post_invalid_id", "Invalid post ID.")
	errPostWrongType   = apierr.NotFound("rest_post_invalid_id", "Invalid post ID or post does not belong to this post type.")
)

// ListPosts returns a page of published posts of postType.
// GET /{segment}/v1/{type}
func (h *APIHandler) ListPosts(postType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := h.requireActive(ctx, postType); err != nil {
			fail(w, r, h.logger, err)
			return
		}

		perPage := clampInt(queryInt(r, "per_page", defaultPerPage), 1, maxPerPage)
		page := max(queryInt(r, "page", 1), 1)

		posts, total, err := h.store.ListPosts(ctx, model.PostQuery{
			Type:    postType,
			Status:  model.StatusPublish,
			PerPage: perPage,
			Page:    page,
		})
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}
		for i := range posts {
			posts[i] = present(posts[i])
		}

		writeJSON(w, http.StatusOK, model.PostList{
			Posts: posts,
			Pagination: model.Pagination{
				Total:       total,
				Pages:       (total + int64(perPage) - 1) / int64(perPage),
				CurrentPage: page,
				PerPage:     perPage,
			},
		})
	}
}

// GetPost returns one published post of postType.
// GET /{segment}/v1/{type}/{id}
func (h *APIHandler) GetPost(postType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := h.requireActive(ctx, postType); err != nil {
			fail(w, r, h.logger, err)
			return
		}
		post, err := h.loadPost(ctx, chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}
		if post.Type != postType || post.Status != model.StatusPublish {
			writeError(w, errInvalidPostID)
			return
		}
		writeJSON(w, http.StatusOK, present(*post))
	}
}

// CreatePost creates a post of postType. Unknown top-level fields are
// stored as meta alongside the nested meta object.
// POST /{segment}/v1/{type}
func (h *APIHandler) CreatePost(postType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := h.requireActive(ctx, postType); err != nil {
			fail(w, r, h.logger, err)
			return
		}

		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
			return
		}

		post := &model.Post{
			Type:   postType,
			Status: postStatus(body["status"]),
		}
		if s, ok := body["title"].(string); ok {
			post.Title = sanitize.Text(s)
		}
		if s, ok := body["content"].(string); ok {
			post.Content = sanitize.HTML(s)
		}
		if s, ok := body["excerpt"].(string); ok {
			post.Excerpt = sanitize.Text(s)
		}

		if err := h.store.CreatePost(ctx, post); err != nil {
			h.logger.Error("create post failed", "type", postType, "error", err)
			writeError(w, apierr.Upstream("rest_cannot_create", "The post cannot be created."))
			return
		}

		// The post stays even when its meta cannot be written.
		if err := h.saveMeta(ctx, post.ID, postType, body); err != nil {
			h.logger.Error("post meta update failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_meta_update_failed", "The post was created but its meta could not be saved."))
			return
		}

		created, err := h.store.GetPost(ctx, post.ID)
		if err != nil {
			h.logger.Error("read created post failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_cannot_read", "The post was created but cannot be read."))
			return
		}
		writeJSON(w, http.StatusCreated, present(*created))
	}
}

// UpdatePost applies a partial update to a published post of postType.
// PUT|PATCH /{segment}/v1/{type}/{id}
func (h *APIHandler) UpdatePost(postType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		post, err := h.loadWritable(ctx, postType, chi.URLParam(r, "id"),
			apierr.Forbidden("rest_cannot_edit", "Sorry, you are not allowed to edit this post."))
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}

		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
			return
		}

		var ch model.PostChanges
		if s, ok := body["title"].(string); ok {
			s = sanitize.Text(s)
			ch.Title = &s
		}
		if s, ok := body["content"].(string); ok {
			s = sanitize.HTML(s)
			ch.Content = &s
		}
		if s, ok := body["excerpt"].(string); ok {
			s = sanitize.Text(s)
			ch.Excerpt = &s
		}
		if v, ok := body["status"]; ok && v != nil {
			s := postStatus(v)
			ch.Status = &s
		}

		if err := h.store.UpdatePost(ctx, post.ID, ch); err != nil {
			h.logger.Error("update post failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_cannot_update", "The post cannot be updated."))
			return
		}
		if err := h.saveMeta(ctx, post.ID, postType, body); err != nil {
			h.logger.Error("post meta update failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_meta_update_failed", "The post was updated but its meta could not be saved."))
			return
		}

		updated, err := h.store.GetPost(ctx, post.ID)
		if err != nil {
			h.logger.Error("read updated post failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_cannot_read", "The post was updated but cannot be read."))
			return
		}
		writeJSON(w, http.StatusOK, present(*updated))
	}
}

// DeletePost permanently deletes a published post of postType and returns
// what was deleted.
// DELETE /{segment}/v1/{type}/{id}
func (h *APIHandler) DeletePost(postType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		post, err := h.loadWritable(ctx, postType, chi.URLParam(r, "id"),
			apierr.Forbidden("rest_cannot_delete", "Sorry, you are not allowed to delete this post."))
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}

		if err := h.store.DeletePost(ctx, post.ID); err != nil {
			h.logger.Error("delete post failed", "post_id", post.ID, "error", err)
			writeError(w, apierr.Upstream("rest_cannot_delete", "The post cannot be deleted."))
			return
		}
		writeJSON(w, http.StatusOK, present(*post))
	}
}

// requireActive re-checks eligibility. Routes are planned from a snapshot,
// so a type can lose eligibility while its routes still exist.
func (h *APIHandler) requireActive(ctx context.Context, postType string) error {
	ok, err := h.catalog.IsActive(ctx, postType)
	if err != nil {
		return err
	}
	if !ok {
		return errTypeUnavailable
	}
	return nil
}

func (h *APIHandler) loadPost(ctx context.Context, rawID string) (*model.Post, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return nil, errInvalidPostID
	}
	post, err := h.store.GetPost(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return nil, errInvalidPostID
	}
	return post, err
}

// loadWritable resolves the target of an update or delete. Existence is
// checked before eligibility, then type, then status.
func (h *APIHandler) loadWritable(ctx context.Context, postType, rawID string, denied *apierr.Error) (*model.Post, error) {
	post, err := h.loadPost(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if err := h.requireActive(ctx, postType); err != nil {
		return nil, err
	}
	if post.Type != postType {
		return nil, errPostWrongType
	}
	if post.Status != model.StatusPublish {
		return nil, denied
	}
	return post, nil
}

// saveMeta merges the nested meta object with unrecognised top-level
// fields and writes what the type accepts.
func (h *APIHandler) saveMeta(ctx context.Context, postID int64, postType string, body map[string]any) error {
	merged := map[string]any{}
	if nested, ok := body["meta"].(map[string]any); ok {
		for k, v := range nested {
			merged[k] = v
		}
	}
	for k, v := range body {
		if !slices.Contains(standardFields, k) {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}

	registered, err := h.store.RegisteredMeta(ctx, postType)
	if err != nil {
		return err
	}
	meta := FilterMeta(merged, registered)
	return h.store.SetPostMeta(ctx, postID, meta)
}

// FilterMeta drops private keys and, when registered is non-empty, keys not
// in registered. Remaining values are sanitised.
func FilterMeta(meta map[string]any, registered []string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "" || strings.HasPrefix(k, "_") {
			continue
		}
		if len(registered) > 0 && !slices.Contains(registered, k) {
			continue
		}
		out[k] = sanitize.Value(v)
	}
	return out
}

// postStatus normalises a requested status. Anything unrecognised becomes
// publish.
func postStatus(v any) string {
	s, _ := v.(string)
	if slices.Contains(allowedStatuses, s) {
		return s
	}
	return model.StatusPublish
}

// present hides private meta keys.
func present(p model.Post) model.Post {
	meta := make(map[string]any, len(p.Meta))
	for k, v := range p.Meta {
		if !strings.HasPrefix(k, "_") {
			meta[k] = v
		}
	}
	p.Meta = meta
	return p
}
