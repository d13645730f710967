package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/relation"
)

var errRelationsUnavailable = apierr.Unavailable("relations_unavailable", "The relationship provider is not available.")

type relationshipList struct {
	Relationships []model.Relationship `json:"relationships"`
	Count         int                  `json:"count"`
}

type instanceList struct {
	RelationSlug string                       `json:"relation_slug"`
	Instances    []model.RelationshipInstance `json:"instances"`
	Count        int                          `json:"count"`
}

type instanceResult struct {
	Success bool `json:"success"`
	Deleted bool `json:"deleted,omitempty"`
	model.RelationshipInstance
	Message string `json:"message"`
}

type connectRequest struct {
	ParentID any `json:"parent_id"`
	ChildID  any `json:"child_id"`
}

// ListRelationships lists the relationship definitions.
// GET /{segment}/v1/relations
func (h *APIHandler) ListRelationships(w http.ResponseWriter, r *http.Request) {
	if h.relations == nil {
		writeError(w, errRelationsUnavailable)
		return
	}
	defs, err := h.relations.Definitions(r.Context())
	if err != nil {
		h.relationFail(w, r, err)
		return
	}
	if defs == nil {
		defs = []model.Relationship{}
	}
	writeJSON(w, http.StatusOK, relationshipList{Relationships: defs, Count: len(defs)})
}

// ListInstances lists the instances of one relationship.
// GET /{segment}/v1/relations/{slug}
func (h *APIHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	if h.relations == nil {
		writeError(w, errRelationsUnavailable)
		return
	}
	slug := chi.URLParam(r, "slug")
	instances, err := h.relations.Instances(r.Context(), slug)
	if err != nil {
		h.relationFail(w, r, err)
		return
	}
	if instances == nil {
		instances = []model.RelationshipInstance{}
	}
	writeJSON(w, http.StatusOK, instanceList{RelationSlug: slug, Instances: instances, Count: len(instances)})
}

// CreateInstance connects a published parent post to a published child post.
// POST /{segment}/v1/relations/{slug}
func (h *APIHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	if h.relations == nil {
		writeError(w, errRelationsUnavailable)
		return
	}
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	var req connectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}

	def, err := h.relations.Definition(ctx, slug)
	if err != nil {
		h.relationFail(w, r, err)
		return
	}

	parentID, ok := int64Value(req.ParentID)
	if !ok {
		writeError(w, invalidParam("parent_id"))
		return
	}
	childID, ok := int64Value(req.ChildID)
	if !ok {
		writeError(w, invalidParam("child_id"))
		return
	}
	if err := h.checkEndpoint(ctx, parentID, def.ParentTypes, "parent_id"); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.checkEndpoint(ctx, childID, def.ChildTypes, "child_id"); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	inst, err := h.relations.Connect(ctx, slug, parentID, childID)
	if err != nil {
		h.relationFail(w, r, err)
		return
	}
	h.logger.Info("relationship created", "event", "relation_connect", "relation", slug,
		"parent_id", parentID, "child_id", childID)
	writeJSON(w, http.StatusCreated, instanceResult{
		Success:              true,
		RelationshipInstance: inst,
		Message:              "Relationship created successfully.",
	})
}

// DeleteInstance removes the instance identified by relationship_id.
// DELETE /{segment}/v1/relations/{slug}/{relationship_id}
func (h *APIHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	if h.relations == nil {
		writeError(w, errRelationsUnavailable)
		return
	}
	slug := chi.URLParam(r, "slug")
	rawID, err := url.PathUnescape(chi.URLParam(r, "relationship_id"))
	if err != nil {
		h.relationFail(w, r, relation.ErrInvalidID)
		return
	}
	parentID, childID, err := relation.DecodeID(rawID, slug)
	if err != nil {
		h.relationFail(w, r, err)
		return
	}

	removed, err := h.relations.Disconnect(r.Context(), slug, parentID, childID)
	if err != nil {
		h.relationFail(w, r, err)
		return
	}
	if !removed {
		writeError(w, apierr.NotFound("relationship_not_found", "Relationship not found or could not be deleted."))
		return
	}
	h.logger.Info("relationship deleted", "event", "relation_disconnect", "relation", slug,
		"parent_id", parentID, "child_id", childID)
	writeJSON(w, http.StatusOK, instanceResult{
		Success:              true,
		Deleted:              true,
		RelationshipInstance: relation.NewInstance(slug, parentID, childID),
		Message:              "Relationship deleted successfully.",
	})
}

// checkEndpoint requires id to be a published post of one of types. An
// empty types list accepts any type.
func (h *APIHandler) checkEndpoint(ctx context.Context, id int64, types []string, param string) error {
	post, err := h.store.GetPost(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return invalidParam(param)
	}
	if err != nil {
		return err
	}
	if post.Status != model.StatusPublish {
		return invalidParam(param)
	}
	if len(types) > 0 && !slices.Contains(types, post.Type) {
		return invalidParam(param)
	}
	return nil
}

func (h *APIHandler) relationFail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, relation.ErrUnavailable):
		writeError(w, errRelationsUnavailable)
	case errors.Is(err, relation.ErrUnknownRelation):
		writeError(w, invalidParam("relation_slug"))
	case errors.Is(err, relation.ErrExists):
		writeError(w, apierr.Conflict("relationship_exists", "Relationship already exists between these posts."))
	case errors.Is(err, relation.ErrLimit):
		writeError(w, apierr.Conflict("relationship_limit", "The relationship does not allow more connections for these posts."))
	case errors.Is(err, relation.ErrInvalidID):
		writeError(w, apierr.Validation("invalid_relationship_id", "Invalid relationship ID format."))
	default:
		fail(w, r, h.logger, err)
	}
}

func invalidParam(name string) *apierr.Error {
	return apierr.Validation("rest_invalid_param", "Invalid parameter(s): "+name)
}
