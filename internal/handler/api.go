package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/openapi"
	"github.com/cptrest/cptrest/internal/relation"
)

// NamespaceDescription is reported by the discovery endpoint.
const NamespaceDescription = "Custom Post Types REST API"

// APIHandler serves the public namespace: discovery, the OpenAPI document,
// post CRUD for the active types and the optional relationship endpoints.
type APIHandler struct {
	store     *config.Store
	catalog   *catalog.Catalog
	relations relation.Provider
	publicURL string
	logger    *slog.Logger
}

// NewAPIHandler creates an APIHandler. relations may be nil when the
// relationship capability is not available.
func NewAPIHandler(store *config.Store, cat *catalog.Catalog, relations relation.Provider, publicURL string, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		store:     store,
		catalog:   cat,
		relations: relations,
		publicURL: publicURL,
		logger:    logger,
	}
}

// Namespace describes the namespace.
// GET /{segment}/v1/
func (h *APIHandler) Namespace(w http.ResponseWriter, r *http.Request) {
	plan, _, err := h.catalog.CurrentPlan(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NamespaceInfo{
		Namespace:   plan.Namespace(),
		Description: NamespaceDescription,
		Version:     openapi.Version,
	})
}

// OpenAPI returns the API description generated from the current
// configuration. Nothing is cached between calls.
// GET /{segment}/v1/openapi
func (h *APIHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	in, err := h.documentInput(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if in.PublicURL == "" {
		in.PublicURL = requestOrigin(r)
	}
	writeJSON(w, http.StatusOK, openapi.Generate(in))
}

// DocumentInput gathers the generator input for the current configuration.
func DocumentInput(ctx context.Context, store *config.Store, cat *catalog.Catalog, publicURL string) (openapi.Input, error) {
	plan, types, err := cat.CurrentPlan(ctx)
	if err != nil {
		return openapi.Input{}, err
	}
	meta := make(map[string][]string, len(types))
	for _, pt := range types {
		keys, err := store.RegisteredMeta(ctx, pt.Name)
		if err != nil {
			return openapi.Input{}, err
		}
		meta[pt.Name] = keys
	}
	return openapi.Input{
		Plan:      plan,
		Types:     types,
		Meta:      meta,
		PublicURL: publicURL,
	}, nil
}

func (h *APIHandler) documentInput(ctx context.Context) (openapi.Input, error) {
	return DocumentInput(ctx, h.store, h.catalog, h.publicURL)
}

// requestOrigin derives scheme and host from the request when no public URL
// is configured.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "https" || fwd == "http" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
