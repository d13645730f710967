package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/metrics"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/server/middleware"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

// NonceHeader carries the single-use action token on state-changing admin
// requests.
const NonceHeader = "X-CPTREST-Nonce"

// Admin actions that require a nonce.
const (
	ActionCreateKey      = "create_key"
	ActionDeleteKey      = "delete_key"
	ActionMigrateKeys    = "migrate_keys"
	ActionUpdateSettings = "update_settings"
	ActionResetTypes     = "reset_active_types"
	ActionCreateAdmin    = "create_admin"
	ActionDismissNotice  = "dismiss_notice"
)

var adminActions = []string{
	ActionCreateKey, ActionDeleteKey, ActionMigrateKeys,
	ActionUpdateSettings, ActionResetTypes, ActionCreateAdmin,
	ActionDismissNotice,
}

// Notice ids reported by the status endpoint.
const (
	NoticeNoTypes      = "no_cpts"
	NoticeNoKeys       = "no_keys"
	NoticeLegacyKeys   = "legacy_keys"
	dismissedOptionFmt = "cpt_rest_api_dismissed_notices_"
)

// ReloadFunc rebuilds the route table after a reconfiguration.
type ReloadFunc func(ctx context.Context) error

// AdminHandler serves the administrative surface: sessions, nonces, API
// keys, settings, the post type overview and configuration notices.
type AdminHandler struct {
	store    *config.Store
	auth     *service.AdminAuth
	keys     *service.KeyStore
	settings *settings.Service
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics
	reload   ReloadFunc
	ttl      time.Duration
	logger   *slog.Logger
}

// AdminDeps groups the collaborators of an AdminHandler.
type AdminDeps struct {
	Store      *config.Store
	Auth       *service.AdminAuth
	Keys       *service.KeyStore
	Settings   *settings.Service
	Catalog    *catalog.Catalog
	Metrics    *metrics.Metrics
	Reload     ReloadFunc
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d AdminDeps) *AdminHandler {
	if d.Reload == nil {
		d.Reload = func(context.Context) error { return nil }
	}
	return &AdminHandler{
		store:    d.Store,
		auth:     d.Auth,
		keys:     d.Keys,
		settings: d.Settings,
		catalog:  d.Catalog,
		metrics:  d.Metrics,
		reload:   d.Reload,
		ttl:      d.SessionTTL,
		logger:   d.Logger,
	}
}

// ---------------------------------------------------------------------------
// Sessions and nonces
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an administrator and returns a session token.
// POST /admin/v1/session
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, apierr.Validation("missing_credentials", "Email and password are required."))
		return
	}

	token, admin, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		writeError(w, apierr.Unauthenticated("invalid_credentials", "Invalid credentials."))
		return
	}
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.ttl.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout revokes the current session token.
// DELETE /admin/v1/session
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.RevokeSession(middleware.GetAdmin(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session revoked",
	})
}

type nonceRequest struct {
	Action string `json:"action"`
}

// IssueNonce returns a single-use token for one admin action.
// POST /admin/v1/nonce
func (h *AdminHandler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}
	if !slices.Contains(adminActions, req.Action) {
		writeError(w, apierr.Validation("invalid_action", "Unknown admin action."))
		return
	}
	nonce, err := h.auth.IssueNonce(middleware.GetAdmin(r.Context()), req.Action)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action": req.Action,
		"nonce":  nonce,
	})
}

// checkNonce consumes the request's nonce for action. It writes the error
// response and returns false when the nonce is missing or invalid.
func (h *AdminHandler) checkNonce(w http.ResponseWriter, r *http.Request, action string) bool {
	p := middleware.GetAdmin(r.Context())
	if p == nil {
		writeError(w, apierr.Unauthenticated("admin_not_logged_in", "Administrator session required."))
		return false
	}
	if err := h.auth.ConsumeNonce(p, action, r.Header.Get(NonceHeader)); err != nil {
		writeError(w, apierr.Forbidden("invalid_nonce", "Security check failed. Request a new nonce and try again."))
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type keyListResponse struct {
	Keys           []model.APIKeyView `json:"keys"`
	Count          int                `json:"count"`
	NeedsMigration bool               `json:"needs_migration"`
}

// ListKeys returns every key in redacted form.
// GET /admin/v1/api-keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	resp := keyListResponse{Keys: make([]model.APIKeyView, 0, len(keys))}
	for i := range keys {
		resp.Keys = append(resp.Keys, keys[i].View())
		if keys[i].IsLegacy() {
			resp.NeedsMigration = true
		}
	}
	resp.Count = len(resp.Keys)
	writeJSON(w, http.StatusOK, resp)
}

type createKeyRequest struct {
	Label string `json:"label"`
}

// CreateKey generates a key. The secret is in the response and is never
// shown again.
// POST /admin/v1/api-keys
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionCreateKey) {
		return
	}
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}
	created, err := h.keys.Create(r.Context(), req.Label)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.metrics.KeyOperation("create")
	writeJSON(w, http.StatusCreated, created)
}

// DeleteKey removes a key by id.
// DELETE /admin/v1/api-keys/{keyId}
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionDeleteKey) {
		return
	}
	id := chi.URLParam(r, "keyId")
	removed, err := h.keys.Delete(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if !removed {
		writeError(w, apierr.NotFound("api_key_not_found", "API key not found."))
		return
	}
	h.metrics.KeyOperation("delete")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": true,
		"id":      id,
	})
}

// MigrationStatus reports whether legacy keys are present.
// GET /admin/v1/api-keys/migration
func (h *AdminHandler) MigrationStatus(w http.ResponseWriter, r *http.Request) {
	needs, err := h.keys.NeedsMigration(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"needs_migration": needs})
}

// MigrateKeys revokes every key if any legacy key exists.
// POST /admin/v1/api-keys/migrate
func (h *AdminHandler) MigrateKeys(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionMigrateKeys) {
		return
	}
	res, err := h.keys.MigrateToHashed(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if res.Migrated {
		h.metrics.KeyOperation("migrate")
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

type settingsResponse struct {
	model.Settings
	Namespace      string   `json:"namespace"`
	AvailableTypes []string `json:"available_types"`
	EffectiveTypes []string `json:"effective_active_types"`
}

// GetSettings returns the saved settings and what they currently resolve to.
// GET /admin/v1/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.settingsView(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) settingsView(ctx context.Context) (*settingsResponse, error) {
	snap, err := h.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	available, err := h.catalog.Available(ctx)
	if err != nil {
		return nil, err
	}
	return &settingsResponse{
		Settings:       snap,
		Namespace:      catalog.Plan{Segment: snap.BaseSegment}.Namespace(),
		AvailableTypes: available,
		EffectiveTypes: catalog.Intersect(snap.ActiveTypes, available),
	}, nil
}

type settingsRequest struct {
	settings.Update
	// ClearNonPublic restores the permissive default for non-public types.
	ClearNonPublic bool `json:"clear_nonpublic_visibility,omitempty"`
}

// UpdateSettings validates and saves a settings form, then rebuilds the
// route table.
// PUT /admin/v1/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionUpdateSettings) {
		return
	}
	var req settingsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}
	ctx := r.Context()

	if req.ClearNonPublic {
		if err := h.settings.ClearNonPublic(ctx); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}
	// Inclusion rules change availability, so they are saved before the
	// active list is filtered against it.
	if req.NonPublic != nil || req.BaseSegment != nil || req.RelationsEnabled != nil {
		u := req.Update
		u.ActiveTypes = nil
		if err := h.settings.Apply(ctx, u, nil); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}
	if req.ActiveTypes != nil {
		available, err := h.catalog.Available(ctx)
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}
		if err := h.settings.Apply(ctx, settings.Update{ActiveTypes: req.ActiveTypes}, available); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}

	h.logger.Info("settings updated", "event", "settings_updated", "admin_id", middleware.GetAdmin(ctx).AdminID)
	h.afterReconfigure(w, r)
}

// ResetActiveTypes deactivates every post type and rebuilds the routes.
// POST /admin/v1/settings/reset-active-types
func (h *AdminHandler) ResetActiveTypes(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionResetTypes) {
		return
	}
	ctx := r.Context()
	if err := h.settings.ResetActiveTypes(ctx); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("active post types reset", "event", "active_types_reset", "admin_id", middleware.GetAdmin(ctx).AdminID)
	h.afterReconfigure(w, r)
}

func (h *AdminHandler) afterReconfigure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.reload(ctx); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	resp, err := h.settingsView(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Post types and notices
// ---------------------------------------------------------------------------

type postTypeOverview struct {
	model.PostType
	Visibility string `json:"visibility"`
	Available  bool   `json:"available"`
	Active     bool   `json:"active"`
	Endpoint   string `json:"endpoint,omitempty"`
}

// ListPostTypes returns every non-core registered type with its visibility
// class and exposure state.
// GET /admin/v1/post-types
func (h *AdminHandler) ListPostTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types, err := h.store.ListPostTypes(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	plan, _, err := h.catalog.CurrentPlan(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	available, err := h.catalog.Available(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	out := []postTypeOverview{}
	for _, pt := range types {
		if slices.Contains(catalog.CoreTypes, pt.Name) {
			continue
		}
		o := postTypeOverview{
			PostType:   pt,
			Visibility: pt.Visibility(),
			Available:  slices.Contains(available, pt.Name),
			Active:     slices.Contains(plan.ActiveTypes, pt.Name),
		}
		if o.Visibility == "" {
			o.Visibility = "public"
		}
		if o.Active {
			o.Endpoint = plan.Prefix() + "/" + pt.Name
		}
		out = append(out, o)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"post_types": out,
		"count":      len(out),
	})
}

type notice struct {
	ID      string `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Status returns configuration notices for the current administrator.
// Dismissed notices are omitted, except the legacy key warning which cannot
// be dismissed.
// GET /admin/v1/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := middleware.GetAdmin(ctx)

	active, err := h.catalog.Active(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	keys, err := h.keys.List(ctx)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	dismissed, err := h.dismissed(ctx, p.AdminID)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	notices := []notice{}
	if len(active) == 0 && !slices.Contains(dismissed, NoticeNoTypes) {
		notices = append(notices, notice{NoticeNoTypes, "warning",
			"No custom post types are currently enabled for the REST API."})
	}
	if len(keys) == 0 && !slices.Contains(dismissed, NoticeNoKeys) {
		notices = append(notices, notice{NoticeNoKeys, "info",
			"No API keys have been created yet. You need at least one API key to access the REST API endpoints."})
	}
	for i := range keys {
		if keys[i].IsLegacy() {
			notices = append(notices, notice{NoticeLegacyKeys, "error",
				"Your API keys are stored insecurely and must be migrated. Migration revokes every key."})
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notices":      notices,
		"active_types": active,
		"key_count":    len(keys),
	})
}

// DismissNotice hides a dismissible notice for the current administrator.
// POST /admin/v1/notices/{noticeId}/dismiss
func (h *AdminHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionDismissNotice) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "noticeId")
	if id != NoticeNoTypes && id != NoticeNoKeys {
		writeError(w, apierr.Validation("invalid_notice", "This notice cannot be dismissed."))
		return
	}
	p := middleware.GetAdmin(ctx)
	dismissed, err := h.dismissed(ctx, p.AdminID)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if !slices.Contains(dismissed, id) {
		dismissed = append(dismissed, id)
		data, _ := json.Marshal(dismissed)
		if err := h.store.SetOption(ctx, dismissedOption(p.AdminID), string(data)); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "dismissed": dismissed})
}

func (h *AdminHandler) dismissed(ctx context.Context, adminID int64) ([]string, error) {
	raw, ok, err := h.store.GetOption(ctx, dismissedOption(adminID))
	if err != nil || !ok {
		return []string{}, err
	}
	var list []string
	if json.Unmarshal([]byte(raw), &list) != nil {
		return []string{}, nil
	}
	return list, nil
}

func dismissedOption(adminID int64) string {
	return dismissedOptionFmt + strconv.FormatInt(adminID, 10)
}

// ---------------------------------------------------------------------------
// Administrators
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /admin/v1/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if admins == nil {
		admins = []model.Admin{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admins": admins,
		"count":  len(admins),
	})
}

type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// MinPasswordLength is the shortest accepted admin password.
const MinPasswordLength = 8

// CreateAdmin adds an administrator account.
// POST /admin/v1/admins
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.checkNonce(w, r, ActionCreateAdmin) {
		return
	}
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierr.Validation("rest_invalid_json", "The request body is not valid JSON."))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !strings.Contains(req.Email, "@") {
		writeError(w, apierr.Validation("invalid_email", "A valid email address is required."))
		return
	}
	if len(req.Password) < MinPasswordLength {
		writeError(w, apierr.Validation("weak_password", "The password must be at least 8 characters."))
		return
	}

	hash, err := service.HashPassword(req.Password)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	admin := &model.Admin{Email: req.Email, Name: req.Name, PasswordHash: hash}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, config.ErrExists) {
			writeError(w, apierr.Conflict("admin_exists", "An administrator with this email already exists."))
			return
		}
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("admin created", "event", "admin_created", "admin_id", admin.ID)
	writeJSON(w, http.StatusCreated, admin)
}
