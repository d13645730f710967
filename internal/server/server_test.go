package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/handler"
	"github.com/cptrest/cptrest/internal/metrics"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/relation"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *config.Store
	settings *settings.Service
	keys     *service.KeyStore
}

// newTestEnv creates a fresh environment with an in-memory store, the
// "event" type active, "venue" registered but inactive, relations enabled
// and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, DefaultConfig())
}

func newTestEnvWith(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, pt := range []model.PostType{
		{Name: "event", Label: "Events", Public: true},
		{Name: "venue", Label: "Venues", Public: true},
	} {
		if err := store.UpsertPostType(ctx, pt); err != nil {
			t.Fatalf("UpsertPostType: %v", err)
		}
	}

	set := settings.New(store)
	relOn := true
	if err := set.Apply(ctx, settings.Update{
		ActiveTypes:      &[]string{"event"},
		RelationsEnabled: &relOn,
	}, []string{"event", "venue"}); err != nil {
		t.Fatalf("settings.Apply: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewKeyStore(store, rand.Reader, logger)
	srv, err := New(ctx, cfg, Deps{
		Store:     store,
		Settings:  set,
		Catalog:   catalog.New(store, set),
		Keys:      keys,
		AdminAuth: service.NewAdminAuth(store, testJWTSecret, time.Hour, logger),
		Relations: relation.NewSQLProvider(store),
		Metrics:   metrics.New(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	return &testEnv{
		server:   srv,
		store:    store,
		settings: set,
		keys:     keys,
	}
}

// newKey creates an API key directly in the key store and returns its secret.
func (e *testEnv) newKey(t *testing.T) string {
	t.Helper()
	created, err := e.keys.Create(context.Background(), "test")
	if err != nil {
		t.Fatalf("Create key: %v", err)
	}
	return created.Secret
}

// seedAdmin creates a default admin account.
func (e *testEnv) seedAdmin(t *testing.T) {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Name:         testAdminName,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
}

// adminToken logs in as the default admin and returns the session token.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/admin/v1/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// nonce requests a single-use token for action.
func (e *testEnv) nonce(t *testing.T, token, action string) string {
	t.Helper()
	rr := e.doBearer(t, "POST", "/admin/v1/nonce", jsonBody(t, map[string]string{"action": action}), token)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Nonce string `json:"nonce"`
	}
	decodeJSON(t, rr, &resp)
	return resp.Nonce
}

// seedPost stores a post directly and returns it.
func (e *testEnv) seedPost(t *testing.T, postType, title, status string) *model.Post {
	t.Helper()
	p := &model.Post{Type: postType, Title: title, Status: status}
	if err := e.store.CreatePost(context.Background(), p); err != nil {
		t.Fatalf("seedPost: %v", err)
	}
	return p
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doBearer executes a request with a bearer credential, either an API key
// or an admin session token.
func (e *testEnv) doBearer(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Code != want {
		t.Errorf("error.code = %q, want %q", resp.Error.Code, want)
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("checks.store = %q, want ok", resp.Checks["store"])
	}
	if resp.Checks["relations"] != "ok" {
		t.Errorf("checks.relations = %q, want ok", resp.Checks["relations"])
	}
}

func TestHealthzIgnoresBearer(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doBearer(t, "GET", "/healthz", nil, "not-a-key")
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Namespace gate
// ---------------------------------------------------------------------------

func TestNamespaceDiscoveryWithoutKey(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/cpt/v1", "/cpt/v1/"} {
		t.Run(path, func(t *testing.T) {
			rr := env.do(t, "GET", path, nil, nil)
			assertStatus(t, rr, http.StatusOK)

			var info model.NamespaceInfo
			decodeJSON(t, rr, &info)
			if info.Namespace != "cpt/v1" {
				t.Errorf("namespace = %q, want %q", info.Namespace, "cpt/v1")
			}
		})
	}
}

func TestOpenAPIWithoutKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/cpt/v1/openapi", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc map[string]interface{}
	decodeJSON(t, rr, &doc)
	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		t.Fatal("expected paths object")
	}
	if _, ok := paths["/event"]; !ok {
		t.Error("expected /event in document paths")
	}
	if _, ok := paths["/venue"]; ok {
		t.Error("inactive type venue should not be documented")
	}
}

func TestCollectionKeyGate(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	t.Run("missing key", func(t *testing.T) {
		rr := env.do(t, "GET", "/cpt/v1/event", nil, nil)
		assertStatus(t, rr, http.StatusUnauthorized)
		if got := rr.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
			t.Errorf("WWW-Authenticate = %q, want Bearer challenge", got)
		}
		assertErrorCode(t, rr, "rest_not_logged_in")
	})

	t.Run("wrong key", func(t *testing.T) {
		rr := env.doBearer(t, "GET", "/cpt/v1/event", nil, strings.Repeat("x", 32))
		assertStatus(t, rr, http.StatusForbidden)
		assertErrorCode(t, rr, "rest_forbidden")
	})

	t.Run("valid key", func(t *testing.T) {
		env.seedPost(t, "event", "Launch", model.StatusPublish)
		rr := env.doBearer(t, "GET", "/cpt/v1/event", nil, secret)
		assertStatus(t, rr, http.StatusOK)

		var list model.PostList
		decodeJSON(t, rr, &list)
		if list.Pagination.PerPage != 10 || list.Pagination.CurrentPage != 1 {
			t.Errorf("pagination = %+v, want per_page 10, current_page 1", list.Pagination)
		}
		if list.Pagination.Total != 1 || len(list.Posts) != 1 {
			t.Errorf("got %d posts (total %d), want 1", len(list.Posts), list.Pagination.Total)
		}
	})
}

func TestUnknownNamespacePathIsGated(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	rr := env.do(t, "GET", "/cpt/v1/nothing-here", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doBearer(t, "GET", "/cpt/v1/nothing-here", nil, secret)
	assertStatus(t, rr, http.StatusNotFound)
	assertErrorCode(t, rr, "rest_no_route")
}

func TestDotSegmentsAreGated(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/cpt/v1/relations/.."},
		{"POST", "/cpt/v1/relations/.."},
		{"GET", "/cpt/v1/relations/rel%2F..%2F.."},
		{"GET", "/cpt/v1/event/../openapi"},
		{"GET", "/cpt/v1/../v1/event"},
	} {
		rr := env.do(t, tc.method, tc.path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key: status %d, want 401 (body %s)", tc.method, tc.path, rr.Code, rr.Body.String())
		}
	}
}

func TestInactiveTypeIsNotRouted(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	rr := env.doBearer(t, "GET", "/cpt/v1/venue", nil, secret)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestDeleteDraftVersusMissing(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)
	draft := env.seedPost(t, "event", "Draft", model.StatusDraft)

	rr := env.doBearer(t, "DELETE", "/cpt/v1/event/"+itoa(draft.ID), nil, secret)
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.doBearer(t, "DELETE", "/cpt/v1/event/999999", nil, secret)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCreateAndFetchPost(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	rr := env.doBearer(t, "POST", "/cpt/v1/event", jsonBody(t, map[string]interface{}{
		"title": "<b>Gala</b>",
		"meta":  map[string]interface{}{"venue": "Hall"},
	}), secret)
	assertStatus(t, rr, http.StatusCreated)

	var created model.Post
	decodeJSON(t, rr, &created)
	if created.Title != "Gala" {
		t.Errorf("title = %q, want markup stripped", created.Title)
	}

	rr = env.doBearer(t, "GET", "/cpt/v1/event/"+itoa(created.ID), nil, secret)
	assertStatus(t, rr, http.StatusOK)
}

func TestRelationsRoutes(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	rr := env.doBearer(t, "GET", "/cpt/v1/relations", nil, secret)
	assertStatus(t, rr, http.StatusOK)

	off := false
	if err := env.settings.Apply(context.Background(), settings.Update{RelationsEnabled: &off}, []string{"event", "venue"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := env.server.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	rr = env.doBearer(t, "GET", "/cpt/v1/relations", nil, secret)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Reconfiguration
// ---------------------------------------------------------------------------

func TestSettingsUpdateSwapsRouter(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	secret := env.newKey(t)

	nonce := env.nonce(t, token, handler.ActionUpdateSettings)
	rr := env.do(t, "PUT", "/admin/v1/settings", jsonBody(t, map[string]interface{}{
		"base_segment": "api",
		"active_types": []string{"event", "venue"},
	}), map[string]string{
		"Authorization":     "Bearer " + token,
		handler.NonceHeader: nonce,
	})
	assertStatus(t, rr, http.StatusOK)

	rr = env.doBearer(t, "GET", "/api/v1/venue", nil, secret)
	assertStatus(t, rr, http.StatusOK)

	// The old namespace is gone and no longer gated.
	rr = env.do(t, "GET", "/cpt/v1/event", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "GET", "/api/v1/", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	var info model.NamespaceInfo
	decodeJSON(t, rr, &info)
	if info.Namespace != "api/v1" {
		t.Errorf("namespace = %q, want api/v1", info.Namespace)
	}
}

func TestResetActiveTypesUnroutesCollections(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	secret := env.newKey(t)

	nonce := env.nonce(t, token, handler.ActionResetTypes)
	rr := env.do(t, "POST", "/admin/v1/settings/reset-active-types", nil, map[string]string{
		"Authorization":     "Bearer " + token,
		handler.NonceHeader: nonce,
	})
	assertStatus(t, rr, http.StatusOK)

	rr = env.doBearer(t, "GET", "/cpt/v1/event", nil, secret)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Admin surface
// ---------------------------------------------------------------------------

func TestAdminRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	secret := env.newKey(t)

	rr := env.do(t, "GET", "/admin/v1/api-keys", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	// API keys are not admin sessions.
	rr = env.doBearer(t, "GET", "/admin/v1/api-keys", nil, secret)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doBearer(t, "GET", "/admin/v1/api-keys", nil, token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doBearer(t, "DELETE", "/admin/v1/session", nil, token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doBearer(t, "GET", "/admin/v1/api-keys", nil, token)
	assertStatus(t, rr, http.StatusForbidden)
	assertErrorCode(t, rr, "admin_invalid_session")

	// A fresh login still works.
	rr = env.doBearer(t, "GET", "/admin/v1/api-keys", nil, env.adminToken(t))
	assertStatus(t, rr, http.StatusOK)
}

func TestKeyGenerationRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyRateLimit = 2
	env := newTestEnvWith(t, cfg)
	env.seedAdmin(t)
	token := env.adminToken(t)

	create := func() *httptest.ResponseRecorder {
		nonce := env.nonce(t, token, handler.ActionCreateKey)
		return env.do(t, "POST", "/admin/v1/api-keys", jsonBody(t, map[string]string{"label": "ci"}), map[string]string{
			"Authorization":     "Bearer " + token,
			handler.NonceHeader: nonce,
		})
	}

	assertStatus(t, create(), http.StatusCreated)
	assertStatus(t, create(), http.StatusCreated)

	rr := create()
	assertStatus(t, rr, http.StatusTooManyRequests)
	assertErrorCode(t, rr, "key_rate_limited")
}

func TestCreatedKeyOpensNamespace(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	nonce := env.nonce(t, token, handler.ActionCreateKey)
	rr := env.do(t, "POST", "/admin/v1/api-keys", jsonBody(t, map[string]string{"label": "deploy"}), map[string]string{
		"Authorization":     "Bearer " + token,
		handler.NonceHeader: nonce,
	})
	assertStatus(t, rr, http.StatusCreated)

	var created model.CreatedAPIKey
	decodeJSON(t, rr, &created)
	if created.Secret == "" {
		t.Fatal("expected the secret in the creation response")
	}

	rr = env.doBearer(t, "GET", "/cpt/v1/event", nil, created.Secret)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Cross-cutting
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/cpt/v1/event", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "Authorization,Content-Type",
	})

	// Preflight is answered before the key gate.
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/cpt/v1/event", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp model.ErrorResponse
	decodeJSON(t, rr, &errResp)
	if errResp.Error.Status != http.StatusUnauthorized {
		t.Errorf("error.status = %d, want 401", errResp.Error.Status)
	}
	if errResp.Error.Code == "" || errResp.Error.Message == "" {
		t.Errorf("expected code and message, got %+v", errResp.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/cpt/v1/openapi", nil, nil)
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "GET", "/cpt/v1/", nil, nil)
	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	body := rr.Body.String()
	for _, want := range []string{"cptrest_active_post_types 1", "cptrest_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
