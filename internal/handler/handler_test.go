package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/relation"
	"github.com/cptrest/cptrest/internal/server/middleware"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	settings *settings.Service
	catalog  *catalog.Catalog
	keys     *service.KeyStore
	auth     *service.AdminAuth
	api      *APIHandler
	admin    *AdminHandler
	router   chi.Router
	reloads  int
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv creates a fresh environment with an in-memory store, the
// "event" type registered and active, and handlers mounted on a chi router
// without the API key gate.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, true)
}

func newTestEnvWith(t *testing.T, withRelations bool) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	logger := discardLogger()
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
		ActiveTypes:      &[]string{"event", "venue"},
		RelationsEnabled: &relOn,
	}, []string{"event", "venue"}); err != nil {
		t.Fatalf("settings.Apply: %v", err)
	}

	env := &testEnv{
		store:    store,
		settings: set,
		catalog:  catalog.New(store, set),
		keys:     service.NewKeyStore(store, rand.Reader, logger),
		auth:     service.NewAdminAuth(store, testJWTSecret, time.Hour, logger),
	}

	var provider relation.Provider
	if withRelations {
		provider = relation.NewSQLProvider(store)
	}
	env.api = NewAPIHandler(store, env.catalog, provider, "https://api.example.com", logger)
	env.admin = NewAdminHandler(AdminDeps{
		Store:      store,
		Auth:       env.auth,
		Keys:       env.keys,
		Settings:   set,
		Catalog:    env.catalog,
		SessionTTL: time.Hour,
		Logger:     logger,
		Reload: func(context.Context) error {
			env.reloads++
			return nil
		},
	})

	r := chi.NewRouter()
	r.Route("/cpt/v1", func(r chi.Router) {
		r.Get("/", env.api.Namespace)
		r.Get("/openapi", env.api.OpenAPI)
		for _, pt := range []string{"event", "venue"} {
			r.Get("/"+pt, env.api.ListPosts(pt))
			r.Post("/"+pt, env.api.CreatePost(pt))
			r.Get("/"+pt+"/{id:[0-9]+}", env.api.GetPost(pt))
			r.Put("/"+pt+"/{id:[0-9]+}", env.api.UpdatePost(pt))
			r.Patch("/"+pt+"/{id:[0-9]+}", env.api.UpdatePost(pt))
			r.Delete("/"+pt+"/{id:[0-9]+}", env.api.DeletePost(pt))
		}
		r.Get("/relations", env.api.ListRelationships)
		r.Get("/relations/{slug}", env.api.ListInstances)
		r.Post("/relations/{slug}", env.api.CreateInstance)
		r.Delete("/relations/{slug}/{relationship_id}", env.api.DeleteInstance)
	})
	r.Route("/admin/v1", func(r chi.Router) {
		r.Post("/session", env.admin.Login)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(env.auth))
			r.Delete("/session", env.admin.Logout)
			r.Post("/nonce", env.admin.IssueNonce)
			r.Get("/api-keys", env.admin.ListKeys)
			r.Post("/api-keys", env.admin.CreateKey)
			r.Get("/api-keys/migration", env.admin.MigrationStatus)
			r.Post("/api-keys/migrate", env.admin.MigrateKeys)
			r.Delete("/api-keys/{keyId}", env.admin.DeleteKey)
			r.Get("/settings", env.admin.GetSettings)
			r.Put("/settings", env.admin.UpdateSettings)
			r.Post("/settings/reset-active-types", env.admin.ResetActiveTypes)
			r.Get("/post-types", env.admin.ListPostTypes)
			r.Get("/status", env.admin.Status)
			r.Post("/notices/{noticeId}/dismiss", env.admin.DismissNotice)
			r.Get("/admins", env.admin.ListAdmins)
			r.Post("/admins", env.admin.CreateAdmin)
		})
	})
	env.router = r
	return env
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

// seedAdmin creates an admin account and returns a session token for it.
func (e *testEnv) seedAdmin(t *testing.T) string {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &model.Admin{Email: "admin@example.com", PasswordHash: hash, Name: "Test Admin"}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	token, _, err := e.auth.Login(context.Background(), admin.Email, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return token
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assertStatus(t, rr, status)
	var body model.ErrorResponse
	decodeJSON(t, rr, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	if body.Error.Status != status {
		t.Errorf("error status = %d, want %d", body.Error.Status, status)
	}
}
