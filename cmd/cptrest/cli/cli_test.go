package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/service"
)

// run executes the command tree against a data directory and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test", "none", "unknown")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--data-dir", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("cptrest %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestKeyCommands(t *testing.T) {
	dir := t.TempDir()

	var created model.CreatedAPIKey
	if err := json.Unmarshal([]byte(mustRun(t, dir, "key", "create", "--label", "ci", "--json")), &created); err != nil {
		t.Fatalf("decode created key: %v", err)
	}
	if len(created.Secret) != service.SecretLength || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	var views []model.APIKeyView
	if err := json.Unmarshal([]byte(mustRun(t, dir, "key", "list", "--json")), &views); err != nil {
		t.Fatalf("decode key list: %v", err)
	}
	if len(views) != 1 || views[0].Label != "ci" || views[0].Legacy {
		t.Fatalf("views = %+v", views)
	}
	if strings.Contains(mustRun(t, dir, "key", "list"), created.Secret) {
		t.Error("key list leaked the secret")
	}

	out := mustRun(t, dir, "key", "migrate")
	if !strings.Contains(out, service.MsgNoMigration) {
		t.Errorf("migrate output = %q", out)
	}

	mustRun(t, dir, "key", "delete", created.ID)
	if _, err := run(t, dir, "key", "delete", created.ID); err == nil {
		t.Error("deleting a missing key should fail")
	}
}

func TestKeyCreateRequiresLabel(t *testing.T) {
	if _, err := run(t, t.TempDir(), "key", "create"); err == nil {
		t.Error("expected an error without --label")
	}
}

func TestTypeAndSettingsCommands(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "type", "add", "event", "--label", "Events", "--public", "--meta", "venue")
	mustRun(t, dir, "type", "add", "note", "--show-ui")

	var rows []typeRow
	if err := json.Unmarshal([]byte(mustRun(t, dir, "type", "list", "--json")), &rows); err != nil {
		t.Fatalf("decode type list: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.Name == "event" {
			found = true
			if !r.Available || r.Active || len(r.Meta) != 1 {
				t.Errorf("event row = %+v", r)
			}
		}
	}
	if !found {
		t.Fatal("event not listed")
	}

	// page is a core type and never selectable.
	mustRun(t, dir, "settings", "set", "--active", "event,page,note", "--relations")

	var v settingsView
	if err := json.Unmarshal([]byte(mustRun(t, dir, "settings", "show", "--json")), &v); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if v.Namespace != "cpt/v1" || !v.RelationsEnabled {
		t.Errorf("settings = %+v", v)
	}
	if strings.Join(v.Effective, ",") != "event,note" {
		t.Errorf("effective = %v, want [event note]", v.Effective)
	}

	// Restricting non-public types drops note from the routed set.
	mustRun(t, dir, "settings", "set", "--nonpublic", "publicly_queryable", "--base-segment", "api")
	if err := json.Unmarshal([]byte(mustRun(t, dir, "settings", "show", "--json")), &v); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if v.Namespace != "api/v1" || strings.Join(v.Effective, ",") != "event" {
		t.Errorf("after restrict: namespace %q effective %v", v.Namespace, v.Effective)
	}

	if _, err := run(t, dir, "settings", "set", "--base-segment", "Not Valid"); err == nil {
		t.Error("invalid base segment accepted")
	}

	mustRun(t, dir, "settings", "reset-types")
	v = settingsView{}
	if err := json.Unmarshal([]byte(mustRun(t, dir, "settings", "show", "--json")), &v); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if len(v.Effective) != 0 {
		t.Errorf("effective after reset = %v", v.Effective)
	}

	mustRun(t, dir, "type", "remove", "note")
	if _, err := run(t, dir, "type", "remove", "page"); err == nil {
		t.Error("removing a built-in type should fail")
	}
}

func TestSettingsSetRequiresChange(t *testing.T) {
	if _, err := run(t, t.TempDir(), "settings", "set"); err == nil {
		t.Error("expected an error with no flags")
	}
}

func TestTypeAddRejectsCoreAndInvalidNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"post", "Bad Name", strings.Repeat("x", 21)} {
		if _, err := run(t, dir, "type", "add", name); err == nil {
			t.Errorf("type add %q succeeded", name)
		}
	}
}

func TestOpenAPICommand(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "type", "add", "event", "--public")
	mustRun(t, dir, "settings", "set", "--active", "event")

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(mustRun(t, dir, "openapi", "--public-url", "https://api.example.com")), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	paths, _ := doc["paths"].(map[string]interface{})
	if _, ok := paths["/event"]; !ok {
		t.Errorf("paths = %v, want /event", paths)
	}
	servers, _ := doc["servers"].([]interface{})
	if len(servers) != 1 || servers[0].(map[string]interface{})["url"] != "https://api.example.com/cpt/v1" {
		t.Errorf("servers = %v", servers)
	}

	out := filepath.Join(dir, "openapi.yaml")
	mustRun(t, dir, "openapi", "--format", "yaml", "-o", out)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "/event/{id}") {
		t.Errorf("yaml document missing item path:\n%s", data)
	}

	if _, err := run(t, dir, "openapi", "--format", "xml"); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestAdminCommands(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "admin", "create", "--email", "ops@example.com", "--password", "longenough", "--name", "Ops")
	if _, err := run(t, dir, "admin", "create", "--email", "ops@example.com", "--password", "longenough"); err == nil {
		t.Error("duplicate admin accepted")
	}
	if _, err := run(t, dir, "admin", "create", "--email", "short@example.com", "--password", "short"); err == nil {
		t.Error("short password accepted")
	}
	if _, err := run(t, dir, "admin", "create", "--email", "nope", "--password", "longenough"); err == nil {
		t.Error("invalid email accepted")
	}

	var admins []model.Admin
	if err := json.Unmarshal([]byte(mustRun(t, dir, "admin", "list", "--json")), &admins); err != nil {
		t.Fatalf("decode admins: %v", err)
	}
	if len(admins) != 1 || admins[0].Name != "Ops" {
		t.Errorf("admins = %+v", admins)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cptrest.yaml")

	mustRun(t, dir, "config", "init", "-o", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := run(t, dir, "config", "init", "-o", path); err == nil {
		t.Error("overwrite without --force succeeded")
	}
	mustRun(t, dir, "config", "init", "-o", path, "--force")
}

func TestVersionJSON(t *testing.T) {
	var info versionInfo
	if err := json.Unmarshal([]byte(mustRun(t, t.TempDir(), "version", "--json")), &info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info.Version != "test" || info.APIVersion == "" {
		t.Errorf("version = %+v", info)
	}
}

func TestStatusWithoutServer(t *testing.T) {
	out := mustRun(t, t.TempDir(), "status")
	if !strings.Contains(out, "not running") {
		t.Errorf("status output = %q", out)
	}
}

func TestStopWithoutServer(t *testing.T) {
	if _, err := run(t, t.TempDir(), "stop"); err == nil {
		t.Error("stop without a PID file should fail")
	}
}
