package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
server:
  port: 9090
  public_url: ${CPTREST_TEST_PUBLIC_URL}
store:
  driver: sqlite
post_types:
  - name: event
    label: Events
    public: true
    meta: [venue, capacity]
  - name: speaker
    show_ui: true
relations:
  provider: sql
  definitions:
    - slug: speaker-event
      name: Speakers
      parent_types: [speaker]
      child_types: [event]
      child_max: 3
`

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("CPTREST_TEST_PUBLIC_URL", "https://api.example.com")
	path := filepath.Join(t.TempDir(), "cptrest.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.PublicURL != "https://api.example.com" {
		t.Errorf("public_url = %q, want expanded env value", cfg.Server.PublicURL)
	}
	if cfg.Auth.KeyRateLimit != 10 {
		t.Errorf("key_rate_limit = %d, want default 10", cfg.Auth.KeyRateLimit)
	}
	if len(cfg.PostTypes) != 2 || len(cfg.Relations.Definitions) != 1 {
		t.Fatalf("post_types = %d, definitions = %d", len(cfg.PostTypes), len(cfg.Relations.Definitions))
	}
}

func TestSeed(t *testing.T) {
	t.Setenv("CPTREST_TEST_PUBLIC_URL", "")
	path := filepath.Join(t.TempDir(), "cptrest.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}

	s := newTestStore(t)
	ctx := context.Background()
	// Seeding twice must not fail.
	for i := 0; i < 2; i++ {
		if err := cfg.Seed(ctx, s); err != nil {
			t.Fatalf("Seed #%d: %v", i+1, err)
		}
	}

	pt, err := s.GetPostType(ctx, "speaker")
	if err != nil {
		t.Fatalf("GetPostType: %v", err)
	}
	if pt.Label != "speaker" || !pt.ShowUI || pt.Public {
		t.Errorf("speaker = %+v", pt)
	}

	meta, err := s.RegisteredMeta(ctx, "event")
	if err != nil || len(meta) != 2 || meta[0] != "capacity" {
		t.Errorf("RegisteredMeta = %v, %v", meta, err)
	}

	rels, err := s.ListRelationships(ctx)
	if err != nil || len(rels) != 1 {
		t.Fatalf("ListRelationships = %v, %v", rels, err)
	}
	if rels[0].Cardinality.ChildMax != 3 || rels[0].Cardinality.ParentMax != -1 {
		t.Errorf("cardinality = %+v, want parent -1, child 3", rels[0].Cardinality)
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cptrest.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Relations.Provider != "none" || cfg.Store.Driver != DriverSQLite {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}
