package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/config"
)

func newTestKeyStore(t *testing.T) (*KeyStore, *config.Store) {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewKeyStore(store, nil, nil), store
}

func TestKeyLifecycle(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	ctx := context.Background()

	created, err := ks.Create(ctx, "  CI <b>pipeline</b> ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Label != "CI pipeline" {
		t.Errorf("label = %q", created.Label)
	}
	if !ValidSecretShape(created.Secret) {
		t.Errorf("secret %q has wrong shape", created.Secret)
	}

	ok, err := ks.Validate(ctx, created.Secret)
	if err != nil || !ok {
		t.Fatalf("Validate(secret) = %v, %v", ok, err)
	}
	for _, bad := range []string{"", strings.ToUpper(created.Secret), created.Secret[:31], created.Secret + "x"} {
		if ok, _ := ks.Validate(ctx, bad); ok {
			t.Errorf("Validate(%q) = true", bad)
		}
	}

	rec, err := ks.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Key != "" || rec.KeyHash == "" || rec.KeyPrefix != created.Secret[:8] {
		t.Errorf("stored record should hold hash and prefix only: %+v", rec)
	}

	removed, err := ks.Delete(ctx, created.ID)
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	if ok, _ := ks.Validate(ctx, created.Secret); ok {
		t.Error("deleted key still validates")
	}
	removed, err = ks.Delete(ctx, created.ID)
	if err != nil || removed {
		t.Errorf("second Delete = %v, %v", removed, err)
	}
	if _, err := ks.Get(ctx, created.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestCreateRejectsBadLabels(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	ctx := context.Background()

	for _, label := range []string{"", "   ", "<i></i>", strings.Repeat("x", MaxLabelLength+1)} {
		_, err := ks.Create(ctx, label)
		var apiErr *apierr.Error
		if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindValidation {
			t.Errorf("label %q: got %v, want validation error", label, err)
		}
	}
	if _, err := ks.Create(ctx, strings.Repeat("x", MaxLabelLength)); err != nil {
		t.Errorf("label at limit: %v", err)
	}
}

func seedLegacy(t *testing.T, store *config.Store) {
	t.Helper()
	raw := `[{"id":"key_1","label":"old","key":"legacy-secret-1","created_at":"2024-01-01T00:00:00Z"}]`
	if err := store.SetOption(context.Background(), OptionKeys, raw); err != nil {
		t.Fatal(err)
	}
}

func TestLegacyKeysValidate(t *testing.T) {
	ks, store := newTestKeyStore(t)
	seedLegacy(t, store)
	ctx := context.Background()

	if ok, _ := ks.Validate(ctx, "legacy-secret-1"); !ok {
		t.Error("legacy key should validate")
	}
	need, err := ks.NeedsMigration(ctx)
	if err != nil || !need {
		t.Errorf("NeedsMigration = %v, %v", need, err)
	}
}

func TestMigrateRemovesAllKeys(t *testing.T) {
	ks, store := newTestKeyStore(t)
	seedLegacy(t, store)
	ctx := context.Background()

	created, err := ks.Create(ctx, "hashed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := ks.MigrateToHashed(ctx)
	if err != nil {
		t.Fatalf("MigrateToHashed: %v", err)
	}
	if !res.Success || !res.Migrated || res.Removed != 2 || res.Message != MsgMigrated {
		t.Errorf("result = %+v", res)
	}
	keys, _ := ks.List(ctx)
	if len(keys) != 0 {
		t.Errorf("got %d keys after migration, want 0", len(keys))
	}
	if ok, _ := ks.Validate(ctx, created.Secret); ok {
		t.Error("hashed key survived migration")
	}
}

func TestMigrateNoLegacyIsNoop(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	ctx := context.Background()

	if _, err := ks.Create(ctx, "hashed"); err != nil {
		t.Fatal(err)
	}
	res, err := ks.MigrateToHashed(ctx)
	if err != nil {
		t.Fatalf("MigrateToHashed: %v", err)
	}
	if !res.Success || res.Migrated || res.Message != MsgNoMigration {
		t.Errorf("result = %+v", res)
	}
	keys, _ := ks.List(ctx)
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}
}

func TestCorruptKeyOptionReadsEmpty(t *testing.T) {
	ks, store := newTestKeyStore(t)
	ctx := context.Background()
	if err := store.SetOption(ctx, OptionKeys, "not json"); err != nil {
		t.Fatal(err)
	}
	keys, err := ks.List(ctx)
	if err != nil || len(keys) != 0 {
		t.Errorf("List = %v, %v", keys, err)
	}
}

func TestValidatePrefixMissVerifiesDecoy(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	ctx := context.Background()

	created, err := ks.Create(ctx, "ci")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Same length, different prefix: no stored hash is a candidate.
	guess := "zzzzzzzz" + created.Secret[8:]
	if guess[:8] == created.Secret[:8] {
		guess = "yyyyyyyy" + created.Secret[8:]
	}
	ok, err := ks.Validate(ctx, guess)
	if err != nil || ok {
		t.Fatalf("Validate(guess) = %v, %v", ok, err)
	}
	if ks.decoy == "" {
		t.Error("prefix miss did not run a hash verification")
	}
	if VerifySecret(ks.decoy, created.Secret) {
		t.Error("decoy hash matched a real secret")
	}
}
