package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
)

func newTestAdminAuth(t *testing.T) (*AdminAuth, *model.Admin) {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	admin := &model.Admin{Email: "admin@example.com", PasswordHash: hash, Name: "Admin"}
	if err := store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	return NewAdminAuth(store, "test-secret-key-for-jwt", time.Hour, nil), admin
}

func TestLoginAndSession(t *testing.T) {
	auth, admin := newTestAdminAuth(t)
	ctx := context.Background()

	if _, _, err := auth.Login(ctx, "admin@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", err)
	}
	if _, _, err := auth.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: %v", err)
	}

	token, _, err := auth.Login(ctx, "admin@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := auth.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if p.AdminID != admin.ID {
		t.Errorf("AdminID = %d, want %d", p.AdminID, admin.ID)
	}
	if _, err := auth.ValidateSession(ctx, token+"x"); err == nil {
		t.Error("tampered token accepted")
	}
}

func TestExpiredSession(t *testing.T) {
	auth, admin := newTestAdminAuth(t)
	token, err := auth.issue(admin.ID, admin.Email, "", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ValidateSession(context.Background(), token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestNonceIsSingleUse(t *testing.T) {
	auth, admin := newTestAdminAuth(t)
	p := &AdminPrincipal{AdminID: admin.ID, Email: admin.Email}

	nonce, err := auth.IssueNonce(p, "create_key")
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if _, err := auth.ValidateSession(context.Background(), nonce); err == nil {
		t.Error("nonce must not work as a session")
	}
	if err := auth.ConsumeNonce(p, "delete_key", nonce); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("wrong action: %v", err)
	}
	other := &AdminPrincipal{AdminID: admin.ID + 1}
	if err := auth.ConsumeNonce(other, "create_key", nonce); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("wrong admin: %v", err)
	}
	if err := auth.ConsumeNonce(p, "create_key", nonce); err != nil {
		t.Fatalf("ConsumeNonce: %v", err)
	}
	if err := auth.ConsumeNonce(p, "create_key", nonce); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("replay: %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	auth, _ := newTestAdminAuth(t)
	ctx := context.Background()

	token, _, err := auth.Login(ctx, "admin@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	other, _, err := auth.Login(ctx, "admin@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := auth.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}

	auth.RevokeSession(p)
	if _, err := auth.ValidateSession(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("revoked session accepted: %v", err)
	}
	if _, err := auth.ValidateSession(ctx, other); err != nil {
		t.Errorf("unrelated session rejected: %v", err)
	}
	auth.RevokeSession(nil)
}
