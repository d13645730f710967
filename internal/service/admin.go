package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidNonce       = errors.New("invalid or used nonce")
)

// nonceTTL is how long an action nonce stays usable.
const nonceTTL = 15 * time.Minute

// AdminStore is the subset of the store used for admin accounts.
type AdminStore interface {
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	UpdateAdminLastLogin(ctx context.Context, id int64) error
}

// AdminPrincipal identifies an authenticated administrator.
type AdminPrincipal struct {
	AdminID int64
	Email   string

	sessionID string
	expiresAt time.Time
}

// AdminAuth handles administrator sessions and single-use action nonces.
type AdminAuth struct {
	store     AdminStore
	jwtSecret []byte
	ttl       time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	used    map[string]time.Time // consumed nonce ids until expiry
	revoked map[string]time.Time // logged-out session ids until expiry
}

// NewAdminAuth creates an AdminAuth signing tokens with jwtSecret.
func NewAdminAuth(store AdminStore, jwtSecret string, ttl time.Duration, logger *slog.Logger) *AdminAuth {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		logger:    logger,
		used:      make(map[string]time.Time),
		revoked:   make(map[string]time.Time),
	}
}

// HashPassword returns a bcrypt hash for an admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks an email and password and returns a signed session token.
func (a *AdminAuth) Login(ctx context.Context, email, password string) (string, *model.Admin, error) {
	admin, err := a.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := a.store.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		a.logger.Warn("failed to record admin login", "admin_id", admin.ID, "error", err)
	}
	token, err := a.issue(admin.ID, admin.Email, "", a.ttl)
	if err != nil {
		return "", nil, err
	}
	a.logger.Info("admin logged in", "event", "admin_login", "admin_id", admin.ID)
	return token, admin, nil
}

// ValidateSession verifies a session token. Revoked sessions fail.
func (a *AdminAuth) ValidateSession(ctx context.Context, token string) (*AdminPrincipal, error) {
	claims, err := a.parse(token)
	if err != nil || claims.Action != "" || claims.ID == "" {
		return nil, ErrInvalidCredentials
	}
	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, ErrInvalidCredentials
	}
	if _, err := a.store.GetAdmin(ctx, claims.AdminID); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &AdminPrincipal{
		AdminID:   claims.AdminID,
		Email:     claims.Email,
		sessionID: claims.ID,
		expiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RevokeSession invalidates the session p was authenticated with. The
// revocation is held in memory until the token would have expired.
func (a *AdminAuth) RevokeSession(p *AdminPrincipal) {
	if p == nil || p.sessionID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	prune(a.revoked, time.Now())
	a.revoked[p.sessionID] = p.expiresAt
	a.logger.Info("admin logged out", "event", "admin_logout", "admin_id", p.AdminID)
}

func prune(ids map[string]time.Time, now time.Time) {
	for id, exp := range ids {
		if now.After(exp) {
			delete(ids, id)
		}
	}
}

// IssueNonce returns a single-use token authorising one named action for an
// administrator.
func (a *AdminAuth) IssueNonce(p *AdminPrincipal, action string) (string, error) {
	return a.issue(p.AdminID, p.Email, action, nonceTTL)
}

// ConsumeNonce verifies a nonce for action and marks it used. A nonce issued
// to another administrator, for another action, or already consumed fails.
func (a *AdminAuth) ConsumeNonce(p *AdminPrincipal, action, nonce string) error {
	claims, err := a.parse(nonce)
	if err != nil || claims.Action != action || claims.AdminID != p.AdminID || claims.ID == "" {
		return ErrInvalidNonce
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prune(a.used, time.Now())
	if _, seen := a.used[claims.ID]; seen {
		return ErrInvalidNonce
	}
	a.used[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (a *AdminAuth) issue(adminID int64, email, action string, ttl time.Duration) (string, error) {
	now := time.Now()
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	claims := adminClaims{
		AdminID: adminID,
		Email:   email,
		Action:  action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "cptrest",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *AdminAuth) parse(tokenStr string) (*adminClaims, error) {
	claims := &adminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

type adminClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	Action  string `json:"act,omitempty"`
	jwt.RegisteredClaims
}
