package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/sanitize"
)

// OptionKeys is the host option holding the key list.
const OptionKeys = "cpt_rest_api_keys"

// MaxLabelLength bounds the human label of a key.
const MaxLabelLength = 100

// ErrKeyNotFound is returned by Get when no key has the requested id.
var ErrKeyNotFound = errors.New("api key not found")

// Migration result messages.
const (
	MsgMigrated    = "All API keys have been removed. Create new keys and distribute them to your API consumers."
	MsgNoMigration = "No legacy API keys found. No migration needed."
)

// OptionStore is the host key-value facility.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
}

// KeyStore owns the API key records. The whole list lives in one option and
// every read-modify-write cycle holds mu.
type KeyStore struct {
	store  OptionStore
	random io.Reader
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex

	decoyOnce sync.Once
	decoy     string
}

// NewKeyStore creates a KeyStore. A nil random uses crypto/rand.
func NewKeyStore(store OptionStore, random io.Reader, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyStore{store: store, random: random, logger: logger, now: time.Now}
}

func (k *KeyStore) load(ctx context.Context) ([]model.APIKey, error) {
	raw, ok, err := k.store.GetOption(ctx, OptionKeys)
	if err != nil {
		return nil, err
	}
	keys := []model.APIKey{}
	if !ok || raw == "" {
		return keys, nil
	}
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		k.logger.Error("api key option is not valid JSON, treating as empty", "error", err)
		return []model.APIKey{}, nil
	}
	return keys, nil
}

func (k *KeyStore) save(ctx context.Context, keys []model.APIKey) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return k.store.SetOption(ctx, OptionKeys, string(data))
}

// Create generates a key for label and stores its hash. The returned secret
// is the only time it is ever visible.
func (k *KeyStore) Create(ctx context.Context, label string) (*model.CreatedAPIKey, error) {
	label = sanitize.Text(label)
	if label == "" {
		return nil, apierr.Validation("invalid_label", "A label is required.")
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return nil, apierr.Validation("invalid_label", "The label must be 100 characters or fewer.")
	}

	secret, err := GenerateSecret(k.random)
	if err != nil {
		return nil, err
	}
	hash, err := HashSecret(k.random, secret)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	rec := model.APIKey{
		ID:        id.String(),
		Label:     label,
		KeyHash:   hash,
		KeyPrefix: secretPrefix(secret),
		CreatedAt: k.now().UTC(),
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := k.save(ctx, append(keys, rec)); err != nil {
		return nil, err
	}
	k.logger.Info("api key created", "event", "key_created", "key_id", rec.ID, "label", rec.Label)
	return &model.CreatedAPIKey{APIKeyView: rec.View(), Secret: secret}, nil
}

// List returns every stored key. Callers must render them with View.
func (k *KeyStore) List(ctx context.Context) ([]model.APIKey, error) {
	return k.load(ctx)
}

// Get returns the key with the given id.
func (k *KeyStore) Get(ctx context.Context, id string) (*model.APIKey, error) {
	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].ID == id {
			return &keys[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

// Delete removes the key with the given id and reports whether it existed.
func (k *KeyStore) Delete(ctx context.Context, id string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return false, err
	}
	for i := range keys {
		if keys[i].ID == id {
			keys = append(keys[:i], keys[i+1:]...)
			if err := k.save(ctx, keys); err != nil {
				return false, err
			}
			k.logger.Info("api key deleted", "event", "key_deleted", "key_id", id)
			return true, nil
		}
	}
	return false, nil
}

// Validate reports whether secret matches any stored key. Comparison is
// case-sensitive and constant-time per candidate. Hashed keys are only
// verified when their stored prefix matches; when none does, a decoy hash is
// verified instead so a prefix miss costs the same as a hash mismatch.
func (k *KeyStore) Validate(ctx context.Context, secret string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	keys, err := k.load(ctx)
	if err != nil {
		return false, err
	}
	prefix := secretPrefix(secret)
	match, verified := false, false
	for i := range keys {
		rec := &keys[i]
		if rec.IsLegacy() {
			if subtle.ConstantTimeCompare([]byte(rec.Key), []byte(secret)) == 1 {
				match = true
			}
			continue
		}
		if rec.KeyHash == "" || subtle.ConstantTimeCompare([]byte(rec.KeyPrefix), []byte(prefix)) != 1 {
			continue
		}
		verified = true
		if VerifySecret(rec.KeyHash, secret) {
			match = true
		}
	}
	if !verified {
		VerifySecret(k.decoyHash(), secret)
	}
	return match, nil
}

// decoyHash returns a hash no generated secret matches.
func (k *KeyStore) decoyHash() string {
	k.decoyOnce.Do(func() {
		// The underscore is outside the secret alphabet.
		k.decoy, _ = HashSecret(nil, "_decoy")
	})
	return k.decoy
}

// NeedsMigration reports whether any stored key is in legacy plaintext form.
func (k *KeyStore) NeedsMigration(ctx context.Context) (bool, error) {
	keys, err := k.load(ctx)
	if err != nil {
		return false, err
	}
	for i := range keys {
		if keys[i].IsLegacy() {
			return true, nil
		}
	}
	return false, nil
}

// MigrateToHashed revokes the whole key set if any legacy key is present.
// Hashed keys are removed too; every consumer needs a newly issued key.
// With no legacy keys it changes nothing.
func (k *KeyStore) MigrateToHashed(ctx context.Context) (model.MigrationResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return model.MigrationResult{}, err
	}
	legacy := false
	for i := range keys {
		if keys[i].IsLegacy() {
			legacy = true
			break
		}
	}
	if !legacy {
		return model.MigrationResult{Success: true, Message: MsgNoMigration}, nil
	}
	if err := k.save(ctx, []model.APIKey{}); err != nil {
		return model.MigrationResult{}, err
	}
	k.logger.Warn("legacy api keys migrated, all keys revoked", "event", "key_migration", "removed", len(keys))
	return model.MigrationResult{Success: true, Migrated: true, Removed: len(keys), Message: MsgMigrated}, nil
}

// trimBearer extracts the token from an Authorization header value. ok is
// false when the header does not use the Bearer scheme.
func trimBearer(header string) (token string, ok bool) {
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return "", false
	}
	return strings.TrimSpace(header[len(scheme):]), true
}
