package model

import "time"

// APIKey is a stored API credential. Records written by the current scheme
// carry KeyHash and KeyPrefix; records from the legacy scheme carry the raw
// Key instead. A legacy record means the whole key set needs migration.
type APIKey struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Key       string    `json:"key,omitempty"`        // legacy plaintext, never written by Create
	KeyHash   string    `json:"key_hash,omitempty"`   // argon2id encoded hash, never expose
	KeyPrefix string    `json:"key_prefix,omitempty"` // first characters of the secret, for display
	CreatedAt time.Time `json:"created_at"`
}

// IsLegacy reports whether the record stores its secret in plaintext.
func (k *APIKey) IsLegacy() bool {
	return k.Key != ""
}

// APIKeyView is the redacted rendering of an APIKey. It never includes the
// secret or its hash.
type APIKeyView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	KeyPrefix string    `json:"key_prefix"`
	Legacy    bool      `json:"legacy"`
	CreatedAt time.Time `json:"created_at"`
}

// View returns the redacted form of the key. Legacy keys show only their
// first four characters.
func (k *APIKey) View() APIKeyView {
	prefix := k.KeyPrefix
	if k.IsLegacy() {
		prefix = k.Key
		if len(prefix) > 4 {
			prefix = prefix[:4]
		}
	}
	return APIKeyView{
		ID:        k.ID,
		Label:     k.Label,
		KeyPrefix: prefix + "...",
		Legacy:    k.IsLegacy(),
		CreatedAt: k.CreatedAt,
	}
}

// CreatedAPIKey is returned exactly once, when a key is created. Secret is
// not recoverable afterwards.
type CreatedAPIKey struct {
	APIKeyView
	Secret string `json:"key"`
}

// MigrationResult reports the outcome of a legacy key migration.
type MigrationResult struct {
	Success  bool   `json:"success"`
	Migrated bool   `json:"migrated"`
	Removed  int    `json:"removed"`
	Message  string `json:"message"`
}
