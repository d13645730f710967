package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SecretLength is the length of every generated API key secret.
const SecretLength = 32

const (
	lowercase      = "abcdefghijklmnopqrstuvwxyz"
	digits         = "0123456789"
	secretAlphabet = lowercase + digits + "-"
)

// prefixLength is the number of leading secret characters stored in the
// clear for display and candidate lookup.
const prefixLength = 8

// Argon2id parameters for key hashes.
const (
	argonMemory  = 19 * 1024
	argonTime    = 2
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// maxSecretAttempts bounds regeneration when patching cannot produce a
// valid secret. Only a broken random source gets anywhere near it.
const maxSecretAttempts = 8

// GenerateSecret returns a random secret of SecretLength characters drawn
// from lowercase letters, digits and hyphen, containing at least one of
// each. Missing classes are patched into positions 0, 1 and 2; if patching
// removed another class the secret is regenerated.
func GenerateSecret(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	for range maxSecretAttempts {
		b := make([]byte, SecretLength)
		for i := range b {
			c, err := pick(random, secretAlphabet)
			if err != nil {
				return "", err
			}
			b[i] = c
		}
		if !strings.ContainsAny(string(b), lowercase) {
			c, err := pick(random, lowercase)
			if err != nil {
				return "", err
			}
			b[0] = c
		}
		if !strings.ContainsAny(string(b), digits) {
			c, err := pick(random, digits)
			if err != nil {
				return "", err
			}
			b[1] = c
		}
		if !strings.Contains(string(b), "-") {
			b[2] = '-'
		}
		if s := string(b); ValidSecretShape(s) {
			return s, nil
		}
	}
	return "", errors.New("random source produced no usable secret")
}

func pick(random io.Reader, set string) (byte, error) {
	n, err := rand.Int(random, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return set[n.Int64()], nil
}

// ValidSecretShape reports whether s has the length, alphabet and character
// classes of a generated secret.
func ValidSecretShape(s string) bool {
	if len(s) != SecretLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(secretAlphabet, s[i]) < 0 {
			return false
		}
	}
	return strings.ContainsAny(s, lowercase) && strings.ContainsAny(s, digits) && strings.Contains(s, "-")
}

// HashSecret returns an encoded argon2id hash of secret in the form
// $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>.
func HashSecret(random io.Reader, secret string) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	salt := make([]byte, argonSaltLen)
	if _, err := io.ReadFull(random, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifySecret reports whether secret matches an encoded argon2id hash.
// Malformed hashes never match.
func VerifySecret(encoded, secret string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return false
	}
	derived := argon2.IDKey([]byte(secret), salt, t, m, p, uint32(len(hash)))
	return subtle.ConstantTimeCompare(derived, hash) == 1
}

// secretPrefix returns the displayable prefix of a secret.
func secretPrefix(secret string) string {
	if len(secret) < prefixLength {
		return secret
	}
	return secret[:prefixLength]
}
