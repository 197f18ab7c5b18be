// Package crypto implements the authenticated encryption and identifier
// pseudonymization used by the pipeline. Envelopes are nonce||ciphertext
// under AES-256-GCM, base64-encoded as a single string, so the nonce can
// never travel without its ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32
	// nonceSize matches the GCM standard nonce length. The envelope split
	// depends on it staying fixed.
	nonceSize = 12
)

// Error is a non-recoverable cryptographic failure for the record involved.
// Callers must log and surface it, never substitute guessed content.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("crypto: %s", e.Op)
	}
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Cipher performs envelope encryption and identifier hashing with
// externally supplied key material.
type Cipher struct {
	aead      cipher.AEAD
	salt      string
	ephemeral bool
}

// New creates a Cipher from a 32-byte key and the deployment-static
// pseudonymization salt.
func New(key []byte, salt string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	if salt == "" {
		return nil, errors.New("crypto: pseudonym salt must not be empty")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	return &Cipher{aead: aead, salt: salt}, nil
}

// NewEphemeral creates a Cipher with a random process-lifetime key. Records
// encrypted with it are unreadable after restart, so this is only acceptable
// for non-production runs; it logs a loud warning to make that visible.
func NewEphemeral(salt string) (*Cipher, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	c, err := New(key, salt)
	if err != nil {
		return nil, err
	}
	c.ephemeral = true
	slog.Warn("ENCRYPTION KEY NOT CONFIGURED - using ephemeral key; encrypted records will be unreadable after restart; do not run this way in production")
	return c, nil
}

// Ephemeral reports whether the key was generated at startup rather than
// supplied externally.
func (c *Cipher) Ephemeral() bool { return c.ephemeral }

// Encrypt serializes the payload as JSON, encrypts it under a fresh random
// nonce, and returns the envelope as a single base64 string.
func (c *Cipher) Encrypt(payload any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", newError("serialize payload", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", newError("generate nonce", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt into out. Authentication failure means the
// envelope was tampered with or encrypted under a different key.
func (c *Cipher) Decrypt(envelope string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return newError("decode envelope", err)
	}
	if len(raw) <= nonceSize {
		return newError("decode envelope", errors.New("envelope shorter than nonce"))
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return newError("authenticate envelope", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return newError("deserialize payload", err)
	}
	return nil
}

// HashIdentifier returns the hex SHA-256 of id + the static salt. It is
// deterministic so warehouse rows for one user join without the identifier.
func (c *Cipher) HashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(id + c.salt))
	return hex.EncodeToString(sum[:])
}

// encryptedMarker is the companion flag appended per encrypted field so a
// partially encrypted document stays readable without a key.
func encryptedMarker(field string) string { return field + "_encrypted" }

// EncryptFields envelope-encrypts the named fields of doc in place,
// setting "<field>_encrypted": true for each. Absent fields are skipped.
func (c *Cipher) EncryptFields(doc map[string]any, fields []string) (map[string]any, error) {
	for _, f := range fields {
		v, ok := doc[f]
		if !ok || v == nil {
			continue
		}
		env, err := c.Encrypt(v)
		if err != nil {
			return nil, err
		}
		doc[f] = env
		doc[encryptedMarker(f)] = true
	}
	return doc, nil
}

// DecryptFields reverses EncryptFields for fields whose marker is set,
// clearing the marker. Fields without a marker are left untouched.
func (c *Cipher) DecryptFields(doc map[string]any, fields []string) (map[string]any, error) {
	for _, f := range fields {
		marked, ok := doc[encryptedMarker(f)].(bool)
		if !ok || !marked {
			continue
		}
		env, ok := doc[f].(string)
		if !ok {
			return nil, newError("decrypt field "+f, errors.New("encrypted field is not a string envelope"))
		}
		var v any
		if err := c.Decrypt(env, &v); err != nil {
			return nil, err
		}
		doc[f] = v
		delete(doc, encryptedMarker(f))
	}
	return doc, nil
}
