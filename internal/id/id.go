// Package id generates and parses the identifiers used by the livereload server.
package id

import (
	"crypto/sha1" //nolint:gosec // used as a stable key, not for security
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for server-generated identifiers.
const (
	PrefixSubscriber = "sub"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "sub-V1StGXR8_Z5jdHi6B-myT").
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Session is a client-supplied session identifier.
// Clients generate one per page load and send it when opening a stream.
type Session struct {
	UUID uuid.UUID
}

// ParseSession validates a client session identifier.
func ParseSession(raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, fmt.Errorf("session id is empty")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	if u == uuid.Nil {
		return Session{}, fmt.Errorf("session id is nil uuid")
	}
	return Session{UUID: u}, nil
}

// String returns the canonical form of the session id.
func (s Session) String() string {
	return s.UUID.String()
}

// Short returns the first group of the canonical form. It is used in frame ids.
func (s Session) Short() string {
	c := s.UUID.String()
	head, _, _ := strings.Cut(c, "-")
	return head
}

// Installation derives a stable identifier for an installation root.
// The same root always produces the same identifier.
func Installation(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	sum := sha1.Sum([]byte(filepath.Clean(root))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
