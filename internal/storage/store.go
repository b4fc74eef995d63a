// Package storage persists newsletter bodies on the local filesystem under
// three namespaces: per-user private objects, content-addressed shared
// objects, and administrator-approved community objects.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrStorageWrite indicates the backing storage was unavailable or the
// write failed. Callers abort the whole store operation before creating
// any newsletter record, so no record ever dangles on a missing object.
var ErrStorageWrite = errors.New("storage write failure")

const (
	privatePrefix   = "users"
	sharedPrefix    = "shared"
	communityPrefix = "community"
)

// Store is a filesystem-backed blob store rooted at one directory
type Store struct {
	root string
}

// New creates a blob store rooted at the given directory
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// NewPrivateKey generates a fresh storage key in a user's private
// namespace. Private objects are never content-addressed, so identical
// bodies stored privately by two users occupy two objects.
func NewPrivateKey(userID uint) string {
	return fmt.Sprintf("%s/%d/%s.html", privatePrefix, userID, uuid.NewString())
}

// SharedKey derives the storage key for a shared, content-addressed
// object. Two writers racing on the same hash land on the same object, so
// the loser's "discarded" write costs nothing.
func SharedKey(contentHash string) string {
	return fmt.Sprintf("%s/%s.html", sharedPrefix, contentHash)
}

// CommunityKey derives the storage key for administrator-approved
// community content. The namespace is distinct from the shared one so a
// community publish never collides with, or mutates, regular objects.
func CommunityKey(contentHash string) string {
	return fmt.Sprintf("%s/%s.html", communityPrefix, contentHash)
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Write stores a body under a key. Objects are written once: writing an
// existing key is a no-op, which makes content-addressed writes idempotent.
func (s *Store) Write(key string, body []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

// Read returns the body stored under a key
func (s *Store) Read(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage object %s: %w", key, err)
	}
	return body, nil
}

// Exists reports whether an object is stored under a key
func (s *Store) Exists(key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat storage object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes an object. Missing objects are not an error, so rolling
// back a speculative write that never landed is safe.
func (s *Store) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete storage object %s: %w", key, err)
	}
	return nil
}
