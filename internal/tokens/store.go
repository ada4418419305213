// Package tokens persists the session/refresh token pair as a small JSON
// blob at a fixed path. The blob is deliberately not encrypted at rest.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Pair is the cookie-carried token pair for one authenticated session.
type Pair struct {
	Session string `json:"session"`
	Refresh string `json:"refresh"`
}

// Empty reports whether neither token is present.
func (p Pair) Empty() bool { return p.Session == "" && p.Refresh == "" }

// Store reads and writes a Pair at Path. Last writer wins; the caller
// serializes saves.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the stored pair. A missing file is (zero, false, nil),
// not an error.
func (s *Store) Load() (Pair, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Pair{}, false, nil
		}
		return Pair{}, false, fmt.Errorf("read token file: %w", err)
	}

	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return Pair{}, false, fmt.Errorf("parse token file: %w", err)
	}
	return p, true, nil
}

// Save atomically replaces the token file. The temp file lives in the
// same directory so the rename never crosses filesystems.
func (s *Store) Save(p Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp token file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
