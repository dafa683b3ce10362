// Package credentials stores the workspace credential bundle sent with every
// platform API request.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Orcapt/orca-cli/pkg/errx"
)

// DefaultMode is used when neither the file nor the environment sets a mode.
const DefaultMode = "prod"

// Environment overrides for the stored bundle.
const (
	EnvWorkspace = "ORCA_WORKSPACE"
	EnvToken     = "ORCA_TOKEN"
	EnvMode      = "ORCA_MODE"
)

var (
	ErrNotAuthenticated = errx.NewSentinel("not authenticated", errx.CodeAuth, errx.DescAuth)
	ErrReadFailed       = errx.NewSentinel("failed to read credentials", errx.CodeConfig, errx.DescConfig)
	ErrWriteFailed      = errx.NewSentinel("failed to write credentials", errx.CodeConfig, errx.DescConfig)
	ErrInvalidBundle    = errx.NewSentinel("invalid credentials", errx.CodeAuth, errx.DescAuth)
)

// Bundle identifies the caller to the platform API.
type Bundle struct {
	Workspace string `yaml:"workspace"`
	Token     string `yaml:"token"`
	Mode      string `yaml:"mode,omitempty"`
}

// Complete reports whether the bundle can authenticate a request.
func (b Bundle) Complete() bool {
	return strings.TrimSpace(b.Workspace) != "" && strings.TrimSpace(b.Token) != ""
}

// Store reads and writes the bundle at a yaml file path.
type Store struct {
	path   string
	getenv func(string) string
}

// DefaultPath returns ~/.orca/credentials.yaml, or .orca/credentials.yaml
// relative to the working directory when there is no home directory.
func DefaultPath() string {
	rel := filepath.Join(".orca", "credentials.yaml")
	home, err := os.UserHomeDir()
	if err != nil {
		return rel
	}
	return filepath.Join(home, rel)
}

// NewStore returns a Store for path. Environment overrides are read with
// os.Getenv.
func NewStore(path string) *Store {
	return &Store{path: path, getenv: os.Getenv}
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Load returns the stored bundle with environment overrides applied.
// A bundle without workspace or token yields ErrNotAuthenticated.
func (s *Store) Load() (*Bundle, error) {
	var b Bundle
	// #nosec G304 -- path is scoped to the user's config directory.
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, errx.WrapSentinel(ErrReadFailed, err, fmt.Sprintf("failed to parse %s: %v", s.path, err))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errx.WrapSentinel(ErrReadFailed, err, fmt.Sprintf("failed to read %s: %v", s.path, err))
	}

	if v := s.getenv(EnvWorkspace); v != "" {
		b.Workspace = v
	}
	if v := s.getenv(EnvToken); v != "" {
		b.Token = v
	}
	if v := s.getenv(EnvMode); v != "" {
		b.Mode = v
	}
	if b.Mode == "" {
		b.Mode = DefaultMode
	}
	if !b.Complete() {
		return nil, errx.NewFromSentinel(ErrNotAuthenticated, "not authenticated: run 'orca login' first")
	}
	return &b, nil
}

// Save writes b with owner-only permissions.
func (s *Store) Save(b Bundle) error {
	if !b.Complete() {
		return errx.NewFromSentinel(ErrInvalidBundle, "workspace and token are required")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return errx.WrapSentinel(ErrWriteFailed, err, fmt.Sprintf("failed to create %s: %v", filepath.Dir(s.path), err))
	}
	data, err := yaml.Marshal(b)
	if err != nil {
		return errx.WrapSentinel(ErrWriteFailed, err, fmt.Sprintf("failed to encode credentials: %v", err))
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errx.WrapSentinel(ErrWriteFailed, err, fmt.Sprintf("failed to write %s: %v", s.path, err))
	}
	return nil
}

// Clear removes the stored bundle. Clearing a missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errx.WrapSentinel(ErrWriteFailed, err, fmt.Sprintf("failed to remove %s: %v", s.path, err))
	}
	return nil
}
