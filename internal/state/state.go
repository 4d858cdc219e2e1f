// Package state reads and writes the files the bootstrap layer coordinates
// through. Nothing is cached: every call goes to disk.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/validate"
)

// NodeConfig records whether a private runtime is in use and where it lives.
type NodeConfig struct {
	Portable bool   `json:"portable"`
	NodePath string `json:"node_path"`
}

// AppConfig is the account state owned by the auth layer.
type AppConfig struct {
	AuthToken *string `json:"auth_token,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// Store gives typed access to the files of one layout.
type Store struct {
	Layout paths.Layout
}

func New(l paths.Layout) *Store { return &Store{Layout: l} }

// NodeConfig returns the persisted runtime config. Missing, unreadable or
// invalid files yield the zero value.
func (s *Store) NodeConfig() NodeConfig {
	var nc NodeConfig
	b, err := os.ReadFile(s.Layout.NodeConfig())
	if err != nil {
		return nc
	}
	if err := validate.NodeConfig(b); err != nil {
		log.Warn().Str("file", s.Layout.NodeConfig()).Err(err).Msg("ignoring invalid node config")
		return NodeConfig{}
	}
	if err := json.Unmarshal(b, &nc); err != nil {
		return NodeConfig{}
	}
	return nc
}

// SaveNodeConfig persists nc.
func (s *Store) SaveNodeConfig(nc NodeConfig) error {
	return s.writeJSON(s.Layout.NodeConfig(), nc, 0o644)
}

// AppConfig returns the account config, or the zero value.
func (s *Store) AppConfig() AppConfig {
	var ac AppConfig
	b, err := os.ReadFile(s.Layout.AppConfig())
	if err != nil {
		return ac
	}
	if err := validate.AppConfig(b); err != nil {
		log.Warn().Str("file", s.Layout.AppConfig()).Err(err).Msg("ignoring invalid app config")
		return AppConfig{}
	}
	if err := json.Unmarshal(b, &ac); err != nil {
		return AppConfig{}
	}
	return ac
}

// SaveAppConfig persists ac readable by the owner only.
func (s *Store) SaveAppConfig(ac AppConfig) error {
	return s.writeJSON(s.Layout.AppConfig(), ac, 0o600)
}

// DiscardAppConfig removes config.json if present.
func (s *Store) DiscardAppConfig() {
	discard(s.Layout.AppConfig())
}

// MarkerExists reports whether the install marker is present.
func (s *Store) MarkerExists() bool {
	_, err := os.Stat(s.Layout.Marker())
	return err == nil
}

// WriteMarker creates the install marker.
func (s *Store) WriteMarker() error {
	s.Layout.EnsureDir()
	if err := os.WriteFile(s.Layout.Marker(), []byte("installed"), 0o644); err != nil {
		return fmt.Errorf("cannot write marker: %w", err)
	}
	return nil
}

// ErrNoPID is returned by PID when no pid record exists.
var ErrNoPID = errors.New("no pid record")

// PID returns the recorded agent pid. A missing file yields ErrNoPID; content
// that is not a positive decimal integer yields a parse error.
func (s *Store) PID() (int, error) {
	b, err := os.ReadFile(s.Layout.PIDFile())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoPID
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid record: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid record: %d", pid)
	}
	return pid, nil
}

// SavePID records pid.
func (s *Store) SavePID(pid int) error {
	s.Layout.EnsureDir()
	return atomicWrite(s.Layout.PIDFile(), []byte(strconv.Itoa(pid)), 0o644)
}

// DiscardPID removes the pid record if present.
func (s *Store) DiscardPID() {
	discard(s.Layout.PIDFile())
}

func (s *Store) writeJSON(path string, v any, mode os.FileMode) error {
	s.Layout.EnsureDir()
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, b, mode)
}

func atomicWrite(path string, b []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, mode); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("file", path).Err(err).Msg("remove failed")
	}
}
