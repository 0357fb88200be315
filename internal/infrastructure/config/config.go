// Package config implements the Config Store: a versioned JSON file
// under ~/.mindlink/config.json, written with a pre-write backup so a
// crash mid-write never destroys the last-known-good config, plus a
// thin environment-variable overlay for deployment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	apperrors "github.com/mindlink-dev/mindlink/pkg/errors"
)

const (
	configFileName = "config.json"
	backupSuffix   = ".backup"
	dirName        = ".mindlink"
)

// DefaultDir returns the per-user MindLink home directory, creating it
// if necessary.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindFileSystem, "resolve home directory", err)
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", apperrors.Wrap(apperrors.KindFileSystem, "create config directory", err)
	}
	return dir, nil
}

// Store owns the on-disk config file: load, atomic update with
// backup, restore, and a narrow key/value escape hatch for values the
// typed schema doesn't name.
type Store struct {
	mu      sync.RWMutex
	path    string
	backup  string
	cfg     domain.Config
	log     *zap.Logger
	watcher *fsnotify.Watcher
}

// Load reads path (creating a default config on first run), applies
// the environment overlay, and returns a ready Store. An unreadable or
// corrupt file triggers an automatic restore attempt from the adjacent
// backup before giving up. An older version is migrated and written
// back after the previous file is copied to the backup; a version
// newer than this binary supports is rejected.
func Load(path string, log *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		backup: path + backupSuffix,
		log:    log,
	}

	cfg, err := s.readFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("primary config unreadable, attempting backup restore", zap.Error(err))
			if backupCfg, berr := s.readFile(s.backup); berr == nil {
				s.cfg = backupCfg
				if werr := s.writeFile(s.path, s.cfg); werr != nil {
					return nil, werr
				}
				applyEnvOverlay(&s.cfg)
				return s, nil
			}
			return nil, apperrors.Wrap(apperrors.KindConfiguration, "load config", err)
		}
		s.cfg = domain.Default()
		if werr := s.writeFile(s.path, s.cfg); werr != nil {
			return nil, werr
		}
		applyEnvOverlay(&s.cfg)
		return s, nil
	}

	needsRewrite := cfg.Version < domain.CurrentConfigVersion
	cfg, err = migrate(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, "migrate config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if needsRewrite {
		if err := s.backupCurrent(); err != nil {
			return nil, err
		}
		if err := s.writeFile(s.path, cfg); err != nil {
			return nil, err
		}
	}
	s.cfg = cfg
	applyEnvOverlay(&s.cfg)
	return s, nil
}

// Snapshot returns a copy of the current config safe to read without
// holding the Store's lock.
func (s *Store) Snapshot() domain.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies mutate to a copy of the current config, validates
// the result, backs up the existing file, and only then commits the
// new file and in-memory state. mutate's error aborts the update with
// no side effects.
func (s *Store) Update(mutate func(*domain.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if err := mutate(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	if err := s.backupCurrent(); err != nil {
		return err
	}
	if err := s.writeFile(s.path, next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// RestoreFromBackup discards the current config and reloads the most
// recent backup, validating and persisting it as the new primary.
func (s *Store) RestoreFromBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readFile(s.backup)
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, "no usable backup", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.writeFile(s.path, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// Get reads a custom, untyped key for operators storing values the
// typed schema doesn't name (feature flags, local overrides).
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cfg.Custom[key]
	return v, ok
}

// Set writes a custom key through the same backup-then-commit path
// as Update.
func (s *Store) Set(key, value string) error {
	return s.Update(func(c *domain.Config) error {
		if c.Custom == nil {
			c.Custom = make(map[string]string)
		}
		c.Custom[key] = value
		return nil
	})
}

// Watch starts an fsnotify watch on the config file's directory and
// invokes onChange whenever the file changes on disk and parses
// cleanly — an operator hand-editing the JSON file is picked up
// without a restart. Watch is idempotent; calling it twice replaces
// the previous watcher.
func (s *Store) Watch(onChange func(domain.Config)) error {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(apperrors.KindFileSystem, "start config watcher", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return apperrors.Wrap(apperrors.KindFileSystem, "watch config directory", err)
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := s.readFile(s.path)
				if err != nil {
					s.log.Warn("ignoring unparseable external config edit", zap.Error(err))
					continue
				}
				if err := cfg.Validate(); err != nil {
					s.log.Warn("ignoring invalid external config edit", zap.Error(err))
					continue
				}
				s.mu.Lock()
				s.cfg = cfg
				s.mu.Unlock()
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if one is running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func (s *Store) readFile(path string) (domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, err
	}
	var cfg domain.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, apperrors.Wrap(apperrors.KindConfiguration, "parse config json", err)
	}
	return cfg, nil
}

func (s *Store) writeFile(path string, cfg domain.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, "marshal config", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.FileIOError(tmp, "write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.FileIOError(path, "rename", err)
	}
	return nil
}

func (s *Store) backupCurrent() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apperrors.FileIOError(s.path, "read for backup", err)
	}
	if err := os.WriteFile(s.backup, data, 0o600); err != nil {
		return apperrors.FileIOError(s.backup, "write backup", err)
	}
	return nil
}

// migrate upgrades a loaded config to domain.CurrentConfigVersion.
// There is exactly one prior version today (0, the implicit
// pre-versioning shape), so this is a single step; a later version
// bump adds another case rather than replacing this one.
func migrate(cfg domain.Config) (domain.Config, error) {
	if cfg.Version == 0 {
		cfg.Version = domain.CurrentConfigVersion
	}
	if cfg.Version > domain.CurrentConfigVersion {
		return cfg, fmt.Errorf("config version %d is newer than this binary supports (%d)", cfg.Version, domain.CurrentConfigVersion)
	}
	return cfg, nil
}

// applyEnvOverlay lets deployment environments override a narrow set
// of fields without touching the JSON file, using viper purely as an
// env-var reader — the JSON file remains the source of truth written
// back to disk.
func applyEnvOverlay(cfg *domain.Config) {
	v := viper.New()
	v.SetEnvPrefix("MINDLINK")
	v.AutomaticEnv()

	if host := v.GetString("server_host"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := v.GetString("server_port"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
		}
	}
	if v.IsSet("tunnel_enabled") {
		cfg.Tunnel.Enabled = v.GetBool("tunnel_enabled")
	}
	if name := v.GetString("tunnel_name"); name != "" {
		cfg.Tunnel.Name = name
	}
}
