package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, err := Load(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s, path
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	s, path := newTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created, stat error = %v", err)
	}
	got := s.Snapshot()
	want := domain.Default()
	if got.Server.Port != want.Server.Port {
		t.Errorf("Server.Port = %d, want %d", got.Server.Port, want.Server.Port)
	}
	if got.Version != domain.CurrentConfigVersion {
		t.Errorf("Version = %d, want %d", got.Version, domain.CurrentConfigVersion)
	}
}

func TestUpdateWritesBackupBeforeCommit(t *testing.T) {
	s, path := newTestStore(t)

	if err := s.Update(func(c *domain.Config) error {
		c.Server.Port = 9999
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got := s.Snapshot().Server.Port; got != 9999 {
		t.Fatalf("Server.Port = %d, want 9999", got)
	}

	backupData, err := os.ReadFile(path + backupSuffix)
	if err != nil {
		t.Fatalf("expected backup file, error = %v", err)
	}
	var backupCfg domain.Config
	if err := json.Unmarshal(backupData, &backupCfg); err != nil {
		t.Fatalf("backup unmarshal error = %v", err)
	}
	if backupCfg.Server.Port == 9999 {
		t.Fatal("backup should hold the config from before the update, not after")
	}
}

func TestUpdateRejectsInvalidConfig(t *testing.T) {
	s, _ := newTestStore(t)
	before := s.Snapshot()

	err := s.Update(func(c *domain.Config) error {
		c.Server.Port = 0
		return nil
	})
	if err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if got := s.Snapshot(); got.Server.Port != before.Server.Port {
		t.Fatal("rejected update must leave the in-memory config unchanged")
	}
}

func TestRestoreFromBackup(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Update(func(c *domain.Config) error {
		c.Server.Port = 9999
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(func(c *domain.Config) error {
		c.Server.Port = 7777
		return nil
	}); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}

	if err := s.RestoreFromBackup(); err != nil {
		t.Fatalf("RestoreFromBackup() error = %v", err)
	}
	if got := s.Snapshot().Server.Port; got != 9999 {
		t.Errorf("after restore Server.Port = %d, want 9999 (the pre-last-update value)", got)
	}
}

func TestGetSetCustomKey(t *testing.T) {
	s, _ := newTestStore(t)

	if _, ok := s.Get("nickname"); ok {
		t.Fatal("expected missing custom key to report not-ok")
	}
	if err := s.Set("nickname", "office-laptop"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok := s.Get("nickname")
	if !ok || got != "office-laptop" {
		t.Errorf("Get() = (%q, %v), want (\"office-laptop\", true)", got, ok)
	}
}

func TestMigrateUpgradesZeroVersion(t *testing.T) {
	cfg, err := migrate(domain.Config{})
	if err != nil {
		t.Fatalf("migrate() error = %v", err)
	}
	if cfg.Version != domain.CurrentConfigVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, domain.CurrentConfigVersion)
	}
}

func TestMigrateRejectsFutureVersion(t *testing.T) {
	_, err := migrate(domain.Config{Version: domain.CurrentConfigVersion + 1})
	if err == nil {
		t.Fatal("expected future config version to be rejected")
	}
}
