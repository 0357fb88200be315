// Package diagnostics persists process events and health samples to a
// local sqlite database, giving `status --history` something to read
// back across restarts.
package diagnostics

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/supervisor"
	apperrors "github.com/mindlink-dev/mindlink/pkg/errors"
)

// Ledger records process events and health samples for later review.
type Ledger struct {
	db *gorm.DB
}

// Open connects to (creating if absent) the sqlite file at path and
// runs the auto-migration.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "open diagnostics ledger", err)
	}
	if err := db.AutoMigrate(&ProcessEventModel{}, &HealthSampleModel{}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "migrate diagnostics ledger", err)
	}
	return &Ledger{db: db}, nil
}

// RecordProcessEvent appends one supervisor event.
func (l *Ledger) RecordProcessEvent(ev supervisor.Event) error {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	row := ProcessEventModel{
		ProcessID: string(ev.ID),
		Kind:      string(ev.Kind),
		Stream:    ev.Stream,
		Line:      ev.Line,
		ExitCode:  ev.ExitCode,
		Attempt:   ev.Attempt,
		ErrorText: errText,
		Timestamp: ev.Timestamp,
	}
	if err := l.db.Create(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "insert process event", err)
	}
	return nil
}

// RecordHealthSample appends one Health Loop observation.
func (l *Ledger) RecordHealthSample(state domain.TrayState, serverHealthy, tunnelHealthy, routerHealthy bool, lastError string) error {
	row := HealthSampleModel{
		TrayState:     string(state),
		ServerHealthy: serverHealthy,
		TunnelHealthy: tunnelHealthy,
		RouterHealthy: routerHealthy,
		LastError:     lastError,
		Timestamp:     time.Now().UTC(),
	}
	if err := l.db.Create(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "insert health sample", err)
	}
	return nil
}

// RecentProcessEvents returns the most recent limit process events,
// newest first.
func (l *Ledger) RecentProcessEvents(ctx context.Context, limit int) ([]ProcessEventModel, error) {
	var rows []ProcessEventModel
	err := l.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "query process events", err)
	}
	return rows, nil
}

// RecentHealthSamples returns the most recent limit health samples,
// newest first.
func (l *Ledger) RecentHealthSamples(ctx context.Context, limit int) ([]HealthSampleModel, error) {
	var rows []HealthSampleModel
	err := l.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "query health samples", err)
	}
	return rows, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "obtain sql.DB", err)
	}
	return sqlDB.Close()
}
