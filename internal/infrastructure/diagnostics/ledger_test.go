package diagnostics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/supervisor"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "diagnostics.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndQueryProcessEvents(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ev := supervisor.Event{
		ID:        domain.ProcessRouter,
		Kind:      supervisor.EventCrashed,
		ExitCode:  1,
		Err:       errors.New("boom"),
		Timestamp: time.Now().UTC(),
	}
	if err := l.RecordProcessEvent(ev); err != nil {
		t.Fatalf("RecordProcessEvent() error = %v", err)
	}

	rows, err := l.RecentProcessEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentProcessEvents() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].ErrorText != "boom" || rows[0].ExitCode != 1 {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestRecordAndQueryHealthSamples(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if err := l.RecordHealthSample(domain.TrayConnected, true, true, true, ""); err != nil {
		t.Fatalf("RecordHealthSample() error = %v", err)
	}
	if err := l.RecordHealthSample(domain.TrayError, false, false, false, "router crashed"); err != nil {
		t.Fatalf("RecordHealthSample() error = %v", err)
	}

	rows, err := l.RecentHealthSamples(ctx, 10)
	if err != nil {
		t.Fatalf("RecentHealthSamples() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].TrayState != string(domain.TrayError) {
		t.Errorf("newest-first ordering broken: %+v", rows[0])
	}
}
