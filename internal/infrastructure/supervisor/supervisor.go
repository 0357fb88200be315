// Package supervisor owns the lifetime of spawned child processes —
// the router and the cloudflared tunnel — and publishes their
// lifecycle as an ordered event stream per process id. It monitors;
// it does not decide how or when to respawn a process. That decision
// belongs to the caller (orchestrator or tunnel controller), which
// passes a fresh child handle to start/restart.
package supervisor

import (
	"context"
	"bufio"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/pkg/errors"
	"github.com/mindlink-dev/mindlink/pkg/safego"
)

// EventKind enumerates the supervisor's lifecycle notifications.
type EventKind string

const (
	EventStarted             EventKind = "started"
	EventStopped             EventKind = "stopped"
	EventCrashed             EventKind = "crashed"
	EventOutputReceived      EventKind = "output_received"
	EventRestartAttempted    EventKind = "restart_attempted"
	EventRestartLimitReached EventKind = "restart_limit_reached"
	EventHealthCheckFailed   EventKind = "health_check_failed"
)

// Event is one supervisor notification for a single process id.
// Events for a given id are delivered on that id's channel in the
// order they occurred — there is no cross-id fan-out, so a consumer
// watching the router never sees tunnel events interleaved with it.
type Event struct {
	ID        domain.ProcessID
	Kind      EventKind
	Stream    string // "stdout" | "stderr", set only for OutputReceived
	Line      string
	ExitCode  int
	Attempt   int
	Err       error
	Timestamp time.Time
}

type record struct {
	domain.ProcessRecord
	cmd      *exec.Cmd
	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Supervisor tracks every registered process record.
type Supervisor struct {
	mu      sync.Mutex
	records map[domain.ProcessID]*record
	log     *zap.Logger
}

// New builds an empty Supervisor.
func New(log *zap.Logger) *Supervisor {
	return &Supervisor{
		records: make(map[domain.ProcessID]*record),
		log:     log,
	}
}

// Register creates a tracked record for id. Re-registering an id
// resets its state but keeps its event channel, so a consumer that
// subscribed before the first Start call keeps receiving events
// across restarts instead of being orphaned on a stale channel.
func (s *Supervisor) Register(id domain.ProcessID, displayName string, mc domain.MonitorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make(chan Event, 256)
	if existing, ok := s.records[id]; ok {
		events = existing.events
	}
	s.records[id] = &record{
		ProcessRecord: domain.ProcessRecord{
			ID:          id,
			DisplayName: displayName,
			Status:      domain.ProcessStopped,
			Monitor:     mc,
		},
		events: events,
	}
}

// Unregister drops a record and closes its event channel. Calling
// Unregister on a running process stops it first.
func (s *Supervisor) Unregister(id domain.ProcessID) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.stopRecord(rec)
	close(rec.events)
}

// Events returns the ordered event channel for id, or nil if id was
// never registered.
func (s *Supervisor) Events(id domain.ProcessID) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	return rec.events
}

// Info returns a snapshot of id's current record.
func (s *Supervisor) Info(id domain.ProcessID) (domain.ProcessRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ProcessRecord{}, false
	}
	return rec.ProcessRecord, true
}

// Start adopts cmd as id's child: it must already be configured
// (Setpgid on POSIX is the caller's responsibility, mirroring how the
// rest of this module spawns children) but not yet started. Start
// launches it, begins stdio capture, and begins liveness polling.
func (s *Supervisor) Start(id domain.ProcessID, cmd *exec.Cmd) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return errors.New(errors.KindInternal, "start called on unregistered process id")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(errors.KindProcessMonitor, "attach stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(errors.KindProcessMonitor, "attach stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(errors.KindProcessMonitor, "spawn "+rec.DisplayName, err)
	}

	pid := cmd.Process.Pid
	rec.cmd = cmd
	rec.PID = &pid
	rec.StartTime = time.Now()
	rec.Status = domain.ProcessRunning
	rec.stopCh = make(chan struct{})

	s.emit(rec, Event{ID: id, Kind: EventStarted})

	if rec.Monitor.CaptureStdout {
		safego.Go(s.log, string(id)+"-stdout", func() { s.captureLines(rec, "stdout", stdout) })
	}
	if rec.Monitor.CaptureStderr {
		safego.Go(s.log, string(id)+"-stderr", func() { s.captureLines(rec, "stderr", stderr) })
	}
	safego.Go(s.log, string(id)+"-liveness", func() { s.pollLiveness(rec) })

	return nil
}

func (s *Supervisor) captureLines(rec *record, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if rec.Monitor.OutputBufferLineLimit > 0 && len(line) > rec.Monitor.OutputBufferLineLimit {
			continue
		}
		s.log.Debug("child output", zap.String("process", string(rec.ID)), zap.String("stream", stream), zap.String("line", line))
		s.emit(rec, Event{ID: rec.ID, Kind: EventOutputReceived, Stream: stream, Line: line})
	}
}

func (s *Supervisor) pollLiveness(rec *record) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	interval := rec.Monitor.HealthCheckInterval
	elapsed := time.Duration(0)

	for {
		select {
		case <-rec.stopCh:
			return
		case <-ticker.C:
			if rec.cmd.ProcessState != nil {
				s.finishExit(rec)
				return
			}
			elapsed += time.Second
			if interval > 0 && elapsed >= interval {
				elapsed = 0
			}
		}
	}
}

func (s *Supervisor) finishExit(rec *record) {
	err := rec.cmd.Wait()
	s.mu.Lock()
	if err != nil {
		rec.Status = domain.ProcessCrashed
	} else {
		rec.Status = domain.ProcessStopped
	}
	rec.PID = nil
	s.mu.Unlock()

	if err != nil {
		s.emit(rec, Event{ID: rec.ID, Kind: EventCrashed, Err: err})
	} else {
		s.emit(rec, Event{ID: rec.ID, Kind: EventStopped, ExitCode: 0})
	}
}

// Stop gracefully terminates id's child: SIGTERM, wait up to 10s,
// SIGKILL if still alive on POSIX; a direct kill on Windows. Stop is
// idempotent — calling it with no owned child is a no-op success.
func (s *Supervisor) Stop(id domain.ProcessID) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return errors.New(errors.KindInternal, "stop called on unregistered process id")
	}
	return s.stopRecord(rec)
}

func (s *Supervisor) stopRecord(rec *record) error {
	rec.stopOnce.Do(func() {
		if rec.stopCh != nil {
			close(rec.stopCh)
		}
	})

	s.mu.Lock()
	cmd := rec.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil || cmd.ProcessState != nil {
		return nil
	}

	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}

// Restart checks the restart budget, stops the current child, sleeps
// restart_delay, and returns — it does not itself respawn. The caller
// must invoke Start again with a freshly built *exec.Cmd.
func (s *Supervisor) Restart(ctx context.Context, id domain.ProcessID) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return errors.New(errors.KindInternal, "restart called on unregistered process id")
	}

	if rec.RestartCount >= rec.Monitor.MaxRestartAttempts {
		s.emit(rec, Event{ID: id, Kind: EventRestartLimitReached})
		return errors.New(errors.KindProcessMonitor, "restart limit reached for "+rec.DisplayName).
			WithRecoverable(true).
			WithAction("check logs, then restart manually")
	}

	if err := s.stopRecord(rec); err != nil {
		return err
	}

	s.mu.Lock()
	rec.RestartCount++
	rec.LastRestartTime = time.Now()
	attempt := rec.RestartCount
	s.mu.Unlock()

	s.emit(rec, Event{ID: id, Kind: EventRestartAttempted, Attempt: attempt})

	select {
	case <-time.After(rec.Monitor.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Supervisor) emit(rec *record, ev Event) {
	ev.Timestamp = time.Now()
	select {
	case rec.events <- ev:
	default:
		s.log.Warn("process event buffer full, dropping event",
			zap.String("process", string(ev.ID)), zap.String("kind", string(ev.Kind)))
	}
}
