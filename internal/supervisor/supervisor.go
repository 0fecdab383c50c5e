// Package supervisor orchestrates launch, readiness sequencing, joint wait
// and joint teardown of a primary server process and an optional inspector
// companion process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/duet-run/duet/internal/config"
	"github.com/duet-run/duet/internal/metrics"
	"github.com/duet-run/duet/internal/probe"
	"github.com/duet-run/duet/internal/runtime"
)

// LockFileName is the per-workdir lock file enforcing the single-session
// invariant.
const LockFileName = ".duet.lock"

const launchAbortTimeout = 10 * time.Second

// State is the lifecycle state of a managed process.
type State string

const (
	// StateStarting is the initial state, before the spawn call returns.
	StateStarting State = "starting"
	// StateRunning means the process was spawned and has not been observed
	// to end.
	StateRunning State = "running"
	// StateExited means the process ended on its own. Terminal.
	StateExited State = "exited"
	// StateTerminated means the process ended via a supervisor-requested
	// kill. Terminal.
	StateTerminated State = "terminated"
)

// ManagedProcess is a single spawned OS process tracked by the session.
type ManagedProcess struct {
	Name string

	mu       sync.Mutex
	state    State
	inst     runtime.Instance
	exitCode int
}

// State returns the current lifecycle state.
func (m *ManagedProcess) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PID returns the process identifier, or zero before spawn.
func (m *ManagedProcess) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil {
		return 0
	}
	return m.inst.PID()
}

// ExitCode returns the recorded exit code. Meaningful only in a terminal
// state.
func (m *ManagedProcess) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// transition moves to next unless the current state is already terminal.
// Exited and Terminated race during shutdown; whichever is recorded first
// wins.
func (m *ManagedProcess) transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateExited || m.state == StateTerminated {
		return false
	}
	m.state = next
	return true
}

func (m *ManagedProcess) live() (runtime.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil || m.state == StateExited || m.state == StateTerminated {
		return nil, false
	}
	return m.inst, true
}

// Spec describes one supervised session.
type Spec struct {
	// Name labels the session in status lines.
	Name string
	// Workdir is the working-context path shared by both processes and the
	// location of the session lock.
	Workdir string
	// ReadinessDelay is the fixed wait between the server and inspector
	// launches. It is a best-effort heuristic: the server is not verified
	// to actually be ready.
	ReadinessDelay time.Duration
	// Readiness, when set, replaces the fixed delay with probe polling.
	Readiness *config.ReadinessSpec
	// Server is the primary process. Required.
	Server runtime.StartSpec
	// Inspector is the optional secondary process.
	Inspector *runtime.StartSpec
}

// ExitStatus is the outcome of one waited process.
type ExitStatus struct {
	Name string
	Code int
}

// Session holds the managed processes belonging to one run. At most one
// session is active per workdir, enforced by a file lock.
type Session struct {
	rt     runtime.Runtime
	spec   Spec
	lock   *flock.Flock
	events chan Event

	server    *ManagedProcess
	inspector *ManagedProcess

	forwarders sync.WaitGroup
	closeOnce  sync.Once

	// sleep is a seam for tests.
	sleep func(context.Context, time.Duration) error
}

// Start launches the server process and, if an inspector is configured,
// waits out the readiness delay (or polls the readiness probe) before
// launching it.
//
// A spawn or readiness failure tears down whatever was started and returns a
// *LaunchError: no partially-started session is left behind. If ctx is
// cancelled during the readiness wait, Start skips the inspector and returns
// the session holding only the server together with the context error; the
// caller is expected to proceed to Shutdown.
func Start(ctx context.Context, rt runtime.Runtime, spec Spec) (*Session, error) {
	if len(spec.Server.Command) == 0 {
		return nil, &LaunchError{Name: spec.Server.Name, Err: errors.New("no command configured")}
	}

	lock := flock.New(filepath.Join(spec.Workdir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock held at %s)", ErrSessionActive, lock.Path())
	}

	s := &Session{
		rt:     rt,
		spec:   spec,
		lock:   lock,
		events: make(chan Event, 256),
		sleep:  sleepWithContext,
	}

	s.server = &ManagedProcess{Name: spec.Server.Name, state: StateStarting}
	if err := s.launch(s.server, spec.Server); err != nil {
		s.release()
		return nil, err
	}

	if spec.Inspector == nil {
		return s, nil
	}

	if err := s.awaitServerReadiness(ctx); err != nil {
		if ctx.Err() != nil {
			// Interrupted before the inspector exists. Only the server is
			// tracked; the caller shuts it down.
			return s, err
		}
		s.abort()
		return nil, &LaunchError{Name: spec.Server.Name, Err: err}
	}
	s.emit(s.server.Name, EventTypeReady, "server ready, launching inspector", nil)

	s.inspector = &ManagedProcess{Name: spec.Inspector.Name, state: StateStarting}
	if err := s.launch(s.inspector, *spec.Inspector); err != nil {
		s.inspector = nil
		s.abort()
		return nil, err
	}

	return s, nil
}

// Events returns the session's lifecycle and log event stream. The channel
// is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Server returns the primary managed process.
func (s *Session) Server() *ManagedProcess { return s.server }

// Inspector returns the secondary managed process, or nil if none was
// launched.
func (s *Session) Inspector() *ManagedProcess { return s.inspector }

// Processes returns every managed process in launch order.
func (s *Session) Processes() []*ManagedProcess {
	procs := []*ManagedProcess{s.server}
	if s.inspector != nil {
		procs = append(procs, s.inspector)
	}
	return procs
}

func (s *Session) launch(mp *ManagedProcess, spec runtime.StartSpec) error {
	s.emit(mp.Name, EventTypeStarting, fmt.Sprintf("starting %s", mp.Name), nil)

	inst, err := s.rt.Start(context.Background(), spec)
	if err != nil {
		return &LaunchError{Name: mp.Name, Err: err}
	}

	mp.mu.Lock()
	mp.inst = inst
	mp.state = StateRunning
	mp.mu.Unlock()

	metrics.ProcessStarted(mp.Name)
	s.emit(mp.Name, EventTypeRunning, fmt.Sprintf("%s running (pid %d)", mp.Name, inst.PID()), nil)

	s.forwarders.Add(1)
	go s.forwardLogs(mp, inst)
	return nil
}

func (s *Session) forwardLogs(mp *ManagedProcess, inst runtime.Instance) {
	defer s.forwarders.Done()
	for entry := range inst.Logs() {
		s.events <- Event{
			Timestamp: time.Now(),
			Process:   mp.Name,
			Type:      EventTypeLog,
			Message:   entry.Message,
			Level:     entry.Level,
			Source:    entry.Source,
		}
	}
}

// awaitServerReadiness applies the configured sequencing strategy between
// the server and inspector launches: probe polling when a readiness spec is
// present, the fixed delay otherwise.
func (s *Session) awaitServerReadiness(ctx context.Context) error {
	if s.spec.Readiness != nil {
		prober, err := probe.New(s.spec.Readiness)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := probe.Wait(ctx, prober, s.spec.Readiness); err != nil {
			return err
		}
		metrics.ObserveReadinessWait(time.Since(start))
		return nil
	}
	return s.sleep(ctx, s.spec.ReadinessDelay)
}

// Wait blocks until every tracked process has exited, waiting on the server
// first and then the inspector, mirroring the sequential reference behavior.
// It returns the exit status of each process it finished waiting on. A
// context cancellation aborts the wait with partial statuses.
func (s *Session) Wait(ctx context.Context) ([]ExitStatus, error) {
	var statuses []ExitStatus
	for _, mp := range s.Processes() {
		inst, ok := mp.live()
		if !ok {
			statuses = append(statuses, ExitStatus{Name: mp.Name, Code: mp.ExitCode()})
			continue
		}
		code, err := inst.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return statuses, err
			}
			s.emit(mp.Name, EventTypeError, "wait failed", err)
			return statuses, err
		}
		if mp.transition(StateExited) {
			mp.mu.Lock()
			mp.exitCode = code
			mp.mu.Unlock()
			metrics.ProcessEnded(mp.Name, "exited")
			s.emit(mp.Name, EventTypeExited, fmt.Sprintf("%s exited with code %d", mp.Name, code), nil)
		}
		statuses = append(statuses, ExitStatus{Name: mp.Name, Code: code})
	}
	return statuses, nil
}

// Shutdown issues a termination request to every live managed process. It
// never attempts to touch a process that was not launched. Termination
// failures are reported through the event stream and do not abort the
// remaining requests: shutdown is best-effort cleanup. After Shutdown
// returns, every tracked process is in a terminal state.
func (s *Session) Shutdown(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveShutdownDuration(time.Since(start))
		s.release()
	}()

	// Inspector first, reversing launch order.
	procs := s.Processes()
	for i := len(procs) - 1; i >= 0; i-- {
		mp := procs[i]
		inst, ok := mp.live()
		if !ok {
			continue
		}
		s.emit(mp.Name, EventTypeStopping, fmt.Sprintf("stopping %s", mp.Name), nil)
		if err := inst.Stop(ctx); err != nil {
			s.emit(mp.Name, EventTypeError, "termination request failed", &TerminationError{Name: mp.Name, Err: err})
		}
		if mp.transition(StateTerminated) {
			metrics.ProcessEnded(mp.Name, "terminated")
			s.emit(mp.Name, EventTypeTerminated, fmt.Sprintf("%s terminated", mp.Name), nil)
		}
	}
}

// Close waits for log forwarding to drain and closes the event stream. Call
// only after Wait or Shutdown has returned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.forwarders.Wait()
		close(s.events)
	})
}

// abort tears down a partially-started session after a launch failure.
func (s *Session) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), launchAbortTimeout)
	defer cancel()
	s.Shutdown(ctx)
}

func (s *Session) release() {
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
