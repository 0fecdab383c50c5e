package supervisor

import (
	"context"
	"errors"
	"fmt"
	stdruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/duet-run/duet/internal/runtime"
	"github.com/duet-run/duet/internal/runtime/process"
)

type fakeInstance struct {
	pid  int
	logs chan runtime.LogEntry

	mu        sync.Mutex
	stopCalls int
	stopErr   error

	done     chan struct{}
	exitOnce sync.Once
	exitCode int
}

func newFakeInstance(pid int) *fakeInstance {
	logs := make(chan runtime.LogEntry)
	close(logs)
	return &fakeInstance{pid: pid, logs: logs, done: make(chan struct{})}
}

func (f *fakeInstance) PID() int { return f.pid }

func (f *fakeInstance) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-f.done:
		return f.exitCode, nil
	}
}

func (f *fakeInstance) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopCalls++
	err := f.stopErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.exit(-1)
	return nil
}

func (f *fakeInstance) Kill(ctx context.Context) error { return f.Stop(ctx) }

func (f *fakeInstance) Logs() <-chan runtime.LogEntry { return f.logs }

func (f *fakeInstance) exit(code int) {
	f.exitOnce.Do(func() {
		f.exitCode = code
		close(f.done)
	})
}

func (f *fakeInstance) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type startRecord struct {
	spec runtime.StartSpec
	at   time.Time
}

type fakeRuntime struct {
	mu        sync.Mutex
	starts    []startRecord
	failFor   map[string]error
	stopErrs  map[string]error
	instances map[string]*fakeInstance
	nextPID   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		failFor:   map[string]error{},
		stopErrs:  map[string]error{},
		instances: map[string]*fakeInstance{},
		nextPID:   1000,
	}
}

func (f *fakeRuntime) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startRecord{spec: spec, at: time.Now()})
	if err := f.failFor[spec.Name]; err != nil {
		return nil, err
	}
	f.nextPID++
	inst := newFakeInstance(f.nextPID)
	inst.stopErr = f.stopErrs[spec.Name]
	f.instances[spec.Name] = inst
	return inst, nil
}

func (f *fakeRuntime) startNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.starts))
	for _, rec := range f.starts {
		names = append(names, rec.spec.Name)
	}
	return names
}

func (f *fakeRuntime) instance(name string) *fakeInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[name]
}

func testSpec(t *testing.T, withInspector bool, delay time.Duration) Spec {
	t.Helper()
	spec := Spec{
		Name:           "test",
		Workdir:        t.TempDir(),
		ReadinessDelay: delay,
		Server:         runtime.StartSpec{Name: "server", Command: []string{"srv"}},
	}
	if withInspector {
		spec.Inspector = &runtime.StartSpec{Name: "inspector", Command: []string{"insp"}}
	}
	return spec
}

func drainEvents(s *Session) []Event {
	var events []Event
	for event := range s.Events() {
		events = append(events, event)
	}
	return events
}

func shutdownAndClose(t *testing.T, s *Session) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Shutdown(ctx)
	s.Close()
	return drainEvents(s)
}

func TestStartPrimaryOnly(t *testing.T) {
	rt := newFakeRuntime()
	session, err := Start(context.Background(), rt, testSpec(t, false, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if session.Inspector() != nil {
		t.Fatal("expected empty inspector slot")
	}
	if got := len(session.Processes()); got != 1 {
		t.Fatalf("expected exactly one managed process, got %d", got)
	}
	if got := session.Server().State(); got != StateRunning {
		t.Fatalf("server state mismatch: got %s", got)
	}

	shutdownAndClose(t, session)
	if got := session.Server().State(); got != StateTerminated {
		t.Fatalf("expected terminated server, got %s", got)
	}
}

func TestInspectorSpawnWaitsOutReadinessDelay(t *testing.T) {
	rt := newFakeRuntime()
	delay := 100 * time.Millisecond

	session, err := Start(context.Background(), rt, testSpec(t, true, delay))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer shutdownAndClose(t, session)

	rt.mu.Lock()
	starts := append([]startRecord(nil), rt.starts...)
	rt.mu.Unlock()

	if len(starts) != 2 {
		t.Fatalf("expected two launches, got %d", len(starts))
	}
	if starts[0].spec.Name != "server" || starts[1].spec.Name != "inspector" {
		t.Fatalf("unexpected launch order: %v", rt.startNames())
	}
	if gap := starts[1].at.Sub(starts[0].at); gap < delay {
		t.Fatalf("inspector launched %s after server, want >= %s", gap, delay)
	}
}

func TestInterruptDuringDelaySkipsInspector(t *testing.T) {
	rt := newFakeRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	session, err := Start(ctx, rt, testSpec(t, true, time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if session == nil {
		t.Fatal("expected session holding the server")
	}
	if session.Inspector() != nil {
		t.Fatal("inspector must not exist after cancellation during the delay")
	}
	if got := rt.startNames(); len(got) != 1 || got[0] != "server" {
		t.Fatalf("unexpected launches: %v", got)
	}

	shutdownAndClose(t, session)

	if got := session.Server().State(); got != StateTerminated {
		t.Fatalf("expected terminated server, got %s", got)
	}
	if stops := rt.instance("server").stops(); stops != 1 {
		t.Fatalf("expected one termination request, got %d", stops)
	}
}

func TestShutdownTerminatesBothProcesses(t *testing.T) {
	rt := newFakeRuntime()
	session, err := Start(context.Background(), rt, testSpec(t, true, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := session.Wait(waitCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled wait, got %v", err)
	}

	shutdownAndClose(t, session)

	for _, mp := range session.Processes() {
		state := mp.State()
		if state != StateTerminated && state != StateExited {
			t.Fatalf("process %s left in state %s", mp.Name, state)
		}
	}
	if stops := rt.instance("server").stops(); stops != 1 {
		t.Fatalf("server stop requests: got %d want 1", stops)
	}
	if stops := rt.instance("inspector").stops(); stops != 1 {
		t.Fatalf("inspector stop requests: got %d want 1", stops)
	}
}

func TestPrimaryLaunchFailurePropagates(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor["server"] = errors.New("executable file not found")

	session, err := Start(context.Background(), rt, testSpec(t, true, 0))
	if session != nil {
		t.Fatal("expected no session on primary launch failure")
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if launchErr.Name != "server" {
		t.Fatalf("launch error names %q, want server", launchErr.Name)
	}
	if got := rt.startNames(); len(got) != 1 {
		t.Fatalf("inspector must never spawn after server launch failure: %v", got)
	}
}

func TestSecondaryLaunchFailureTearsDownPrimary(t *testing.T) {
	rt := newFakeRuntime()
	rt.failFor["inspector"] = errors.New("executable file not found")

	session, err := Start(context.Background(), rt, testSpec(t, true, 0))
	if session != nil {
		t.Fatal("expected no session on inspector launch failure")
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if launchErr.Name != "inspector" {
		t.Fatalf("launch error names %q, want inspector", launchErr.Name)
	}
	if stops := rt.instance("server").stops(); stops != 1 {
		t.Fatalf("expected the dangling server to be stopped, got %d stop calls", stops)
	}
}

func TestSecondSessionForWorkdirRejected(t *testing.T) {
	rt := newFakeRuntime()
	spec := testSpec(t, false, 0)

	first, err := Start(context.Background(), rt, spec)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	if _, err := Start(context.Background(), newFakeRuntime(), spec); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	shutdownAndClose(t, first)

	third, err := Start(context.Background(), newFakeRuntime(), spec)
	if err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	shutdownAndClose(t, third)
}

func TestWaitReportsExitStatuses(t *testing.T) {
	rt := newFakeRuntime()
	session, err := Start(context.Background(), rt, testSpec(t, true, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	rt.instance("server").exit(0)
	rt.instance("inspector").exit(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statuses, err := session.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	want := []ExitStatus{{Name: "server", Code: 0}, {Name: "inspector", Code: 2}}
	if len(statuses) != len(want) {
		t.Fatalf("status count mismatch: got %v", statuses)
	}
	for i, status := range statuses {
		if status != want[i] {
			t.Fatalf("status[%d] mismatch: got %+v want %+v", i, status, want[i])
		}
	}

	for _, mp := range session.Processes() {
		if got := mp.State(); got != StateExited {
			t.Fatalf("process %s state mismatch: got %s want %s", mp.Name, got, StateExited)
		}
	}

	events := shutdownAndClose(t, session)
	exited := 0
	for _, event := range events {
		if event.Type == EventTypeExited {
			exited++
		}
		if event.Type == EventTypeTerminated {
			t.Fatalf("no termination expected after natural exits, got event %+v", event)
		}
	}
	if exited != 2 {
		t.Fatalf("expected two exited events, got %d", exited)
	}
}

func TestTerminationFailureIsNonFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.stopErrs["inspector"] = errors.New("permission denied")

	session, err := Start(context.Background(), rt, testSpec(t, true, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events := shutdownAndClose(t, session)

	// The failing inspector must not prevent the server from being stopped.
	if stops := rt.instance("server").stops(); stops != 1 {
		t.Fatalf("server stop requests: got %d want 1", stops)
	}

	var termErr *TerminationError
	found := false
	for _, event := range events {
		if event.Type == EventTypeError && errors.As(event.Err, &termErr) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a TerminationError event")
	}
	if termErr.Name != "inspector" {
		t.Fatalf("termination error names %q, want inspector", termErr.Name)
	}
}

func TestSessionWithRealProcessExitsNormally(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("real process tests skipped on windows")
	}

	spec := Spec{
		Name:    "echo",
		Workdir: t.TempDir(),
		Server:  runtime.StartSpec{Name: "server", Command: []string{"/bin/sh", "-c", "echo hi"}},
	}

	session, err := Start(context.Background(), process.New(), spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statuses, err := session.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Code != 0 {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	if got := session.Server().State(); got != StateExited {
		t.Fatalf("expected exited server, got %s", got)
	}

	events := shutdownAndClose(t, session)
	sawLog := false
	for _, event := range events {
		if event.Type == EventTypeLog && event.Message == "hi" {
			sawLog = true
		}
	}
	if !sawLog {
		t.Fatal("expected the echoed line in the event stream")
	}
}

func TestSessionWithRealProcessesTerminatedOnInterrupt(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("real process tests skipped on windows")
	}

	spec := Spec{
		Name:    "sleepers",
		Workdir: t.TempDir(),
		Server:  runtime.StartSpec{Name: "server", Command: []string{"/bin/sh", "-c", "sleep 100"}},
		Inspector: &runtime.StartSpec{
			Name: "inspector", Command: []string{"/bin/sh", "-c", "sleep 100"},
		},
	}

	session, err := Start(context.Background(), process.New(), spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := session.Wait(waitCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled wait, got %v", err)
	}

	shutdownAndClose(t, session)

	for _, mp := range session.Processes() {
		if got := mp.State(); got != StateTerminated {
			t.Fatalf("process %s state mismatch: got %s want %s", mp.Name, got, StateTerminated)
		}
	}
}

func TestStartRejectsEmptyServerCommand(t *testing.T) {
	spec := testSpec(t, false, 0)
	spec.Server.Command = nil

	_, err := Start(context.Background(), newFakeRuntime(), spec)
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestErrorStrings(t *testing.T) {
	launch := &LaunchError{Name: "server", Err: errors.New("not found")}
	if got, want := launch.Error(), "launch server: not found"; got != want {
		t.Fatalf("launch error string: got %q want %q", got, want)
	}
	term := &TerminationError{Name: "inspector", Err: errors.New("denied")}
	if got, want := term.Error(), "terminate inspector: denied"; got != want {
		t.Fatalf("termination error string: got %q want %q", got, want)
	}
	if !errors.Is(fmt.Errorf("wrap: %w", launch), launch) {
		t.Fatal("launch error should match itself through wrapping")
	}
}
