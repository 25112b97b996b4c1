package runner

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"daemonkit/internal/config"
	"daemonkit/internal/daemon"
	"daemonkit/internal/detach"
	"daemonkit/internal/logging"
	"daemonkit/internal/pidlock"
	"daemonkit/internal/testsupport"
)

type appFunc func(ctx context.Context) error

func (f appFunc) Run(ctx context.Context) error { return f(ctx) }

type fakeContext struct {
	openErr error
	done    chan struct{}
	err     error
	opened  bool
	closed  bool
	opts    int
}

func (f *fakeContext) Open(context.Context) error {
	f.opened = true
	return f.openErr
}

func (f *fakeContext) Close() error {
	f.closed = true
	return nil
}

func (f *fakeContext) Done() <-chan struct{} { return f.done }

func (f *fakeContext) Err() error { return f.err }

func newTestRunner(t *testing.T, cfg *config.Config, app App) (*Runner, *fakeContext) {
	t.Helper()
	t.Setenv(detach.StageEnv, "")
	t.Setenv(runIDEnv, "")
	t.Setenv(config.PathEnv, "")

	fake := &fakeContext{done: make(chan struct{})}
	r := New(cfg, app, logging.NewNop())
	r.newContext = func(opts ...daemon.Option) daemonContext {
		fake.opts = len(opts)
		return fake
	}
	return r, fake
}

// waitForFile blocks until a helper process signals readiness.
func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestStatusWithoutPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)

	st, err := r.Status()
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if st.Locked || st.Running || st.Stale || st.PID != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.PIDFile != cfg.Daemon.PIDFile {
		t.Fatalf("unexpected pid file: %q", st.PIDFile)
	}
}

func TestStatusReportsRunningAndStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)

	testsupport.WritePID(t, cfg.Daemon.PIDFile, os.Getpid())
	st, err := r.Status()
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !st.Locked || !st.Running || st.Stale || st.PID != os.Getpid() {
		t.Fatalf("expected running status, got %+v", st)
	}

	dead := testsupport.DeadPID(t)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, dead)
	st, err = r.Status()
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !st.Locked || st.Running || !st.Stale || st.PID != dead {
		t.Fatalf("expected stale status, got %+v", st)
	}
}

func TestStatusReportsMalformedPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	testsupport.WritePIDFile(t, cfg.Daemon.PIDFile, "garbage\n")

	st, err := r.Status()
	if !errors.Is(err, pidlock.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if !st.Locked {
		t.Fatal("expected malformed pid file to count as locked")
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)

	_, err := r.Stop(context.Background())
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStopRemovesStalePIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	dead := testsupport.DeadPID(t)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, dead)

	result, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !result.Stale || result.PID != dead || result.ForcedKill {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("expected stale pid file removed, stat err = %v", err)
	}
}

func TestStopRefusesCurrentProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, os.Getpid())

	if _, err := r.Stop(context.Background()); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); err != nil {
		t.Fatalf("expected pid file kept, stat err = %v", err)
	}
}

func TestStopTerminatesDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	pid, exited := testsupport.StartProcess(t, "exec sleep 30")
	testsupport.WritePID(t, cfg.Daemon.PIDFile, pid)

	result, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if result.PID != pid || result.Stale || result.ForcedKill {
		t.Fatalf("unexpected result: %+v", result)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("expected leftover pid file removed, stat err = %v", err)
	}
}

func TestStopForceKillsDaemonIgnoringTerm(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStopTimeout(1), testsupport.WithForceKill(true))
	r, _ := newTestRunner(t, cfg, nil)
	ready := filepath.Join(t.TempDir(), "ready")
	pid, exited := testsupport.StartProcess(t, `trap "" TERM; touch "`+ready+`"; exec sleep 30`)
	waitForFile(t, ready)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, pid)

	result, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !result.ForcedKill {
		t.Fatalf("expected forced kill, got %+v", result)
	}
	<-exited
	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed after kill, stat err = %v", err)
	}
}

func TestStopTimesOutWithoutForceKill(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStopTimeout(1), testsupport.WithForceKill(false))
	r, _ := newTestRunner(t, cfg, nil)
	ready := filepath.Join(t.TempDir(), "ready")
	pid, _ := testsupport.StartProcess(t, `trap "" TERM; touch "`+ready+`"; exec sleep 30`)
	waitForFile(t, ready)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, pid)

	result, err := r.Stop(context.Background())
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if result.ForcedKill {
		t.Fatal("did not expect forced kill")
	}
	if running, _ := pidlock.ProcessRunning(pid); !running {
		t.Fatal("expected process to survive")
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); err != nil {
		t.Fatalf("expected pid file kept, stat err = %v", err)
	}
}

func TestStartRejectsLiveDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ran := false
	r, fake := newTestRunner(t, cfg, appFunc(func(context.Context) error {
		ran = true
		return nil
	}))
	testsupport.WritePID(t, cfg.Daemon.PIDFile, os.Getpid())

	err := r.Start(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, pidlock.ErrAlreadyLocked) {
		t.Fatalf("expected already running error, got %v", err)
	}
	if ran || fake.opened {
		t.Fatal("expected start to stop before opening the context")
	}
}

func TestStartBreaksStaleLockAndRunsApp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var runID string
	r, fake := newTestRunner(t, cfg, appFunc(func(ctx context.Context) error {
		runID, _ = logging.RunIDFromContext(ctx)
		return nil
	}))
	testsupport.WritePID(t, cfg.Daemon.PIDFile, testsupport.DeadPID(t))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !fake.opened || !fake.closed {
		t.Fatalf("expected context opened and closed, got %+v", fake)
	}
	if fake.opts == 0 {
		t.Fatal("expected daemon options from configuration")
	}
	if runID == "" {
		t.Fatal("expected run id in application context")
	}
	if os.Getenv(runIDEnv) != "" {
		t.Fatal("expected run id environment cleared after open")
	}
	if _, ok := os.LookupEnv(config.PathEnv); ok {
		t.Fatal("expected carried config path cleared after open")
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("expected stale pid file removed, stat err = %v", err)
	}
}

func TestStartCancelsAppOnTermination(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, fake := newTestRunner(t, cfg, appFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	fake.err = &daemon.TerminationError{Signal: syscall.SIGTERM}
	close(fake.done)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !fake.closed {
		t.Fatal("expected context closed after termination")
	}
}

func TestStartReportsFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	r, fake := newTestRunner(t, cfg, appFunc(func(context.Context) error { return nil }))
	fake.openErr = pidlock.ErrAlreadyLocked
	if err := r.Start(context.Background()); !errors.Is(err, pidlock.ErrAlreadyLocked) {
		t.Fatalf("expected open error, got %v", err)
	}

	boom := errors.New("boom")
	r, fake = newTestRunner(t, cfg, appFunc(func(context.Context) error { return boom }))
	if err := r.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected application error, got %v", err)
	}
	if !fake.closed {
		t.Fatal("expected context closed after application failure")
	}
}

func TestStartSkipsStartableCheckWhenReborn(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, fake := newTestRunner(t, cfg, appFunc(func(context.Context) error { return nil }))
	t.Setenv(detach.StageEnv, "2")
	testsupport.WritePID(t, cfg.Daemon.PIDFile, os.Getpid())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !fake.opened {
		t.Fatal("expected reborn stage to open the context directly")
	}
}

func TestBreakLockRemovesPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	testsupport.WritePID(t, cfg.Daemon.PIDFile, os.Getpid())

	if err := r.BreakLock(context.Background()); err != nil {
		t.Fatalf("BreakLock returned error: %v", err)
	}
	if _, err := os.Stat(cfg.Daemon.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}
}

func TestOpenStreamsAppendsAndSharesTargets(t *testing.T) {
	base := t.TempDir()
	shared := filepath.Join(base, "daemon.log")
	if err := os.WriteFile(shared, []byte("previous\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithStreams("", shared, shared))
	r, _ := newTestRunner(t, cfg, nil)

	streams, err := r.openStreams()
	if err != nil {
		t.Fatalf("openStreams returned error: %v", err)
	}
	if streams.stdin != nil {
		t.Fatal("expected empty stdin to select the null device")
	}
	if streams.stdout == nil || streams.stdout != streams.stderr {
		t.Fatal("expected stdout and stderr to share one file")
	}
	if _, err := streams.stdout.WriteString("next\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	streams.Close()

	data, err := os.ReadFile(shared)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "previous\nnext\n" {
		t.Fatalf("expected appended output, got %q", data)
	}
}

func TestOpenStreamsStderrFollowsStdout(t *testing.T) {
	out := filepath.Join(t.TempDir(), "daemon.log")
	cfg := testsupport.NewConfig(t, testsupport.WithStreams("", out, ""))
	r, _ := newTestRunner(t, cfg, nil)

	streams, err := r.openStreams()
	if err != nil {
		t.Fatalf("openStreams returned error: %v", err)
	}
	defer streams.Close()
	if streams.stdout == nil || streams.stderr != streams.stdout {
		t.Fatal("expected unset stderr to share the stdout file")
	}
}

func TestOpenStreamsForegroundKeepsStandardStreams(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r, _ := newTestRunner(t, cfg, nil)
	WithForeground(true)(r)

	streams, err := r.openStreams()
	if err != nil {
		t.Fatalf("openStreams returned error: %v", err)
	}
	if streams.stdin != os.Stdin || streams.stdout != os.Stdout || streams.stderr != os.Stderr {
		t.Fatal("expected foreground mode to keep the process streams")
	}
	streams.Close()
}

func TestResolveOwner(t *testing.T) {
	uid, gid, err := resolveOwner("", "")
	if err != nil || uid != os.Getuid() || gid != os.Getgid() {
		t.Fatalf("expected current identity, got %d:%d err=%v", uid, gid, err)
	}

	uid, gid, err = resolveOwner("1234", "5678")
	if err != nil || uid != 1234 || gid != 5678 {
		t.Fatalf("expected numeric ids, got %d:%d err=%v", uid, gid, err)
	}

	origUser, origGroup := lookupUser, lookupGroup
	t.Cleanup(func() { lookupUser, lookupGroup = origUser, origGroup })
	lookupUser = func(name string) (*user.User, error) {
		if name != "svc" {
			return nil, user.UnknownUserError(name)
		}
		return &user.User{Username: "svc", Uid: "900", Gid: "901"}, nil
	}
	lookupGroup = func(name string) (*user.Group, error) {
		return &user.Group{Name: name, Gid: "902"}, nil
	}

	uid, gid, err = resolveOwner("svc", "")
	if err != nil || uid != 900 || gid != 901 {
		t.Fatalf("expected user's primary group, got %d:%d err=%v", uid, gid, err)
	}
	uid, gid, err = resolveOwner("svc", "staff")
	if err != nil || uid != 900 || gid != 902 {
		t.Fatalf("expected explicit group, got %d:%d err=%v", uid, gid, err)
	}
	if _, _, err := resolveOwner("ghost", ""); err == nil {
		t.Fatal("expected unknown user error")
	}
}

func TestHostPIDPathUnderChroot(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.PIDFile = "/run/app.pid"
	cfg.Daemon.ChrootDirectory = "/srv/jail"
	if got := hostPIDPath(&cfg); got != "/srv/jail/run/app.pid" {
		t.Fatalf("unexpected host path: %q", got)
	}
}
