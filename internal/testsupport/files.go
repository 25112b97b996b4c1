package testsupport

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

// WritePIDFile writes content to path, creating parent directories.
func WritePIDFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WritePID records pid in the pid file at path.
func WritePID(t testing.TB, path string, pid int) {
	t.Helper()
	WritePIDFile(t, path, strconv.Itoa(pid)+"\n")
}

// StartProcess runs a shell script in the background and reaps it once it
// exits, so signal 0 stops reporting it as alive. The returned channel is
// closed after the process has been reaped. The process is killed at cleanup.
func StartProcess(t testing.TB, script string) (int, <-chan struct{}) {
	t.Helper()

	cmd := exec.Command("/bin/sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %q: %v", script, err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-exited
	})
	return cmd.Process.Pid, exited
}

// DeadPID returns the pid of a process that has already exited and been reaped.
func DeadPID(t testing.TB) int {
	t.Helper()

	pid, exited := StartProcess(t, "exit 0")
	<-exited
	return pid
}
