package detach

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"syscall"
	"testing"
)

type spawnCall struct {
	stage      string
	newSession bool
}

type harness struct {
	calls  []spawnCall
	exits  []int
	stderr bytes.Buffer
}

func install(t *testing.T, spawnErr error) *harness {
	t.Helper()
	h := &harness{}
	oldSpawn, oldExit, oldStderr := spawn, exit, stderr
	spawn = func(stage string, newSession bool) error {
		h.calls = append(h.calls, spawnCall{stage: stage, newSession: newSession})
		return spawnErr
	}
	exit = func(code int) { h.exits = append(h.exits, code) }
	stderr = &h.stderr
	t.Cleanup(func() { spawn, exit, stderr = oldSpawn, oldExit, oldStderr })
	return h
}

func TestDetachFirstStageStartsSessionLeader(t *testing.T) {
	t.Setenv(StageEnv, "")
	h := install(t, nil)

	DetachProcessContext()

	if !slices.Equal(h.calls, []spawnCall{{stage: "1", newSession: true}}) {
		t.Fatalf("spawn calls = %+v", h.calls)
	}
	if !slices.Equal(h.exits, []int{0}) {
		t.Fatalf("exit codes = %v, want [0]", h.exits)
	}
}

func TestDetachSessionLeaderStartsFinalStage(t *testing.T) {
	t.Setenv(StageEnv, "1")
	h := install(t, nil)

	if !Reborn() {
		t.Fatal("expected session leader stage to report reborn")
	}
	DetachProcessContext()

	if !slices.Equal(h.calls, []spawnCall{{stage: "2", newSession: false}}) {
		t.Fatalf("spawn calls = %+v", h.calls)
	}
	if !slices.Equal(h.exits, []int{0}) {
		t.Fatalf("exit codes = %v, want [0]", h.exits)
	}
}

func TestDetachFinalStageReturns(t *testing.T) {
	t.Setenv(StageEnv, "2")
	h := install(t, nil)

	if !Reborn() {
		t.Fatal("expected final stage to report reborn")
	}
	DetachProcessContext()

	if len(h.calls) != 0 || len(h.exits) != 0 {
		t.Fatalf("final stage spawned %v and exited %v", h.calls, h.exits)
	}
	if _, ok := os.LookupEnv(StageEnv); ok {
		t.Fatal("expected stage marker to be cleared in the final stage")
	}
	if Reborn() {
		t.Fatal("expected Reborn to be false once the marker is cleared")
	}
}

func TestDetachFailureReportsAndExits(t *testing.T) {
	t.Setenv(StageEnv, "")
	h := install(t, syscall.EAGAIN)

	DetachProcessContext()

	if !slices.Equal(h.exits, []int{1}) {
		t.Fatalf("exit codes = %v, want [1]", h.exits)
	}
	want := fmt.Sprintf("fork #1 failed: (%d) %s\n", int(syscall.EAGAIN), syscall.EAGAIN.Error())
	if got := h.stderr.String(); got != want {
		t.Fatalf("stderr = %q, want %q", got, want)
	}
}

func TestErrorWithoutErrno(t *testing.T) {
	err := &Error{Fork: 2, Err: errors.New("no executable")}
	if got := err.Error(); got != "fork #2 failed: no executable" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestStageEnvironReplacesMarker(t *testing.T) {
	env := []string{"HOME=/root", StageEnv + "=1", "PATH=/bin"}
	got := stageEnviron(env, "2")
	want := []string{"HOME=/root", "PATH=/bin", StageEnv + "=2"}
	if !slices.Equal(got, want) {
		t.Fatalf("stageEnviron = %v, want %v", got, want)
	}
}
