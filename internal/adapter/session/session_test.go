package session

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
)

func hasTmux() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

func TestOpenRejectsEmptyID(t *testing.T) {
	a := New()
	err := a.Open(context.Background(), OpenSpec{Command: "sleep 1"})
	if err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestSessionNamePrefixed(t *testing.T) {
	if got, want := sessionName(oj.SessionID("abc")), "ojd-abc"; got != want {
		t.Errorf("sessionName: got %q, want %q", got, want)
	}
}

func TestIsAliveFalseForUnknownSession(t *testing.T) {
	a := New()
	if a.IsAlive(oj.SessionID("never-existed")) {
		t.Error("expected IsAlive to be false for unknown session")
	}
}

func TestIntegrationOpenSendClose(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not available")
	}

	a := New()
	id := oj.NewSessionID()

	if err := a.Open(context.Background(), OpenSpec{ID: id, Command: "sh"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(context.Background(), id, true, 0)

	if !a.IsAlive(id) {
		t.Fatal("expected session to be alive after Open")
	}

	if err := a.Send(context.Background(), id, "echo hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := a.Close(context.Background(), id, false, 2*time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.IsAlive(id) {
		t.Fatal("expected session to be gone after Close")
	}
}

func TestPeekUnknownSessionErrors(t *testing.T) {
	a := New()
	if _, err := a.Peek(context.Background(), oj.SessionID("never-existed"), false); err == nil {
		t.Fatal("expected error peeking an unknown session")
	}
}

func TestIntegrationPeekReturnsPaneContent(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not available")
	}

	a := New()
	id := oj.NewSessionID()
	if err := a.Open(context.Background(), OpenSpec{ID: id, Command: "sh"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(context.Background(), id, true, 0)

	if err := a.Send(context.Background(), id, "echo peek-marker"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	out, err := a.Peek(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !strings.Contains(out, "peek-marker") {
		t.Errorf("expected captured pane to contain peek-marker, got %q", out)
	}
}

func TestIntegrationListFindsOwnSessions(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not available")
	}

	a := New()
	id := oj.NewSessionID()
	if err := a.Open(context.Background(), OpenSpec{ID: id, Command: "sh"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(context.Background(), id, true, 0)

	ids, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, got := range ids {
		if got == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s among listed sessions, got %v", id, ids)
	}
}
