package playertrack

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}
}

func waitForCount(t *testing.T, tr *Tracker, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for tr.Count() != want {
		select {
		case <-deadline:
			t.Fatalf("Tracker never reached count %d, at %d", want, tr.Count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFollowerSkipsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")
	writeLog(t, path, logPrefix+"Historical joined the game\n")

	tr := New()
	f := NewFollower(path, tr, 5*time.Millisecond)
	f.Start()
	defer f.Stop()

	// Let the follower open and seek to the end.
	time.Sleep(30 * time.Millisecond)
	if tr.Count() != 0 {
		t.Fatalf("Existing log content must not be replayed, got %d", tr.Count())
	}

	writeLog(t, path, logPrefix+"Steve joined the game\n")
	waitForCount(t, tr, 1)
}

func TestFollowerHandlesLateFileCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")

	tr := New()
	f := NewFollower(path, tr, 5*time.Millisecond)
	f.Start()
	defer f.Stop()

	// The log appears only after the server first starts.
	time.Sleep(20 * time.Millisecond)
	writeLog(t, path, logPrefix+"Steve joined the game\n")

	waitForCount(t, tr, 1)
}

func TestFollowerReopensAfterTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")
	writeLog(t, path, "")

	tr := New()
	f := NewFollower(path, tr, 5*time.Millisecond)
	f.Start()
	defer f.Stop()

	time.Sleep(20 * time.Millisecond)
	writeLog(t, path, logPrefix+"Steve joined the game\n"+logPrefix+"Alex joined the game\n")
	waitForCount(t, tr, 2)

	// Log rotation: the file is truncated and restarts from zero.
	if err := os.WriteFile(path, []byte(logPrefix+"Herobrine joined the game\n"), 0o644); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	waitForCount(t, tr, 3)
}

func TestFollowerIgnoresPartialLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")
	writeLog(t, path, "")

	tr := New()
	f := NewFollower(path, tr, 5*time.Millisecond)
	f.Start()
	defer f.Stop()

	time.Sleep(20 * time.Millisecond)
	// No trailing newline yet; the line is incomplete.
	writeLog(t, path, logPrefix+"Steve joined")
	time.Sleep(30 * time.Millisecond)
	if tr.Count() != 0 {
		t.Fatalf("Partial line should not be processed, got %d", tr.Count())
	}

	writeLog(t, path, " the game\n")
	waitForCount(t, tr, 1)
}
