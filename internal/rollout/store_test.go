package rollout

import (
	"path/filepath"
	"testing"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "conv-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	seq1, err := store.Append("user_text", map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("expected seq 1, got %d", seq1)
	}

	seq2, err := store.Append("assistant_text", map[string]string{"text": "hi there"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected seq 2, got %d", seq2)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadAll(dir, "conv-1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != "user_text" || records[1].Kind != "assistant_text" {
		t.Fatalf("unexpected kinds: %+v", records)
	}
}

func TestOpenRecoversSequenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "conv-2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Append("user_text", "a"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append("user_text", "b"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, "conv-2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	seq, err := reopened.Append("user_text", "c")
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 3 {
		t.Fatalf("expected seq to continue at 3, got %d", seq)
	}
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	records, err := ReadAll(dir, "never-existed")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestPathShape(t *testing.T) {
	got := Path("/data", "conv-xyz")
	want := filepath.Join("/data", "rollouts", "conv-xyz.log")
	if got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}
