package hashutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashConfigOrderIndependent(t *testing.T) {
	a := map[string]interface{}{
		"cmds": []interface{}{"make", "make install"},
		"env":  map[string]interface{}{"CC": "gcc", "CFLAGS": "-O2"},
	}
	b := map[string]interface{}{
		"env":  map[string]interface{}{"CFLAGS": "-O2", "CC": "gcc"},
		"cmds": []interface{}{"make", "make install"},
	}

	if HashConfig(a) != HashConfig(b) {
		t.Error("HashConfig differs across map key reordering, want equal")
	}
}

func TestHashConfigSliceOrderSensitive(t *testing.T) {
	a := map[string]interface{}{"cmds": []interface{}{"one", "two"}}
	b := map[string]interface{}{"cmds": []interface{}{"two", "one"}}

	if HashConfig(a) == HashConfig(b) {
		t.Error("HashConfig ignored slice order, want sensitivity to command order")
	}
}

func TestHashConfigDistinguishesAbsentFromNull(t *testing.T) {
	withNil := map[string]interface{}{"extra_files": nil}
	empty := map[string]interface{}{}

	// Both contribute nothing for the key's value, but the key itself still
	// folds in, so these must differ.
	if HashConfig(withNil) == HashConfig(empty) {
		t.Error("HashConfig collapsed a present-but-nil key with an absent key")
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if h1 != h2 {
		t.Error("HashFile returned different digests for the same unmodified file")
	}

	if err := os.WriteFile(path, []byte("hello world!"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h3, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if h1 == h3 {
		t.Error("HashFile did not change after file contents changed")
	}
}

func TestSummarizeDirChangesAfterChildModified(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(child, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s1, err := SummarizeDir(dir)
	if err != nil {
		t.Fatalf("SummarizeDir: %v", err)
	}

	info, err := os.Stat(child)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	later := info.ModTime().Add(time.Hour)
	if err := os.Chtimes(child, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	s2, err := SummarizeDir(dir)
	if err != nil {
		t.Fatalf("SummarizeDir: %v", err)
	}
	if string(s1) == string(s2) {
		t.Error("SummarizeDir did not change after a child's mtime advanced")
	}
}
