package store

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestFileStore_PutGetDelete(t *testing.T) {
	s := NewFileStore(t.TempDir(), ".pid")

	if err := s.Put("n3000.hyak.local:1", "7280"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, found, err := s.Get("n3000.hyak.local:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if v != "7280" {
		t.Errorf("expected '7280', got %q", v)
	}

	if err := s.Delete("n3000.hyak.local:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err = s.Get("n3000.hyak.local:1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Error("key should be gone after delete")
	}
}

func TestFileStore_MissingKeyIsNotAnError(t *testing.T) {
	s := NewFileStore(t.TempDir(), ".pid")

	v, found, err := s.Get("absent")
	if err != nil {
		t.Fatalf("Get of missing key should not error, got %v", err)
	}
	if found || v != "" {
		t.Errorf("expected not found, got (%q, %v)", v, found)
	}

	// Deleting a missing key is success, not an error.
	if err := s.Delete("absent"); err != nil {
		t.Errorf("Delete of missing key should not error, got %v", err)
	}
}

func TestFileStore_MissingDirIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "never-created"), ".pid")

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys on missing dir should not error, got %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}

	_, found, err := s.Get("anything")
	if err != nil || found {
		t.Errorf("Get on missing dir = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestFileStore_Keys(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, ".pid")

	if err := s.Put("n3000.hyak.local:1", "7280"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("n3042.hyak.local:3", "555"); err != nil {
		t.Fatal(err)
	}
	// Files without the suffix are not store entries.
	if err := os.WriteFile(filepath.Join(dir, "passwd"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "n3000.hyak.local:1.log"), []byte("log"), 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	slices.Sort(keys)
	want := []string{"n3000.hyak.local:1", "n3042.hyak.local:3"}
	if !slices.Equal(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
}

func TestFileStore_TrimsValue(t *testing.T) {
	dir := t.TempDir()
	// vncserver writes the pid with a trailing newline.
	if err := os.WriteFile(filepath.Join(dir, "n3000.hyak.local:1.pid"), []byte("7280\n"), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(dir, ".pid")

	v, found, err := s.Get("n3000.hyak.local:1")
	if err != nil || !found {
		t.Fatalf("Get = (found=%v, err=%v)", found, err)
	}
	if v != "7280" {
		t.Errorf("expected trimmed value '7280', got %q", v)
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("n3000.hyak.local", 1); got != "n3000.hyak.local:1" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	if err := s.Put("a", "1"); err != nil {
		t.Fatal(err)
	}
	v, found, _ := s.Get("a")
	if !found || v != "1" {
		t.Errorf("Get = (%q, %v)", v, found)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a"); err != nil {
		t.Errorf("double delete should succeed, got %v", err)
	}
	keys, _ := s.Keys()
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}
