package keychain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// Unit tests use MemoryStore and FileStore; no macOS Keychain interaction needed.

func testStore() Store {
	return NewMemoryStore()
}

func TestSetAndGet(t *testing.T) {
	s := testStore()

	if err := s.Set("set-get", "hello-world"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, err := s.Get("set-get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "hello-world" {
		t.Errorf("expected 'hello-world', got %q", val)
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore()

	_, err := s.Get("nonexistent")
	if err == nil {
		t.Error("expected error for missing key")
	}
}

func TestSetOverwrites(t *testing.T) {
	s := testStore()

	s.Set("overwrite", "first")
	s.Set("overwrite", "second")

	val, err := s.Get("overwrite")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "second" {
		t.Errorf("expected 'second', got %q", val)
	}
}

func TestDelete(t *testing.T) {
	s := testStore()

	s.Set("delete", "to-delete")

	if err := s.Delete("delete"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := s.Get("delete")
	if err == nil {
		t.Error("expected error after delete")
	}
}

func TestDeleteNonexistent(t *testing.T) {
	s := testStore()

	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete nonexistent: %v", err)
	}
}

func TestList(t *testing.T) {
	s := testStore()

	s.Set("list-a", "val")
	s.Set("list-b", "val")
	s.Set("list-c", "val")

	listed, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(listed) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(listed))
	}

	found := make(map[string]bool)
	for _, k := range listed {
		found[k] = true
	}
	for _, k := range []string{"list-a", "list-b", "list-c"} {
		if !found[k] {
			t.Errorf("expected %q in list, not found", k)
		}
	}
}

func TestGetMultiple(t *testing.T) {
	s := testStore()

	s.Set("multi-a", "val-a")
	s.Set("multi-b", "val-b")

	result, err := s.GetMultiple([]string{"multi-a", "multi-b", "multi-missing"})
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}

	if result["multi-a"] != "val-a" {
		t.Errorf("expected val-a, got %q", result["multi-a"])
	}
	if result["multi-b"] != "val-b" {
		t.Errorf("expected val-b, got %q", result["multi-b"])
	}
	if _, ok := result["multi-missing"]; ok {
		t.Error("expected missing key to be absent")
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.Set("youtube_username", "streamer"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reload: %v", err)
	}
	val, err := s2.Get("youtube_username")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "streamer" {
		t.Errorf("expected 'streamer', got %q", val)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileStore(path); err == nil {
		t.Error("expected error for corrupt store file")
	}
}

func TestFileStoreNullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("null"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set("youtube_credentials", "{}"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := s.Get("youtube_credentials"); err != nil || got != "{}" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, _ := NewFileStore(path)

	s.Set("a", "1")
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("never"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}

	s2, _ := NewFileStore(path)
	if _, err := s2.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after reload, got %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	s := testStore()

	type cred struct {
		AccessToken string `json:"access_token"`
		Timestamp   int64  `json:"timestamp"`
	}

	var got cred
	found, err := GetJSON(s, "youtube_credentials", &got)
	if err != nil {
		t.Fatalf("GetJSON missing: %v", err)
	}
	if found {
		t.Error("expected found=false for missing key")
	}

	if err := SetJSON(s, "youtube_credentials", cred{AccessToken: "ABC123", Timestamp: 42}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	found, err = GetJSON(s, "youtube_credentials", &got)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if got.AccessToken != "ABC123" || got.Timestamp != 42 {
		t.Errorf("unexpected value: %+v", got)
	}

	s.Set("bad", "{")
	if _, err := GetJSON(s, "bad", &got); err == nil {
		t.Error("expected decode error")
	}
}
