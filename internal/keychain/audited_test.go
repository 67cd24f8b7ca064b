package keychain

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/streamctl/internal/audit"
)

func setupAuditedStore(t *testing.T) (*AuditedStore, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	metaPath := filepath.Join(dir, "credential-metadata.json")

	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}

	inner := NewMemoryStore()
	store := NewAuditedStore(inner, auditLog, meta, "daemon")

	return store, auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	entries := make([]audit.Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e audit.Entry
		json.Unmarshal([]byte(line), &e)
		entries = append(entries, e)
	}
	return entries
}

func TestAuditedStoreSetLogsWrite(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("youtube_credentials", `{"access_token":"x"}`)

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionCredentialWrite {
		t.Errorf("expected credential_write, got %v", entries[0].Action)
	}
	if entries[0].Key != "youtube_credentials" {
		t.Errorf("expected youtube_credentials, got %q", entries[0].Key)
	}
	if entries[0].Actor != "daemon" {
		t.Errorf("expected daemon, got %q", entries[0].Actor)
	}
}

func TestAuditedStoreNeverLogsValues(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("twitch_credentials", "super-secret-token")
	store.Get("twitch_credentials")

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "super-secret-token") {
		t.Error("audit log contains a stored value")
	}
}

func TestAuditedStoreGetLogsRead(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("twitch_username", "val")
	store.Get("twitch_username")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionCredentialRead {
		t.Errorf("expected credential_read, got %v", entries[1].Action)
	}
}

func TestAuditedStoreGetMissingPreservesNotFound(t *testing.T) {
	store, _ := setupAuditedStore(t)

	_, err := store.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditedStoreDeleteLogsDelete(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("youtube_username", "val")
	store.Delete("youtube_username")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionCredentialDelete {
		t.Errorf("expected credential_delete, got %v", entries[1].Action)
	}
	if store.Metadata().Get("youtube_username") != nil {
		t.Error("expected metadata removed after delete")
	}
}

func TestAuditedStoreWithTrigger(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.WithTrigger("oauth_redirect").Set("youtube_credentials", "v")
	store.Set("youtube_username", "v")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Trigger != "oauth_redirect" {
		t.Errorf("expected oauth_redirect, got %q", entries[0].Trigger)
	}
	if entries[1].Trigger != "" {
		t.Errorf("expected base store to have no trigger, got %q", entries[1].Trigger)
	}
}

func TestAuditedStoreTracksUpdates(t *testing.T) {
	store, _ := setupAuditedStore(t)

	store.Set("twitch_credentials", "first")
	first := store.Metadata().Get("twitch_credentials")
	if first == nil {
		t.Fatal("expected metadata")
	}

	store.Set("twitch_credentials", "second")
	second := store.Metadata().Get("twitch_credentials")
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on overwrite: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestMetadataStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	ms1, _ := NewMetadataStore(path)
	ms1.Set("key1", &Metadata{})

	ms2, _ := NewMetadataStore(path)
	if ms2.Get("key1") == nil {
		t.Fatal("expected metadata after reload")
	}
}
