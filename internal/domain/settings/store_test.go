package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"transaction-userbot/internal/domain/settings"
)

func TestFileStoreCreatesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !st.ReplyEnabled || st.ReplyMessage != "1" {
		t.Fatalf("Load() = %#v, want defaults", st)
	}
	if st.Pic2 == nil {
		t.Fatal("Load() returned nil Pic2 map")
	}
	if _, err = os.Stat(path); err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}
}

func TestFileStoreHealsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	store, err := settings.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error on corrupt file: %v", err)
	}

	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !st.ReplyEnabled || st.ReplyMessage != "1" {
		t.Fatalf("Load() after heal = %#v, want defaults", st)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	want := settings.Default()
	want.ReplyEnabled = false
	want.ReplyMessage = "ok"
	want.Pic2[-100555] = settings.Pic2Rule{Enabled: true, TargetUser: "@alice", ReplyMessage: "xin chào"}

	if err = store.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.ReplyEnabled != want.ReplyEnabled || got.ReplyMessage != want.ReplyMessage {
		t.Fatalf("Load() = %#v, want %#v", got, want)
	}
	rule, ok := got.Pic2[-100555]
	if !ok || rule != want.Pic2[-100555] {
		t.Fatalf("Load() pic2 rule = %#v (present=%v), want %#v", rule, ok, want.Pic2[-100555])
	}
}
