package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetVisitorID("fp_abc_1"); err != nil {
		t.Fatalf("SetVisitorID: %v", err)
	}
	if err := s.SetSessionID("session_xyz_2"); err != nil {
		t.Fatalf("SetSessionID: %v", err)
	}
	if err := s.SetProfile("Иван", "ivan@example.com", "+79990001122"); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if err := s.SetSoundEnabled(false); err != nil {
		t.Fatalf("SetSoundEnabled: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.VisitorID(); got != "fp_abc_1" {
		t.Errorf("VisitorID = %q", got)
	}
	if got := reopened.SessionID(); got != "session_xyz_2" {
		t.Errorf("SessionID = %q", got)
	}
	name, email, phone := reopened.Profile()
	if name != "Иван" || email != "ivan@example.com" || phone != "+79990001122" {
		t.Errorf("Profile = %q %q %q", name, email, phone)
	}
	if reopened.SoundEnabled(true) {
		t.Error("SoundEnabled should have persisted as false")
	}
}

func TestOpenToleratesMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nested", "dir", "state.json"))
	if err != nil {
		t.Fatalf("Open with missing file: %v", err)
	}
	if s.VisitorID() != "" || s.SessionID() != "" {
		t.Fatal("fresh store must start empty")
	}
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open with corrupt file: %v", err)
	}
	if s.VisitorID() != "" {
		t.Fatal("corrupt state must reset to empty")
	}

	// And writing afterwards replaces the corrupt file.
	if err := s.SetVisitorID("fp_new"); err != nil {
		t.Fatalf("SetVisitorID: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.VisitorID() != "fp_new" {
		t.Fatal("rewritten state not persisted")
	}
}

func TestSoundEnabledDefault(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !s.SoundEnabled(true) {
		t.Fatal("unset flag must fall back to the given default")
	}
	if s.SoundEnabled(false) {
		t.Fatal("unset flag must fall back to the given default")
	}
}
