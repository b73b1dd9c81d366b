package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

func TestSaveAndLoadSession(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	state := SessionState{
		Symbol:        "BTCUSDT",
		SessionVolume: 1234.5,
		LastPosition: types.PositionSnapshot{
			Symbol:      "BTCUSDT",
			PositionAmt: 0.25,
			EntryPrice:  41000,
		},
	}
	if err := s.SaveSession(state); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := s.LoadSession("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadSession returned nil for a saved session")
	}
	if loaded.SessionVolume != 1234.5 {
		t.Errorf("volume = %v, want 1234.5", loaded.SessionVolume)
	}
	if loaded.LastPosition.PositionAmt != 0.25 {
		t.Errorf("position = %v, want 0.25", loaded.LastPosition.PositionAmt)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on save")
	}
}

func TestLoadMissingSession(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	loaded, err := s.LoadSession("ETHUSDT")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %+v, want nil for missing session", loaded)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.SaveSession(SessionState{Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "session_BTCUSDT.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after atomic save")
	}
	if _, err := os.Stat(filepath.Join(dir, "session_BTCUSDT.json")); err != nil {
		t.Errorf("session file missing: %v", err)
	}
}
