package scraper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()
	return NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoints", "discovery.json"))
}

// TestCheckpoint_SaveLoadRoundtrip verifies a saved checkpoint loads back
// with identical progress fields.
func TestCheckpoint_SaveLoadRoundtrip(t *testing.T) {
	cs := newTestCheckpointStore(t)

	cp := NewCheckpoint([]string{"jira", "confluence"})
	cp.ProductIndex = 1
	cp.Offset = 150
	cp.Processed = 420

	if err := cs.Save(cp); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := cs.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() returned nil for an existing checkpoint")
	}
	if loaded.ProductIndex != 1 || loaded.Offset != 150 || loaded.Processed != 420 {
		t.Errorf("loaded checkpoint = %+v, want product 1, offset 150, processed 420", loaded)
	}
	if loaded.RunID != cp.RunID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, cp.RunID)
	}
	if len(loaded.Products) != 2 || loaded.Products[0] != "jira" {
		t.Errorf("Products = %v, want [jira confluence]", loaded.Products)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set by Save")
	}
}

// TestCheckpoint_LoadMissingReturnsNil verifies a missing file is not an
// error, just an absent checkpoint.
func TestCheckpoint_LoadMissingReturnsNil(t *testing.T) {
	cs := newTestCheckpointStore(t)

	cp, err := cs.Load()
	if err != nil {
		t.Fatalf("Load() on missing file failed: %v", err)
	}
	if cp != nil {
		t.Errorf("Load() on missing file = %+v, want nil", cp)
	}
}

// TestCheckpoint_CorruptFileFailsLoudly verifies garbage on disk yields an
// error (callers treat it as absence) rather than a silently wrong state.
func TestCheckpoint_CorruptFileFailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	cs := NewCheckpointStore(path)

	cp, err := cs.Load()
	if err == nil {
		t.Fatal("Load() on corrupt file should return an error")
	}
	if cp != nil {
		t.Errorf("Load() on corrupt file = %+v, want nil checkpoint", cp)
	}
	if !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("error %q should mention corruption", err)
	}
}

// TestCheckpoint_WrongSchemaVersionRejected verifies a checkpoint from an
// incompatible release is detected instead of deserialized blindly.
func TestCheckpoint_WrongSchemaVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.json")
	if err := os.WriteFile(path, []byte(`{"schema_version": 99, "product_index": 3}`), 0644); err != nil {
		t.Fatal(err)
	}
	cs := NewCheckpointStore(path)

	if _, err := cs.Load(); err == nil {
		t.Fatal("Load() should reject an unknown schema version")
	}
}

// TestCheckpoint_SaveOverwritesAndLeavesNoTempFiles verifies repeated saves
// replace the file atomically without litter.
func TestCheckpoint_SaveOverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cs := NewCheckpointStore(filepath.Join(dir, "discovery.json"))

	cp := NewCheckpoint([]string{"jira"})
	for i := 0; i < 5; i++ {
		cp.Processed = i * 100
		if err := cs.Save(cp); err != nil {
			t.Fatalf("Save() #%d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("checkpoint dir has %v, want only discovery.json", names)
	}

	loaded, err := cs.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Processed != 400 {
		t.Errorf("Processed = %d, want the last saved value 400", loaded.Processed)
	}
}

// TestCheckpoint_Clear verifies Clear removes the file and is idempotent.
func TestCheckpoint_Clear(t *testing.T) {
	cs := newTestCheckpointStore(t)

	if err := cs.Save(NewCheckpoint([]string{"jira"})); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := cs.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	cp, err := cs.Load()
	if err != nil || cp != nil {
		t.Errorf("Load() after Clear = (%+v, %v), want (nil, nil)", cp, err)
	}

	// Clearing again must not fail.
	if err := cs.Clear(); err != nil {
		t.Errorf("second Clear() failed: %v", err)
	}
}
