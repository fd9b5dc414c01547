package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// checkpointSchemaVersion guards against deserializing a checkpoint written
// by an incompatible release into the wrong shape.
const checkpointSchemaVersion = 1

// Checkpoint is the resumable progress snapshot of one discovery run.
// Offsets are approximate by design: the store's idempotent upserts make
// replaying a partial page safe, so resume only has to be monotonic, not
// exact.
type Checkpoint struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	Products      []string  `json:"products"`
	ProductIndex  int       `json:"product_index"`
	Offset        int       `json:"offset"`
	Processed     int       `json:"processed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewCheckpoint starts a fresh checkpoint for the given product order.
func NewCheckpoint(products []string) *Checkpoint {
	return &Checkpoint{
		SchemaVersion: checkpointSchemaVersion,
		RunID:         uuid.NewString(),
		Products:      products,
	}
}

// CheckpointStore persists checkpoints at a fixed path. It is driven by the
// single-threaded discovery loop and is not safe for concurrent writers.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore returns a store writing to path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Save atomically writes the checkpoint: serialize to a temp file in the same
// directory, fsync, then rename over the previous checkpoint so an interrupted
// write never leaves a half-written file behind.
func (cs *CheckpointStore) Save(cp *Checkpoint) error {
	cp.SchemaVersion = checkpointSchemaVersion
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(cs.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), cs.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved checkpoint. A missing file yields (nil, nil).
// A corrupt or cross-version file yields (nil, err); callers log the error
// and start fresh, never fail the run over it.
func (cs *CheckpointStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint at %s: %w", cs.path, err)
	}
	if cp.SchemaVersion != checkpointSchemaVersion {
		return nil, fmt.Errorf("checkpoint at %s has schema version %d, want %d", cs.path, cp.SchemaVersion, checkpointSchemaVersion)
	}
	return &cp, nil
}

// Clear removes the checkpoint after a successful full run.
func (cs *CheckpointStore) Clear() error {
	err := os.Remove(cs.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
