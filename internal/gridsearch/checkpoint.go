package gridsearch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/statarb/pairback/internal/backtest"
)

// Row is the sweep outcome for one configuration. A failed run carries its
// error string alongside zero metrics so the sweep record stays complete.
type Row struct {
	ConfigHash  string           `json:"config_hash"`
	Config      backtest.Config  `json:"config"`
	Metrics     backtest.Metrics `json:"metrics"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// checkpoint is the on-disk resume state, rewritten after every finished
// combination.
type checkpoint struct {
	Rows []Row `json:"rows"`
}

// loadCheckpoint reads resume state; a missing file is an empty sweep.
func loadCheckpoint(path string) (*checkpoint, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// save atomically rewrites the checkpoint via a temp file rename.
func (cp *checkpoint) save(path string) error {
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// completed returns the set of already-finished configuration hashes.
func (cp *checkpoint) completed() map[string]bool {
	done := make(map[string]bool, len(cp.Rows))
	for _, row := range cp.Rows {
		done[row.ConfigHash] = true
	}
	return done
}
