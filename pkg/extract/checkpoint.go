package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stats are the counters of the documents a batch has gone through since
// its checkpoint was last reset.
type Stats struct {
	Processed  int      `json:"processed"`
	Relations  int      `json:"relations"`
	Empty      int      `json:"empty"`
	Failed     int      `json:"failed"`
	FailedDocs []string `json:"failed_documents,omitempty"`
}

const maxFailedDocs = 100

func (s *Stats) fail(documentID string) {
	s.Failed++
	if len(s.FailedDocs) < maxFailedDocs {
		s.FailedDocs = append(s.FailedDocs, documentID)
	}
}

func (s *Stats) add(o Stats) {
	s.Processed += o.Processed
	s.Relations += o.Relations
	s.Empty += o.Empty
	s.Failed += o.Failed
	for _, id := range o.FailedDocs {
		if len(s.FailedDocs) >= maxFailedDocs {
			break
		}
		s.FailedDocs = append(s.FailedDocs, id)
	}
}

// Checkpoint is the resumable state of a batch, stored as JSON.
type Checkpoint struct {
	LastDocumentID string    `json:"last_document_id"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	Stats          Stats     `json:"stats"`
}

// LoadCheckpoint reads path. A missing file is a fresh start, not an error.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// SaveCheckpoint writes cp to a temporary file next to path and renames it
// over path, so readers see either the old or the new checkpoint.
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
