package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/rs/zerolog"
)

const backendFile = "file"

// FileStore keeps the checkpoint in <dir>/checkpoint_<kind>.json.
type FileStore struct {
	dir    string
	kind   listing.Kind
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileStore creates a file-backed store. The directory is created on the
// first save.
func NewFileStore(dir string, kind listing.Kind, logger zerolog.Logger) *FileStore {
	return &FileStore{dir: dir, kind: kind, logger: logger, now: time.Now}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint_%s.json", s.kind))
}

// Load reads the checkpoint. A corrupt file is moved aside to <path>.corrupt
// so the next run starts clean without destroying the evidence.
func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	path := s.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	cp, err := decode(data, path, s.kind)
	if err != nil {
		checkpointCorruptTotal.WithLabelValues(backendFile).Inc()
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			s.logger.Error().Err(renameErr).Str("path", path).Msg("Failed to move corrupt checkpoint aside")
		}
		return nil, err
	}
	return cp, nil
}

// Save writes to a temp file in the same directory, syncs it and renames it
// over the target. A crash at any point leaves either the old or the new
// checkpoint in place.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := encode(cp, s.now())
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.Path(), data); err != nil {
		checkpointSavesTotal.WithLabelValues(backendFile, "error").Inc()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	checkpointSavesTotal.WithLabelValues(backendFile, "ok").Inc()
	return nil
}

// Clear removes the checkpoint file.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	// Persist the rename itself. Not all platforms allow syncing a directory.
	if d, dirErr := os.Open(dir); dirErr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
