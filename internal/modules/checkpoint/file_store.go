package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
)

const fileExt = ".ckpt"

// FileStore keeps one encoded checkpoint file per key in a directory
type FileStore struct {
	dir string
	log zerolog.Logger
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{
		dir: dir,
		log: log.With().Str("component", "checkpoint_store").Str("kind", KindFile).Logger(),
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Save writes to a temporary file and renames it into place, so readers
// never observe a partial checkpoint.
func (s *FileStore) Save(_ context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := Encode(cp)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}

	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("Saved checkpoint")
	return nil
}

// Load reads and decodes the checkpoint stored under key
func (s *FileStore) Load(_ context.Context, key string) (*Checkpoint, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: err}
	}

	cp, err := Decode(data)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "load", Key: key, Err: err}
	}
	return cp, nil
}

// List returns the stored checkpoints sorted by key
func (s *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "list", Err: err}
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Key:       strings.TrimSuffix(e.Name(), fileExt),
			Size:      fi.Size(),
			UpdatedAt: fi.ModTime().UTC(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
