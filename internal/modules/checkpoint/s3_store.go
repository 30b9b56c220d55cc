package checkpoint

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/domain"
	"github.com/aristath/pricewatch/internal/objectstore"
)

// S3Store keeps each checkpoint as an object under a key prefix
type S3Store struct {
	client *objectstore.Client
	prefix string
	log    zerolog.Logger
}

// NewS3Store creates a store writing below prefix (e.g. "pricewatch/checkpoints/")
func NewS3Store(client *objectstore.Client, prefix string, log zerolog.Logger) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "checkpoint_store").Str("kind", KindS3).Logger(),
	}
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key + fileExt
}

// Save uploads the encoded checkpoint
func (s *S3Store) Save(ctx context.Context, key string, cp *Checkpoint) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := Encode(cp)
	if err != nil {
		return err
	}
	if err := s.client.Upload(ctx, s.objectKey(key), data); err != nil {
		return &domain.CheckpointError{Op: "save", Key: key, Err: err}
	}

	s.log.Info().
		Str("key", key).
		Str("bucket", s.client.Bucket()).
		Int("size", len(data)).
		Msg("Uploaded checkpoint")
	return nil
}

// Load downloads and decodes the checkpoint stored under key
func (s *S3Store) Load(ctx context.Context, key string) (*Checkpoint, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Download(ctx, s.objectKey(key))
	if errors.Is(err, objectstore.ErrNotFound) {
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

// List returns the checkpoints below the prefix sorted by key
func (s *S3Store) List(ctx context.Context) ([]Info, error) {
	objects, err := s.client.List(ctx, s.prefix)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "list", Err: err}
	}

	infos := make([]Info, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if !strings.HasSuffix(name, fileExt) || strings.Contains(name, "/") {
			continue
		}
		infos = append(infos, Info{
			Key:       strings.TrimSuffix(name, fileExt),
			Size:      obj.Size,
			UpdatedAt: obj.LastModified,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
