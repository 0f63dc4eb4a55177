package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// Checkpoint is the single record of the last source position fully and
// durably processed. It is owned exclusively by the engine: read once at
// startup, overwritten in place after every watermark advance.
type Checkpoint struct {
	Position  cdc.SourcePosition `json:"position"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type CheckpointStore interface {
	// Load returns the persisted checkpoint, or a zero checkpoint when
	// none has been written yet.
	Load(ctx context.Context) (Checkpoint, error)
	Save(ctx context.Context, checkpoint Checkpoint) error
}

// FileCheckpointStore persists the checkpoint as a JSON file, written to a
// temporary file and renamed so a crash mid-write never corrupts the last
// known-good position.
type FileCheckpointStore struct {
	path string
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (s *FileCheckpointStore) Load(ctx context.Context) (Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, nil
		}
		return Checkpoint{}, errors.Wrap(err, "read checkpoint file")
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return Checkpoint{}, errors.Wrap(err, "decode checkpoint file")
	}

	return checkpoint, nil
}

func (s *FileCheckpointStore) Save(ctx context.Context, checkpoint Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}

	temp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint file")
	}
	if err := os.Rename(temp, s.path); err != nil {
		return errors.Wrap(err, "replace checkpoint file")
	}

	return nil
}

// MemoryCheckpointStore keeps the checkpoint in memory for tests.
type MemoryCheckpointStore struct {
	mu         sync.Mutex
	checkpoint Checkpoint
	saves      int
	failing    error
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

func (s *MemoryCheckpointStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

func (s *MemoryCheckpointStore) Load(ctx context.Context) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, checkpoint Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing != nil {
		return s.failing
	}

	s.checkpoint = checkpoint
	s.saves++
	return nil
}

func (s *MemoryCheckpointStore) Current() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

func (s *MemoryCheckpointStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
