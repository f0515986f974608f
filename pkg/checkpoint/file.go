package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/issue-harvester/internal/fsutil"
)

// FileStore keeps every collection's checkpoint in one JSON artifact.
//
// Each save rewrites the artifact with fsutil.WriteFileAtomic, so readers see
// either the old or the new version. A mutex serializes writers within the
// process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The parent
// directory is created if needed; the file itself appears on first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the artifact location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context, collection string) (*Checkpoint, error) {
	records, err := s.read()
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "load").Inc()
		return nil, err
	}
	raw, ok := records[collection]
	if !ok {
		return nil, nil
	}
	cp, err := decodeRecord(collection, raw)
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "load").Inc()
		return nil, err
	}
	return cp, nil
}

func (s *FileStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp = stamp(cp)

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "save").Inc()
		return err
	}

	if raw, ok := records[cp.Collection]; ok {
		// A corrupted previous record is replaced rather than blocking progress.
		if current, err := decodeRecord(cp.Collection, raw); err == nil {
			if err := checkAdvance(current, cp); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(toRecord(cp))
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "save").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	records[cp.Collection] = data

	if err := s.write(records); err != nil {
		ErrorsTotal.WithLabelValues("file", "save").Inc()
		return err
	}

	SavesTotal.WithLabelValues("file").Inc()
	return nil
}

func (s *FileStore) Delete(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "delete").Inc()
		return err
	}
	if _, ok := records[collection]; !ok {
		return nil
	}
	delete(records, collection)

	if err := s.write(records); err != nil {
		ErrorsTotal.WithLabelValues("file", "delete").Inc()
		return err
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Checkpoint, error) {
	records, err := s.read()
	if err != nil {
		ErrorsTotal.WithLabelValues("file", "list").Inc()
		return nil, err
	}

	out := make([]Checkpoint, 0, len(records))
	for collection, raw := range records {
		cp, err := decodeRecord(collection, raw)
		if err != nil {
			ErrorsTotal.WithLabelValues("file", "list").Inc()
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		out = append(out, *cp)
	}
	sortCheckpoints(out)
	return out, nil
}

// read loads the artifact. A missing file is an empty artifact.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	records := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCheckpoint, s.path, err)
	}
	if records == nil {
		records = make(map[string]json.RawMessage)
	}
	return records, nil
}

func (s *FileStore) write(records map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint file: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, append(data, '\n'))
}
