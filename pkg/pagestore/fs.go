package pagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/issue-harvester/internal/fsutil"
)

const pageFilePrefix = "page_"

// FSStore stores each page as <dir>/<collection>/page_<offset>.json.
// Offsets are zero padded so a directory listing sorts in offset order.
type FSStore struct {
	dir string
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("pages dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Path returns the file a page at (collection, offset) is stored in.
func (s *FSStore) Path(collection string, offset int) string {
	return filepath.Join(s.dir, collection, fmt.Sprintf("%s%010d.json", pageFilePrefix, offset))
}

func (s *FSStore) Exists(ctx context.Context, collection string, offset int) (bool, error) {
	if err := ValidateCollection(collection); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(collection, offset))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		ErrorsTotal.WithLabelValues("fs", "exists").Inc()
		return false, fmt.Errorf("stat page: %w", err)
	}
}

func (s *FSStore) Write(ctx context.Context, page Page) error {
	if err := page.Validate(); err != nil {
		return err
	}

	data, err := encodePage(page)
	if err != nil {
		return err
	}

	dir := filepath.Join(s.dir, page.Collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ErrorsTotal.WithLabelValues("fs", "write").Inc()
		return fmt.Errorf("create collection dir: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.Path(page.Collection, page.Offset), data); err != nil {
		ErrorsTotal.WithLabelValues("fs", "write").Inc()
		return err
	}

	WritesTotal.WithLabelValues("fs").Inc()
	BytesWritten.WithLabelValues("fs").Add(float64(len(page.Payload)))
	return nil
}

func (s *FSStore) Read(ctx context.Context, collection string, offset int) (*Page, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(collection, offset))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s@%d", ErrPageNotFound, collection, offset)
	}
	if err != nil {
		ErrorsTotal.WithLabelValues("fs", "read").Inc()
		return nil, fmt.Errorf("read page: %w", err)
	}
	page, err := decodePage(data)
	if err != nil {
		ErrorsTotal.WithLabelValues("fs", "read").Inc()
		return nil, err
	}
	return page, nil
}

func (s *FSStore) List(ctx context.Context, collection string) ([]int, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, collection))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		ErrorsTotal.WithLabelValues("fs", "list").Inc()
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var offsets []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pageFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pageFilePrefix), ".json"))
		if err != nil {
			continue
		}
		offsets = append(offsets, n)
	}
	sort.Ints(offsets)
	return offsets, nil
}
