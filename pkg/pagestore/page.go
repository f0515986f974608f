// Package pagestore archives raw fetched pages, one durable unit per
// (collection, offset).
//
// Writes are idempotent: writing the same (collection, offset) twice replaces
// the earlier page. Write returns only after the page is durable, so callers
// may advance their checkpoint once it succeeds.
package pagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPageNotFound indicates no page is archived at the requested offset.
	ErrPageNotFound = errors.New("page not found")

	// ErrInvalidPage indicates a page that cannot be stored or was stored corrupted.
	ErrInvalidPage = errors.New("invalid page")
)

// Page is one archived page.
type Page struct {
	Collection string `json:"collection"`
	Offset     int    `json:"offset"`
	ItemCount  int    `json:"item_count"`

	// PageSize is the maxResults the page was requested with. Zero for pages
	// archived before it was recorded.
	PageSize int `json:"page_size,omitempty"`

	Total     *int            `json:"total,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is a durable archive of raw pages.
type Store interface {
	// Exists reports whether a page is archived at (collection, offset).
	Exists(ctx context.Context, collection string, offset int) (bool, error)

	// Write durably stores the page, replacing any page at the same offset.
	Write(ctx context.Context, page Page) error

	// Read returns the page at (collection, offset) or ErrPageNotFound.
	Read(ctx context.Context, collection string, offset int) (*Page, error)

	// List returns the archived offsets of a collection in ascending order.
	List(ctx context.Context, collection string) ([]int, error)
}

// ValidateCollection rejects names that cannot address a storage unit.
func ValidateCollection(collection string) error {
	switch {
	case collection == "":
		return fmt.Errorf("%w: collection is required", ErrInvalidPage)
	case strings.ContainsAny(collection, `/\:`) || strings.Contains(collection, ".."):
		return fmt.Errorf("%w: collection %q contains a reserved character", ErrInvalidPage, collection)
	case strings.HasPrefix(collection, "."):
		return fmt.Errorf("%w: collection %q must not start with a dot", ErrInvalidPage, collection)
	}
	return nil
}

// Validate checks the page before it is written.
func (p *Page) Validate() error {
	if err := ValidateCollection(p.Collection); err != nil {
		return err
	}
	if p.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidPage, p.Offset)
	}
	if p.PageSize < 0 {
		return fmt.Errorf("%w: negative page size %d", ErrInvalidPage, p.PageSize)
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPage)
	}
	if !json.Valid(p.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPage)
	}
	return nil
}

// Covers reports whether the archived page answers a request for size items
// at its offset: it was requested with the same size, or it is the last page
// of a collection whose total it reaches.
func (p *Page) Covers(size int) bool {
	if p.PageSize == size {
		return true
	}
	return p.ItemCount < size && p.Total != nil && p.Offset+p.ItemCount >= *p.Total
}

func encodePage(p Page) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal page: %w", err)
	}
	return data, nil
}

func decodePage(data []byte) (*Page, error) {
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	return &p, nil
}
