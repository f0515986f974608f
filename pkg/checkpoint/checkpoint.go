package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrInvalidCheckpoint indicates a checkpoint record that is incomplete or corrupted.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrOffsetRegression indicates a save that would move a collection's
	// committed offset backwards.
	ErrOffsetRegression = errors.New("checkpoint offset regression")
)

// Checkpoint is the durable progress record of one collection.
type Checkpoint struct {
	// Collection is the key of the record; it is not part of the stored value.
	Collection string

	// LastPage is the zero-based index of the last committed page.
	LastPage int

	// LastOffset is the offset of the last committed page.
	LastOffset int

	// PageSize is the page size the last page was requested with.
	PageSize int

	// UpdatedAt is when the record was last saved.
	UpdatedAt time.Time

	// Gaps lists offsets that were skipped because the remote returned an
	// unparseable page.
	Gaps []int
}

// NextOffset returns the offset a resumed run starts at.
func (c *Checkpoint) NextOffset() int {
	return c.LastOffset + c.PageSize
}

// Validate checks the record for internal consistency.
func (c *Checkpoint) Validate() error {
	switch {
	case c.Collection == "":
		return fmt.Errorf("%w: collection is required", ErrInvalidCheckpoint)
	case c.LastOffset < 0:
		return fmt.Errorf("%w: negative offset %d", ErrInvalidCheckpoint, c.LastOffset)
	case c.PageSize < 1:
		return fmt.Errorf("%w: page size must be positive (got %d)", ErrInvalidCheckpoint, c.PageSize)
	case c.LastPage < 0:
		return fmt.Errorf("%w: negative page index %d", ErrInvalidCheckpoint, c.LastPage)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	if c.Gaps != nil {
		out.Gaps = append([]int(nil), c.Gaps...)
	}
	return &out
}

// Store persists checkpoints keyed by collection.
type Store interface {
	// Load returns the checkpoint of a collection, or nil when none exists.
	Load(ctx context.Context, collection string) (*Checkpoint, error)

	// Save atomically replaces the checkpoint of cp.Collection. It fails
	// with ErrOffsetRegression if cp would move the offset backwards.
	Save(ctx context.Context, cp Checkpoint) error

	// Delete removes the checkpoint of a collection. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, collection string) error

	// List returns every checkpoint sorted by collection.
	List(ctx context.Context) ([]Checkpoint, error)
}

// record is the stored form of a Checkpoint.
type record struct {
	LastFetchedPage int     `json:"last_fetched_page"`
	LastOffset      int     `json:"last_offset"`
	PageSize        int     `json:"page_size"`
	LastUpdated     float64 `json:"last_updated"`
	Gaps            []int   `json:"gaps,omitempty"`
}

func toRecord(cp Checkpoint) record {
	return record{
		LastFetchedPage: cp.LastPage,
		LastOffset:      cp.LastOffset,
		PageSize:        cp.PageSize,
		LastUpdated:     float64(cp.UpdatedAt.Unix()) + float64(cp.UpdatedAt.Nanosecond())/float64(time.Second),
		Gaps:            cp.Gaps,
	}
}

func (r record) checkpoint(collection string) Checkpoint {
	sec, frac := math.Modf(r.LastUpdated)
	return Checkpoint{
		Collection: collection,
		LastPage:   r.LastFetchedPage,
		LastOffset: r.LastOffset,
		PageSize:   r.PageSize,
		UpdatedAt:  time.Unix(int64(sec), int64(frac*float64(time.Second))),
		Gaps:       r.Gaps,
	}
}

func decodeRecord(collection string, data []byte) (*Checkpoint, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	cp := r.checkpoint(collection)
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// checkAdvance rejects saves that move the committed offset backwards.
func checkAdvance(current *Checkpoint, next Checkpoint) error {
	if current != nil && next.LastOffset < current.LastOffset {
		return fmt.Errorf("%w: %s from %d to %d", ErrOffsetRegression, next.Collection, current.LastOffset, next.LastOffset)
	}
	return nil
}

// stamp fills UpdatedAt when the caller left it zero.
func stamp(cp Checkpoint) Checkpoint {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	return cp
}

func sortCheckpoints(cps []Checkpoint) {
	sort.Slice(cps, func(i, j int) bool { return cps[i].Collection < cps[j].Collection })
}
