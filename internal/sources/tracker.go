package sources

import (
	"context"
	"log/slog"
	"sync"
)

// Tracker keeps one record per HXL tag in first-seen order. A tag seen again
// keeps its original record unless the caller asks to overwrite, in which
// case the record is replaced in place.
type Tracker struct {
	mu        sync.Mutex
	records   []Record
	index     map[string]int
	overwrite bool
	logger    *slog.Logger
}

// NewTracker creates a tracker. defaultOverwrite applies when Add is called
// with a nil overwrite flag.
func NewTracker(defaultOverwrite bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		index:     make(map[string]int),
		overwrite: defaultOverwrite,
		logger:    logger,
	}
}

// Add records rec. It reports whether the tracker changed.
func (t *Tracker) Add(ctx context.Context, rec Record, overwrite *bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	should := t.overwrite
	if overwrite != nil {
		should = *overwrite
	}

	i, exists := t.index[rec.HXLTag]
	if !exists {
		t.index[rec.HXLTag] = len(t.records)
		t.records = append(t.records, rec)
		return true
	}
	if should {
		t.logger.WarnContext(ctx, "source_overwritten", slog.String("hxltag", rec.HXLTag))
		t.records[i] = rec
		return true
	}
	if t.records[i] != rec {
		t.logger.WarnContext(ctx, "source_kept_existing", slog.String("hxltag", rec.HXLTag))
	}
	return false
}

// AddAll adds records in order.
func (t *Tracker) AddAll(ctx context.Context, recs []Record, overwrite *bool) {
	for _, rec := range recs {
		t.Add(ctx, rec, overwrite)
	}
}

// Lookup returns the record for tag.
func (t *Tracker) Lookup(tag string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[tag]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}

// Records returns a copy of the records in canonical order.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of distinct tags.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
