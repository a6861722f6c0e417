package dispatch

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// DefaultHistoryCap is the number of records kept in memory.
const DefaultHistoryCap = 50

// History is a bounded FIFO of command records. The oldest record is
// evicted once the capacity is reached.
type History struct {
	mu      sync.Mutex
	cap     int
	records []domain.CommandRecord
	entropy io.Reader
}

// NewHistory creates a history holding at most capacity records.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{
		cap:     capacity,
		records: make([]domain.CommandRecord, 0, capacity),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID returns a time-ordered id for a record created at t.
func (h *History) NewID(t time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), h.entropy)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

// Append adds rec, evicting the oldest record when full.
func (h *History) Append(rec domain.CommandRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.cap {
		copy(h.records, h.records[1:])
		h.records = h.records[:h.cap-1]
	}
	h.records = append(h.records, rec)
}

// Records returns a copy, oldest first.
func (h *History) Records() []domain.CommandRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.CommandRecord(nil), h.records...)
}

// Last returns the most recent record.
func (h *History) Last() (domain.CommandRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return domain.CommandRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// Len returns the number of records held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
