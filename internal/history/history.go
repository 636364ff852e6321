// Package history keeps an append-only record of completed scans and the
// safety verdict shown for each. The orchestrator never writes here; the
// caller appends once it has a result and a classification.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// Entry is one completed scan.
type Entry struct {
	JobID      string                    `json:"jobId"`
	Kind       string                    `json:"kind"`
	Title      string                    `json:"title"`
	Confidence int                       `json:"confidence"`
	Safety     scan.SafetyClassification `json:"safety"`
	ImageRef   string                    `json:"imageRef"`
	RecordedAt time.Time                 `json:"recordedAt"`

	Food *scan.FoodScanResult `json:"food,omitempty"`
	Menu *scan.MenuScanResult `json:"menu,omitempty"`
}

// Entry kinds.
const (
	KindFood = "food"
	KindMenu = "menu"
)

// NewEntry builds an entry from a result and its classification.
func NewEntry(result scan.Result, c scan.SafetyClassification, now time.Time) Entry {
	e := Entry{
		JobID:      result.ResultID(),
		Confidence: result.ResultConfidence(),
		Safety:     c,
		RecordedAt: now,
	}
	switch r := result.(type) {
	case *scan.FoodScanResult:
		e.Kind = KindFood
		e.Title = r.Name
		e.ImageRef = r.ImageRef
		e.Food = r
	case *scan.MenuScanResult:
		e.Kind = KindMenu
		e.Title = fmt.Sprintf("Menu with %d dishes", r.TotalDishes)
		e.ImageRef = r.ImageRef
		e.Menu = r
	}
	return e
}

// Result returns the stored result, or nil if the entry carries none.
func (e Entry) Result() scan.Result {
	switch {
	case e.Food != nil:
		return e.Food
	case e.Menu != nil:
		return e.Menu
	default:
		return nil
	}
}

// Log is an append-only scan history. Implementations are safe for
// concurrent use. Get returns (nil, nil) when the job is not recorded.
type Log interface {
	Append(ctx context.Context, e Entry) error
	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)
	Get(ctx context.Context, jobID string) (*Entry, error)
}

// MemoryLog keeps history in memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryLog) List(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.entries, limit), nil
}

func (m *MemoryLog) Get(ctx context.Context, jobID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findLatest(m.entries, jobID), nil
}

func newestFirst(entries []Entry, limit int) []Entry {
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}

func findLatest(entries []Entry, jobID string) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].JobID == jobID {
			e := entries[i]
			return &e
		}
	}
	return nil
}
