// Package activity keeps the in-memory, append-only record of what the
// updater did during this session.
package activity

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is one activity record.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail,omitempty"`
}

// Exporter receives a copy of every entry. Export failures are logged only.
type Exporter interface {
	Send(ctx context.Context, e Entry) error
}

// Log is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	max      int
	entropy  *ulid.MonotonicEntropy
	exporter Exporter
	logger   *slog.Logger
}

// New returns a Log keeping at most max entries; max <= 0 keeps everything.
func New(max int) *Log {
	return &Log{
		max:     max,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:  slog.Default(),
	}
}

// SetExporter installs an exporter for entries added from now on.
func (l *Log) SetExporter(x Exporter) {
	l.mu.Lock()
	l.exporter = x
	l.mu.Unlock()
}

// SetLogger replaces the logger used for export failures.
func (l *Log) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Add appends an entry stamped with the current time and returns it.
func (l *Log) Add(event, summary, detail string) Entry {
	now := time.Now()
	l.mu.Lock()
	e := Entry{
		ID:      ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Time:    now,
		Event:   event,
		Summary: summary,
		Detail:  detail,
	}
	l.entries = append(l.entries, e)
	if l.max > 0 && len(l.entries) > l.max {
		drop := len(l.entries) - l.max
		l.entries = append(l.entries[:0:0], l.entries[drop:]...)
	}
	x, logger := l.exporter, l.logger
	l.mu.Unlock()

	if x != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := x.Send(ctx, e); err != nil {
			logger.Warn("activity export failed", "event", event, "error", err)
		}
		cancel()
	}
	return e
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns entries whose ID sorts after id. An unknown id returns everything.
func (l *Log) Since(id string) []Entry {
	all := l.Entries()
	for i, e := range all {
		if e.ID == id {
			return all[i+1:]
		}
	}
	return all
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
