// Package history exports activity entries to a relational database so they
// outlive the session. The in-memory activity log never reads them back.
package history

import (
	"context"

	"github.com/loykin/updatr/internal/activity"
)

// Table is the name of the export table in every backend.
const Table = "activity_history"

// Sink is a destination for activity entries.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e activity.Entry) error
	Close() error
}

// Reader lists previously exported entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]activity.Entry, error)
}
