package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/updatr/internal/activity"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	log := activity.New(0)
	first := log.Add("pull", "Pulled 3 commits", "")
	second := log.Add("installer", "setup install-files failed, retried with install", "exit 1")

	for _, e := range []activity.Entry{first, second} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send entry: %v", err)
		}
	}
	// duplicate ids are ignored
	if err := sink.Send(ctx, first); err != nil {
		t.Fatalf("Duplicate send should be a no-op: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_history").Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 rows, got %d", count)
	}

	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != second.ID {
		t.Fatalf("Expected newest first, got %+v", recent)
	}
	if recent[0].Detail != "exit 1" || recent[1].Detail != "" {
		t.Fatalf("Unexpected details: %+v", recent)
	}
	if d := recent[1].Time.Sub(first.Time); d > time.Second || d < -time.Second {
		t.Fatalf("Timestamp not preserved: %v vs %v", recent[1].Time, first.Time)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_AsExporter(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()

	log := activity.New(0)
	log.SetExporter(sink)
	log.Add("status", "3 behind", "")

	recent, err := sink.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Event != "status" {
		t.Fatalf("export did not reach the sink: %+v", recent)
	}
}
