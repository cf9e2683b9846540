package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, "task-1", "general", EventTaskCreated, "", "PENDING", ""); err != nil {
		t.Fatalf("append created: %v", err)
	}
	if err := j.Append(ctx, "task-1", "general", EventTaskInProgress, "PENDING", "IN_PROGRESS", ""); err != nil {
		t.Fatalf("append in_progress: %v", err)
	}
	if err := j.Append(ctx, "task-1", "general", EventTaskCompleted, "IN_PROGRESS", "COMPLETED", `{"ok":true}`); err != nil {
		t.Fatalf("append completed: %v", err)
	}
	// Events for other tasks must not leak in.
	if err := j.Append(ctx, "task-2", "", EventTaskCreated, "", "PENDING", ""); err != nil {
		t.Fatalf("append other task: %v", err)
	}

	events, err := j.Recent(ctx, "task-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].EventType != EventTaskCreated {
		t.Fatalf("first event = %q, want %q", events[0].EventType, EventTaskCreated)
	}
	if events[2].StateTo != "COMPLETED" {
		t.Fatalf("last state_to = %q, want COMPLETED", events[2].StateTo)
	}
	if events[2].Detail != `{"ok":true}` {
		t.Fatalf("detail = %q, want result payload", events[2].Detail)
	}
}

func TestJournal_RecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, "task-1", "", EventTaskCreated, "", "PENDING", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := j.Recent(ctx, "task-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestJournal_RetentionKeepsRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, "task-1", "", EventTaskCreated, "", "PENDING", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A 30-day window must not purge an event created just now.
	purged, err := j.RunRetention(ctx, 30)
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged %d events, want 0", purged)
	}

	// Zero days disables retention entirely.
	if purged, err = j.RunRetention(ctx, 0); err != nil || purged != 0 {
		t.Fatalf("retention disabled: purged=%d err=%v", purged, err)
	}

	events, err := j.Recent(ctx, "task-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after retention, want 1", len(events))
	}
}

func TestJournal_AppendRedactsDetail(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, "task-1", "", EventTaskFailed, "IN_PROGRESS", "FAILED",
		"upstream rejected api_key: sk-abcdefghijklmnop1234"); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := j.Recent(ctx, "task-1", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Detail == "" || events[0].Detail == "upstream rejected api_key: sk-abcdefghijklmnop1234" {
		t.Fatalf("detail not redacted: %q", events[0].Detail)
	}
}
