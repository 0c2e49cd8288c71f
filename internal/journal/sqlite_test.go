package journal

import (
	"context"
	"path/filepath"
	"testing"

	"llmrelay/internal/domain"
)

func openTestStorage(t *testing.T) (*SQLiteStorage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func appendText(t *testing.T, s Storage, streamID string, seq uint64, text string) {
	t.Helper()
	evt := domain.TextDeltaEvent(text)
	evt.Seq = seq
	if err := s.Append(context.Background(), streamID, Entry{Seq: seq, Event: evt}); err != nil {
		t.Fatalf("Append seq %d: %v", seq, err)
	}
}

func TestSQLiteStorageAppendReadFrom(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStorage(t)

	appendText(t, s, "s1", 1, "one")
	appendText(t, s, "s1", 2, "two")
	appendText(t, s, "s1", 3, "three")

	entries, err := s.ReadFrom(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after seq 1, got %d", len(entries))
	}
	if entries[0].Seq != 2 || entries[1].Seq != 3 {
		t.Errorf("seqs = %d, %d; want 2, 3", entries[0].Seq, entries[1].Seq)
	}
	if entries[0].Event.Text != "two" || entries[1].Event.Text != "three" {
		t.Errorf("texts = %q, %q", entries[0].Event.Text, entries[1].Event.Text)
	}

	highest, err := s.HighestCommitted(ctx, "s1")
	if err != nil {
		t.Fatalf("HighestCommitted: %v", err)
	}
	if highest != 3 {
		t.Errorf("highest = %d, want 3", highest)
	}
}

func TestSQLiteStorageEmptyStream(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStorage(t)

	highest, err := s.HighestCommitted(ctx, "missing")
	if err != nil {
		t.Fatalf("HighestCommitted: %v", err)
	}
	if highest != 0 {
		t.Errorf("highest = %d, want 0", highest)
	}
	last, err := s.LastDelivered(ctx, "missing")
	if err != nil {
		t.Fatalf("LastDelivered: %v", err)
	}
	if last != 0 {
		t.Errorf("last delivered = %d, want 0", last)
	}
	wm, err := s.Watermark(ctx, "missing")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm != 0 {
		t.Errorf("watermark = %d, want 0", wm)
	}
}

func TestSQLiteStorageWatermarkAccumulates(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStorage(t)

	appendText(t, s, "s1", 1, "Hello")
	appendText(t, s, "s1", 2, ", world")

	// Non-content events do not move the watermark.
	done := domain.DoneEvent("stop")
	done.Seq = 3
	if err := s.Append(ctx, "s1", Entry{Seq: 3, Event: done}); err != nil {
		t.Fatalf("Append done: %v", err)
	}

	wm, err := s.Watermark(ctx, "s1")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm != int64(len("Hello, world")) {
		t.Errorf("watermark = %d, want %d", wm, len("Hello, world"))
	}
}

func TestSQLiteStorageMarkDeliveredMonotonic(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStorage(t)

	appendText(t, s, "s1", 1, "a")
	if err := s.MarkDelivered(ctx, "s1", 5); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	// A stale cursor never moves the mark backwards.
	if err := s.MarkDelivered(ctx, "s1", 3); err != nil {
		t.Fatalf("MarkDelivered stale: %v", err)
	}

	last, err := s.LastDelivered(ctx, "s1")
	if err != nil {
		t.Fatalf("LastDelivered: %v", err)
	}
	if last != 5 {
		t.Errorf("last delivered = %d, want 5", last)
	}
}

func TestSQLiteStorageStreamsIsolated(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStorage(t)

	appendText(t, s, "a", 1, "aaaa")
	appendText(t, s, "b", 1, "bb")

	wmA, _ := s.Watermark(ctx, "a")
	wmB, _ := s.Watermark(ctx, "b")
	if wmA != 4 || wmB != 2 {
		t.Errorf("watermarks = %d, %d; want 4, 2", wmA, wmB)
	}

	entries, err := s.ReadFrom(ctx, "a", 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.Text != "aaaa" {
		t.Errorf("stream a entries = %+v", entries)
	}
}

func TestSQLiteStoragePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	s1, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	appendText(t, s1, "s1", 1, "durable")
	if err := s1.MarkDelivered(ctx, "s1", 1); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	entries, err := s2.ReadFrom(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.Text != "durable" {
		t.Fatalf("entries after reopen = %+v", entries)
	}
	last, _ := s2.LastDelivered(ctx, "s1")
	wm, _ := s2.Watermark(ctx, "s1")
	if last != 1 || wm != int64(len("durable")) {
		t.Errorf("cursor = %d, watermark = %d", last, wm)
	}
}

func TestMemoryStorageRejectsStaleSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	appendText(t, s, "s1", 1, "a")
	appendText(t, s, "s1", 2, "b")

	evt := domain.TextDeltaEvent("stale")
	evt.Seq = 2
	if err := s.Append(ctx, "s1", Entry{Seq: 2, Event: evt}); err == nil {
		t.Error("expected error appending a non-advancing sequence")
	}
}
