package journal

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage implements Storage in process memory. It carries no
// crash durability and exists for tests and ephemeral deployments.
type MemoryStorage struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

type memoryStream struct {
	entries       []Entry
	lastDelivered uint64
	watermark     int64
}

// NewMemoryStorage creates an empty in-memory journal storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{streams: make(map[string]*memoryStream)}
}

func (s *MemoryStorage) stream(streamID string) *memoryStream {
	st, ok := s.streams[streamID]
	if !ok {
		st = &memoryStream{}
		s.streams[streamID] = st
	}
	return st
}

// Append implements Storage.
func (s *MemoryStorage) Append(_ context.Context, streamID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(streamID)
	if n := len(st.entries); n > 0 && st.entries[n-1].Seq >= e.Seq {
		return fmt.Errorf("journal: append seq %d: already committed", e.Seq)
	}
	st.entries = append(st.entries, e)
	st.watermark += int64(e.Event.ContentLen())
	return nil
}

// ReadFrom implements Storage.
func (s *MemoryStorage) ReadFrom(_ context.Context, streamID string, fromSeq uint64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(streamID)
	var out []Entry
	for _, e := range st.entries {
		if e.Seq > fromSeq {
			e.Event.Seq = e.Seq
			out = append(out, e)
		}
	}
	return out, nil
}

// HighestCommitted implements Storage.
func (s *MemoryStorage) HighestCommitted(_ context.Context, streamID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(streamID)
	if n := len(st.entries); n > 0 {
		return st.entries[n-1].Seq, nil
	}
	return 0, nil
}

// MarkDelivered implements Storage.
func (s *MemoryStorage) MarkDelivered(_ context.Context, streamID string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(streamID)
	if seq > st.lastDelivered {
		st.lastDelivered = seq
	}
	return nil
}

// LastDelivered implements Storage.
func (s *MemoryStorage) LastDelivered(_ context.Context, streamID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream(streamID).lastDelivered, nil
}

// Watermark implements Storage.
func (s *MemoryStorage) Watermark(_ context.Context, streamID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream(streamID).watermark, nil
}

// Close implements Storage.
func (s *MemoryStorage) Close() error { return nil }

var _ Storage = (*MemoryStorage)(nil)
