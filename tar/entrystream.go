package tar

import (
	"context"
	"errors"
	"io"
	"sync"
)

// logicalItemSource is the interface NestedEntryStream consumes; satisfied
// by *MetadataCoalescer, and by fakes in tests.
type logicalItemSource interface {
	Next(ctx context.Context) (LogicalItem, error)
}

// ErrEntryNotDrained is returned by the outer Next when the previous entry's
// handle still has unread payload. The caller must read the handle to
// completion or drop it before advancing.
var ErrEntryNotDrained = errors.New("tar: previous entry handle not drained or dropped")

// sharedState is the single mutually-exclusive handle the outer stream and
// every EntryHandle it hands out draw from. At most one entry's payload
// is ever "live" at a time; advancing the outer stream makes every
// previously issued handle inert.
type sharedState struct {
	mu sync.Mutex

	src       logicalItemSource
	position  uint64 // current entry epoch
	remaining int64  // bytes left in the current entry's payload, as last reported
	done      bool   // true once src has reported end-of-stream
}

// NestedEntryStream presents a MetadataCoalescer's output as a two-level
// pull sequence: an outer sequence of EntryHandle, each an inner sequence of
// payload bytes.
type NestedEntryStream struct {
	shared *sharedState
}

func NewNestedEntryStream(src logicalItemSource) *NestedEntryStream {
	return &NestedEntryStream{shared: &sharedState{src: src}}
}

// EntryHandle exposes one archive member's metadata and its payload as an
// inner byte sequence. A handle becomes inert (its Next returns io.EOF) as
// soon as the outer stream advances past it.
type EntryHandle struct {
	Header *LogicalEntry
	epoch  uint64
	shared *sharedState
}

// Next advances the outer stream to the next entry. It fails with
// ErrEntryNotDrained if the previous handle still has unread payload — the
// caller must drain or Drop it first.
func (n *NestedEntryStream) Next(ctx context.Context) (*EntryHandle, error) {
	s := n.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining > 0 {
		return nil, ErrEntryNotDrained
	}
	if s.done {
		return nil, io.EOF
	}

	for {
		item, err := s.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return nil, io.EOF
			}
			return nil, err
		}
		if item.Kind == LogicalChunkItem {
			continue // stray payload from a dropped handle; discard
		}

		s.position++
		s.remaining = item.Entry.Size
		return &EntryHandle{Header: item.Entry, epoch: s.position, shared: s}, nil
	}
}

// Next returns the next slice of this entry's payload, io.EOF once the
// entry's declared size has been fully delivered or once a later entry has
// superseded this handle, or *UpstreamError/ErrUnexpectedEOF/FormatError on
// failure.
func (h *EntryHandle) Next(ctx context.Context) ([]byte, error) {
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.epoch != s.position || s.remaining == 0 {
		return nil, io.EOF
	}

	item, err := s.src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}
	if item.Kind != LogicalChunkItem {
		return nil, ErrUnexpectedEOF
	}

	s.remaining -= int64(len(item.Chunk))
	return item.Chunk, nil
}

// Drop abandons the handle. Unread payload is not drained synchronously; it
// is discarded lazily by the outer stream's next Next call, inside the
// mutual-exclusion region.
func (h *EntryHandle) Drop() {
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.epoch == s.position {
		s.remaining = 0
	}
}
