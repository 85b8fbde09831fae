package tar

import (
	"context"
	"io"
	"testing"
)

type logicalItemSliceSource struct {
	items []LogicalItem
	i     int
}

func (s *logicalItemSliceSource) Next(ctx context.Context) (LogicalItem, error) {
	if s.i >= len(s.items) {
		return LogicalItem{}, io.EOF
	}
	it := s.items[s.i]
	s.i++
	return it, nil
}

func entryItem(e *LogicalEntry) LogicalItem { return LogicalItem{Kind: LogicalEntryItem, Entry: e} }
func logicalChunk(b []byte) LogicalItem     { return LogicalItem{Kind: LogicalChunkItem, Chunk: b} }

func TestNestedEntryStreamBasic(t *testing.T) {
	src := &logicalItemSliceSource{items: []LogicalItem{
		entryItem(&LogicalEntry{Path: []byte("a"), Size: 5}),
		logicalChunk([]byte("hello")),
		entryItem(&LogicalEntry{Path: []byte("b"), Size: 0}),
	}}
	n := NewNestedEntryStream(src)
	ctx := context.Background()

	h1, err := n.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(h1.Header.Path) != "a" {
		t.Fatalf("Path = %q", h1.Header.Path)
	}

	b, err := h1.Next(ctx)
	if err != nil || string(b) != "hello" {
		t.Fatalf("inner Next: %q, %v", b, err)
	}
	if _, err := h1.Next(ctx); err != io.EOF {
		t.Fatalf("inner Next after drain: got %v, want io.EOF", err)
	}

	h2, err := n.Next(ctx)
	if err != nil || string(h2.Header.Path) != "b" {
		t.Fatalf("second outer Next: %+v, %v", h2, err)
	}

	if _, err := n.Next(ctx); err != io.EOF {
		t.Fatalf("third outer Next: got %v, want io.EOF", err)
	}
}

func TestNestedEntryStreamEpochExclusion(t *testing.T) {
	src := &logicalItemSliceSource{items: []LogicalItem{
		entryItem(&LogicalEntry{Path: []byte("a"), Size: 3}),
		logicalChunk([]byte("abc")),
		entryItem(&LogicalEntry{Path: []byte("b"), Size: 0}),
	}}
	n := NewNestedEntryStream(src)
	ctx := context.Background()

	h1, _ := n.Next(ctx)
	if _, err := h1.Next(ctx); err != nil { // drain h1's payload first
		t.Fatalf("draining h1: %v", err)
	}
	if _, err := n.Next(ctx); err != nil {
		t.Fatalf("second outer Next: %v", err)
	}

	// h1 is now stale: its epoch no longer matches the shared position.
	if _, err := h1.Next(ctx); err != io.EOF {
		t.Fatalf("stale handle Next: got %v, want io.EOF", err)
	}
}

func TestNestedEntryStreamNotDrainedBlocksAdvance(t *testing.T) {
	src := &logicalItemSliceSource{items: []LogicalItem{
		entryItem(&LogicalEntry{Path: []byte("a"), Size: 3}),
		logicalChunk([]byte("abc")),
		entryItem(&LogicalEntry{Path: []byte("b"), Size: 0}),
	}}
	n := NewNestedEntryStream(src)
	ctx := context.Background()

	if _, err := n.Next(ctx); err != nil {
		t.Fatalf("first outer Next: %v", err)
	}
	if _, err := n.Next(ctx); err != ErrEntryNotDrained {
		t.Fatalf("got %v, want ErrEntryNotDrained", err)
	}
}

func TestNestedEntryStreamDropAllowsAdvance(t *testing.T) {
	src := &logicalItemSliceSource{items: []LogicalItem{
		entryItem(&LogicalEntry{Path: []byte("a"), Size: 3}),
		logicalChunk([]byte("abc")),
		entryItem(&LogicalEntry{Path: []byte("b"), Size: 0}),
	}}
	n := NewNestedEntryStream(src)
	ctx := context.Background()

	h1, _ := n.Next(ctx)
	h1.Drop()

	h2, err := n.Next(ctx)
	if err != nil || string(h2.Header.Path) != "b" {
		t.Fatalf("outer Next after drop: %+v, %v", h2, err)
	}
}

func TestNestedEntryStreamTruncatedPayloadFails(t *testing.T) {
	src := &logicalItemSliceSource{items: []LogicalItem{
		entryItem(&LogicalEntry{Path: []byte("a"), Size: 10}),
		logicalChunk([]byte("abc")),
	}}
	n := NewNestedEntryStream(src)
	ctx := context.Background()

	h1, _ := n.Next(ctx)
	if _, err := h1.Next(ctx); err != nil {
		t.Fatalf("first inner Next: %v", err)
	}
	if _, err := h1.Next(ctx); err != ErrUnexpectedEOF {
		t.Fatalf("got %v, want ErrUnexpectedEOF", err)
	}
}
