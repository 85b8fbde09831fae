package tar

import (
	"context"
	"errors"
	"io"
)

// RawItemKind distinguishes the three shapes RawFramer can emit.
type RawItemKind int

const (
	RawHeader RawItemKind = iota
	RawEmptyHeader
	RawPayloadChunk
)

// RawItem is the tagged union RawFramer produces. Exactly one of Header or
// Chunk is meaningful, selected by Kind.
type RawItem struct {
	Kind   RawItemKind
	Header *TarHeader // valid when Kind == RawHeader
	Chunk  []byte     // valid when Kind == RawPayloadChunk; a sub-slice of an upstream chunk
}

// RawFramer chunk-stitches an arbitrary byte-chunk stream into 512-byte tar
// headers and payload chunks, silently absorbing the padding that rounds
// each entry's payload up to a block boundary. It is the sole owner of the
// upstream ChunkSource and of the small buffers needed to reassemble a
// header split across chunk boundaries.
type RawFramer struct {
	src ChunkSource

	hdrBuf []byte // accumulates a header across chunk boundaries; always < 512 bytes between calls
	tail   []byte // unconsumed remainder of the most recently read upstream chunk

	payloadRemaining int64 // bytes of declared payload not yet emitted
	paddingRemaining int64 // bytes of zero-padding not yet discarded
}

func NewRawFramer(src ChunkSource) *RawFramer {
	return &RawFramer{src: src, hdrBuf: make([]byte, 0, blockSize)}
}

// Next returns the next RawItem, io.EOF when the underlying source is
// exhausted at an entry boundary, or an error (*UpstreamError,
// *HeaderError, or ErrUnexpectedEOF) otherwise.
func (f *RawFramer) Next(ctx context.Context) (RawItem, error) {
	for {
		if f.payloadRemaining > 0 || f.paddingRemaining > 0 {
			item, done, err := f.stepPayload(ctx)
			if err != nil {
				return RawItem{}, err
			}
			if done {
				continue // pure padding consumed this step; nothing to emit yet
			}
			return item, nil
		}
		return f.stepHeader(ctx)
	}
}

// stepPayload consumes one slice's worth of the current entry's payload and
// padding. done is true when the slice was entirely padding, and the caller
// should loop for the next item instead of returning.
func (f *RawFramer) stepPayload(ctx context.Context) (item RawItem, done bool, err error) {
	slice, err := f.nextSlice(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return RawItem{}, false, ErrUnexpectedEOF
		}
		return RawItem{}, false, err
	}

	blockRemaining := f.payloadRemaining + f.paddingRemaining
	blockBytes := slice
	if int64(len(slice)) > blockRemaining {
		blockBytes = slice[:blockRemaining]
		f.tail = slice[blockRemaining:]
	}

	n := int64(len(blockBytes))
	payN := n
	if payN > f.payloadRemaining {
		payN = f.payloadRemaining
	}
	f.payloadRemaining -= payN
	f.paddingRemaining -= n - payN

	if payN == 0 {
		return RawItem{}, true, nil
	}
	return RawItem{Kind: RawPayloadChunk, Chunk: blockBytes[:payN]}, false, nil
}

// stepHeader assembles and decodes the next 512-byte header block.
func (f *RawFramer) stepHeader(ctx context.Context) (RawItem, error) {
	for len(f.hdrBuf) < blockSize {
		slice, err := f.nextSlice(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(f.hdrBuf) == 0 {
					return RawItem{}, io.EOF
				}
				return RawItem{}, ErrUnexpectedEOF
			}
			return RawItem{}, err
		}
		need := blockSize - len(f.hdrBuf)
		if len(slice) > need {
			f.hdrBuf = append(f.hdrBuf, slice[:need]...)
			f.tail = slice[need:]
		} else {
			f.hdrBuf = append(f.hdrBuf, slice...)
		}
	}

	var blk block
	copy(blk[:], f.hdrBuf)
	f.hdrBuf = f.hdrBuf[:0]

	h, err := readHeader(&blk)
	if err != nil {
		return RawItem{}, err
	}
	if h == nil {
		return RawItem{Kind: RawEmptyHeader}, nil
	}

	f.payloadRemaining = h.Size
	blockTotal := (h.Size + blockSize - 1) &^ (blockSize - 1)
	f.paddingRemaining = blockTotal - h.Size
	return RawItem{Kind: RawHeader, Header: h}, nil
}

// nextSlice returns the buffered tail if any, otherwise pulls a fresh chunk
// from upstream, wrapping any non-EOF error as *UpstreamError.
func (f *RawFramer) nextSlice(ctx context.Context) ([]byte, error) {
	if len(f.tail) > 0 {
		s := f.tail
		f.tail = nil
		return s, nil
	}
	b, err := f.src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &UpstreamError{Err: err}
	}
	return b, nil
}
