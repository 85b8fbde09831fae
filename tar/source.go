package tar

import (
	"context"
	"io"
)

// ChunkSource is the byte-source contract the decoder consumes: a pull-style
// sequence of opaque, non-empty byte slices with no size relationship to the
// 512-byte tar block size. Next returns io.EOF (wrapped or bare, checked with
// errors.Is) once no more bytes are available; any other error is reported to
// the caller as an *UpstreamError.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChunkSourceFunc adapts a function to a ChunkSource.
type ChunkSourceFunc func(ctx context.Context) ([]byte, error)

func (f ChunkSourceFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// FromReader returns a ChunkSource that reads bufSize-byte chunks from r. The
// final chunk from r may be shorter than bufSize; that is a normal, expected
// byte-source behavior the decoder must tolerate regardless of chunk size.
func FromReader(r io.Reader, bufSize int) ChunkSource {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		buf := make([]byte, bufSize)
		n, err := r.Read(buf)
		if n > 0 {
			// A Read that returns both n>0 and an error (including io.EOF) must
			// still have its bytes delivered; the error surfaces on the next call.
			return buf[:n], nil
		}
		return nil, err
	})
}
