package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	FrameTerminator       byte = '|'
	DefaultFrameChunkSize      = 512
	DefaultMaxFrameSize        = 4096
)

var (
	ErrFramingViolation  = errors.New("framing violation")
	ErrUnterminatedFrame = fmt.Errorf("%w: stream ended before frame terminator", ErrFramingViolation)
	ErrTrailingBytes     = fmt.Errorf("%w: unexpected bytes after frame terminator", ErrFramingViolation)
	ErrFrameTooLarge     = fmt.Errorf("%w: frame exceeds size limit", ErrFramingViolation)
	ErrFrameReaderUsed   = errors.New("frame reader already used")
)

// FrameReader assembles one terminator-delimited frame from a byte stream.
// Chunk boundaries of the underlying reader are unrelated to frame boundaries.
// A reader is single-use: construct a new one for every request.
type FrameReader struct {
	r         io.Reader
	chunkSize int
	maxSize   int
	buf       []byte
	used      bool
}

func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	return &FrameReader{
		r:         r,
		chunkSize: DefaultFrameChunkSize,
		maxSize:   maxSize,
	}
}

// ReadFrame blocks until the terminator is seen and returns the payload without it.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if f.used {
		return nil, ErrFrameReaderUsed
	}
	f.used = true
	defer func() { f.buf = nil }()

	chunk := make([]byte, f.chunkSize)
	for {
		n, err := f.r.Read(chunk)
		if n > 0 {
			payload, done, frameErr := f.consume(chunk[:n])
			if frameErr != nil {
				return nil, frameErr
			}
			if done {
				return payload, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w (%d bytes buffered)", ErrUnterminatedFrame, len(f.buf))
			}

			return nil, fmt.Errorf("read frame chunk: %w", err)
		}
		if n == 0 {
			// A zero-length read without an error means the peer went away.
			return nil, fmt.Errorf("%w (empty read, %d bytes buffered)", ErrUnterminatedFrame, len(f.buf))
		}
	}
}

// consume appends one chunk and scans only that chunk for the terminator.
func (f *FrameReader) consume(chunk []byte) ([]byte, bool, error) {
	idx := bytes.IndexByte(chunk, FrameTerminator)
	if idx < 0 {
		if len(f.buf)+len(chunk) > f.maxSize {
			return nil, false, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, f.maxSize)
		}
		f.buf = append(f.buf, chunk...)

		return nil, false, nil
	}
	if idx != len(chunk)-1 {
		return nil, false, fmt.Errorf("%w: %d trailing bytes", ErrTrailingBytes, len(chunk)-idx-1)
	}
	if len(f.buf)+idx > f.maxSize {
		return nil, false, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, f.maxSize)
	}

	payload := make([]byte, 0, len(f.buf)+idx)
	payload = append(payload, f.buf...)
	payload = append(payload, chunk[:idx]...)

	return payload, true, nil
}
