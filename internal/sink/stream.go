package sink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/smazurov/foveanode/internal/encoder"
)

// StreamWriter writes each frame as a little-endian u32 length followed by
// the frame bytes.
type StreamWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	frames int
	bytes  int64
}

// NewStreamWriter wraps w. If w is an io.Closer it is closed by Close.
func NewStreamWriter(w io.Writer) *StreamWriter {
	s := &StreamWriter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// WriteFrame implements Sink. Each frame is flushed before returning.
func (s *StreamWriter) WriteFrame(f *encoder.EncodedFrame) error {
	if len(f.Data) > math.MaxUint32 {
		return fmt.Errorf("frame of %d bytes exceeds record limit", len(f.Data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(f.Data)))
	if _, err := s.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(f.Data); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.frames++
	s.bytes += int64(len(hdr) + len(f.Data))
	return nil
}

// Frames returns the number of frames written.
func (s *StreamWriter) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Bytes returns the number of bytes written including record headers.
func (s *StreamWriter) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Close flushes and closes the underlying writer.
func (s *StreamWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

// RecordReader reads frames written by StreamWriter.
type RecordReader struct {
	r *bufio.Reader
}

// NewRecordReader wraps r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns the next frame's bytes, or io.EOF at a clean end of stream.
// A truncated record returns io.ErrUnexpectedEOF.
func (r *RecordReader) Next() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
