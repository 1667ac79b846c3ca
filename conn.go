package rtmp

import (
	"bufio"
	"io"
	"sync/atomic"
)

// countingReader reads from a buffered connection and counts the bytes handed out.
type countingReader struct {
	r *bufio.Reader
	n atomic.Uint64
}

func newCountingReader(r io.Reader, size int) *countingReader {
	return &countingReader{r: bufio.NewReaderSize(r, size)}
}

// Read returns whatever is buffered or arrives next, up to len(p) bytes. It never waits for p to fill up, chunks are
// reassembled from partial reads.
func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n.Add(uint64(n))
	return n, err
}

func (r *countingReader) Count() uint64 {
	return r.n.Load()
}

// bufferedWriter collects writes to a connection until Flush and counts the bytes accepted.
type bufferedWriter struct {
	w *bufio.Writer
	n atomic.Uint64
}

func newBufferedWriter(w io.Writer, size int) *bufferedWriter {
	return &bufferedWriter{w: bufio.NewWriterSize(w, size)}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n.Add(uint64(n))
	return n, err
}

func (w *bufferedWriter) Flush() error {
	return w.w.Flush()
}

func (w *bufferedWriter) Count() uint64 {
	return w.n.Load()
}
