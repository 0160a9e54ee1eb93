// ABOUTME: SSE sink that encodes chunks onto an io.Writer and flushes each frame
// ABOUTME: Used by the HTTP chat handler as the coordinator's output sink

package stream

import (
	"fmt"
	"io"
	"net/http"
)

// Writer writes encoded chunks to an underlying writer. It is not safe for
// concurrent use; the coordinator guarantees a single caller.
type Writer struct {
	w     io.Writer
	flush func()
	sent  int
}

// NewWriter wraps w. If w is an http.Flusher every frame is flushed.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		sw.flush = f.Flush
	}
	return sw
}

// Send encodes and writes one chunk.
func (sw *Writer) Send(c Chunk) error {
	frame, err := Encode(c)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", c.Kind, err)
	}
	sw.flush()
	sw.sent++
	return nil
}

// Sent reports how many frames were written.
func (sw *Writer) Sent() int { return sw.sent }
