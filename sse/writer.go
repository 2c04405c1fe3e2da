package sse

import (
	"fmt"
	"net/http"
)

// Writer frames payloads as server-sent events onto an HTTP response and
// flushes after every frame so records reach the client immediately instead
// of sitting in transport buffers. Construct one per response with NewWriter.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter prepares w for event streaming: sets the SSE headers and returns
// a Writer. It fails when the underlying connection cannot flush, which means
// the transport cannot stream at all.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, f: f}, nil
}

// WriteData writes a bare data frame.
func (w *Writer) WriteData(data []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.f.Flush()
	return nil
}

// WriteEvent writes a named event frame.
func (w *Writer) WriteEvent(name string, data []byte) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.f.Flush()
	return nil
}

// WriteDone writes the terminating sentinel frame.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(DoneSentinel))
}
