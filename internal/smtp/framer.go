package smtp

import (
	"bytes"
)

var crlf = []byte("\r\n")

// LineFramer turns arbitrarily chunked input into CRLF-terminated lines.
// At most one partial line is held between calls. A LineFramer belongs to a
// single session and is not safe for concurrent use.
//
// The framer itself does not bound the pending fragment; the session checks
// Pending against its configured line cap after every delivery.
type LineFramer struct {
	pending []byte
}

// NewLineFramer creates an empty framer
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Extract appends chunk to the pending fragment and returns every line whose
// CRLF has now been seen, delimiter stripped, in arrival order. A CR at the
// end of a chunk stays pending until the next chunk shows whether LF follows.
func (f *LineFramer) Extract(chunk []byte) []string {
	// A delimiter can start at most one byte before the new data
	from := len(f.pending) - 1
	if from < 0 {
		from = 0
	}
	f.pending = append(f.pending, chunk...)

	var lines []string
	start := 0
	for {
		idx := bytes.Index(f.pending[from:], crlf)
		if idx < 0 {
			break
		}
		end := from + idx
		lines = append(lines, string(f.pending[start:end]))
		start = end + len(crlf)
		from = start
	}

	if start > 0 {
		f.pending = append([]byte(nil), f.pending[start:]...)
	}
	return lines
}

// Drain returns the pending fragment and clears it
func (f *LineFramer) Drain() []byte {
	rest := f.pending
	f.pending = nil
	return rest
}

// Pending returns the number of buffered bytes awaiting a delimiter
func (f *LineFramer) Pending() int {
	return len(f.pending)
}
