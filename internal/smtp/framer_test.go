package smtp

import (
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestLineFramer_SplitDelimiter(t *testing.T) {
	f := NewLineFramer()

	if got := f.Extract([]byte("A\r")); len(got) != 0 {
		t.Fatalf("expected no lines after \"A\\r\", got %q", got)
	}
	if got := f.Extract([]byte("\nB\r")); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("expected [A], got %q", got)
	}
	if got := f.Extract([]byte("\n")); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("expected [B], got %q", got)
	}
	if f.Pending() != 0 {
		t.Errorf("expected empty pending buffer, got %d bytes", f.Pending())
	}
}

func TestLineFramer_MultipleLinesInOneChunk(t *testing.T) {
	f := NewLineFramer()

	got := f.Extract([]byte("HELO a\r\nMAIL FROM:<b>\r\nRCPT"))
	want := []string{"HELO a", "MAIL FROM:<b>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if f.Pending() != len("RCPT") {
		t.Errorf("expected partial line to stay pending, got %d bytes", f.Pending())
	}
	if rest := string(f.Drain()); rest != "RCPT" {
		t.Errorf("Drain() = %q, want RCPT", rest)
	}
	if f.Pending() != 0 {
		t.Errorf("Drain should clear pending")
	}
}

func TestLineFramer_BareLFIsNotADelimiter(t *testing.T) {
	f := NewLineFramer()

	if got := f.Extract([]byte("A\nB\r\n")); !reflect.DeepEqual(got, []string{"A\nB"}) {
		t.Fatalf("expected [\"A\\nB\"], got %q", got)
	}
}

func TestLineFramer_EmptyLines(t *testing.T) {
	f := NewLineFramer()

	if got := f.Extract([]byte("\r\n\r\n")); !reflect.DeepEqual(got, []string{"", ""}) {
		t.Fatalf("expected two empty lines, got %q", got)
	}
}

// TestProperty_ChunkIndependence checks that any split of the same input
// produces the same lines and leaves the same remainder.
func TestProperty_ChunkIndependence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOf(rapid.SampledFrom([]string{
			"HELO", "x", " ", "\r", "\n", "\r\n", ".", "MAIL FROM:<a@b>",
		})).Draw(t, "parts")
		input := strings.Join(parts, "")

		whole := NewLineFramer()
		wantLines := whole.Extract([]byte(input))
		wantRest := string(whole.Drain())

		chunked := NewLineFramer()
		var gotLines []string
		remaining := []byte(input)
		for len(remaining) > 0 {
			n := rapid.IntRange(1, len(remaining)).Draw(t, "chunk")
			gotLines = append(gotLines, chunked.Extract(remaining[:n])...)
			remaining = remaining[n:]
		}
		gotRest := string(chunked.Drain())

		if len(wantLines) == 0 {
			wantLines = nil
		}
		if !reflect.DeepEqual(gotLines, wantLines) {
			t.Fatalf("chunked lines %q differ from whole-input lines %q", gotLines, wantLines)
		}
		if gotRest != wantRest {
			t.Fatalf("chunked remainder %q differs from %q", gotRest, wantRest)
		}
		if strings.Join(append(gotLines, gotRest), "\r\n") != input {
			t.Fatalf("lines and remainder do not reassemble the input %q", input)
		}
	})
}
