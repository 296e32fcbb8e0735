package p2p

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteFrameAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte(`{"kind":"ping"}`)); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}
	if got, want := buf.String(), "{\"kind\":\"ping\"}\n"; got != want {
		t.Fatalf("expected frame %q, got %q", want, got)
	}
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrame+1)
	if err := writeFrame(&buf, oversized); err == nil {
		t.Fatal("expected writeFrame to reject a payload larger than MaxFrame")
	}
}

func TestNewFrameScannerSplitsMultipleLines(t *testing.T) {
	input := "{\"kind\":\"ping\"}\n{\"kind\":\"pong\"}\n"
	scanner := newFrameScanner(strings.NewReader(input))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != `{"kind":"ping"}` || lines[1] != `{"kind":"pong"}` {
		t.Fatalf("unexpected line contents: %v", lines)
	}
}

func TestNewFrameScannerRejectsOversizedLine(t *testing.T) {
	oversized := strings.Repeat("a", MaxFrame+100) + "\n"
	scanner := newFrameScanner(strings.NewReader(oversized))
	for scanner.Scan() {
		// drain
	}
	if err := scanner.Err(); err != bufio.ErrTooLong {
		t.Fatalf("expected bufio.ErrTooLong for an oversized frame, got %v", err)
	}
}

func TestIsExpectedStreamCloseError(t *testing.T) {
	if !isExpectedStreamCloseError(nil) {
		t.Fatal("expected nil error to be treated as an expected close")
	}
	if isExpectedStreamCloseError(errUnrelated{}) {
		t.Fatal("expected an unrelated error to not be treated as an expected close")
	}
	if !isExpectedStreamCloseError(errResetByPeer{}) {
		t.Fatal("expected a 'reset by peer' error to be treated as an expected close")
	}
}

type errUnrelated struct{}

func (errUnrelated) Error() string { return "something unrelated broke" }

type errResetByPeer struct{}

func (errResetByPeer) Error() string { return "connection reset by peer" }
