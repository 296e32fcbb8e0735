package p2p

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxFrame bounds a single newline-delimited JSON message, matching
// spec §4.9's MAX_FRAME. A frame exceeding this closes the peer.
const MaxFrame = 4 << 20

// writeFrame writes one JSON-encoded line terminated by a single
// newline byte.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrame {
		return fmt.Errorf("frame too large: %d > %d", len(data), MaxFrame)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

// newFrameScanner returns a bufio.Scanner configured to split on
// newlines with a buffer large enough for MaxFrame, so an oversized
// line surfaces as a scan error rather than silently truncating.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), MaxFrame+1)
	return scanner
}

// isExpectedStreamCloseError returns true for close/reset errors that are common
// when the remote peer already hung up (disconnects, restarts, conn manager, etc).
// These are noisy and not actionable for normal operators, so callers can suppress
// console logging for them.
func isExpectedStreamCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}

	// libp2p often wraps these as plain errors with descriptive text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "stream reset"),
		strings.Contains(msg, "connection closed"),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "reset by peer"):
		return true
	default:
		return false
	}
}
