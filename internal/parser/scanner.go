package parser

import (
	"bufio"
	"io"
	"strings"
)

// MaxLineBytes caps how much of a single physical line is retained. Longer
// lines are truncated and flagged anomalous instead of growing memory
// without bound.
const MaxLineBytes = 64 * 1024

// LineScanner reads a byte stream line by line. Partial lines split across
// read buffers are assembled until a terminator arrives; a final unterminated
// line is still delivered at EOF.
type LineScanner struct {
	r         *bufio.Reader
	line      string
	truncated bool
	err       error
}

// NewLineScanner wraps r for line-at-a-time consumption.
func NewLineScanner(r io.Reader) *LineScanner {
	return &LineScanner{r: bufio.NewReader(r)}
}

// Scan advances to the next line. It returns false once the stream is
// exhausted or fails.
func (s *LineScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	s.line, s.truncated = "", false

	var b strings.Builder
	discarding := false
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(chunk) > 0 && !discarding {
			if remain := MaxLineBytes - b.Len(); len(chunk) > remain {
				b.Write(chunk[:remain])
				s.truncated = true
				discarding = true
			} else {
				b.Write(chunk)
			}
		}
		switch err {
		case bufio.ErrBufferFull:
			continue
		case nil:
			s.line = trimEOL(b.String())
			return true
		default:
			s.err = err
			if b.Len() == 0 {
				return false
			}
			s.line = trimEOL(b.String())
			return true
		}
	}
}

// Line returns the current line without its terminator and whether it was
// truncated at MaxLineBytes.
func (s *LineScanner) Line() (string, bool) {
	return s.line, s.truncated
}

// Err returns the first non-EOF error observed on the stream.
func (s *LineScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
