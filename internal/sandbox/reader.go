package sandbox

import (
	"strconv"
	"strings"
)

// lineReader is the standard-input surrogate shared by the runtimes.
type lineReader struct {
	data string
	pos  int
}

func newLineReader(data string) *lineReader {
	return &lineReader{data: strings.ReplaceAll(data, "\r\n", "\n")}
}

func (r *lineReader) line() (string, bool) {
	if r.pos >= len(r.data) {
		return "", false
	}
	rest := r.data[r.pos:]
	idx := strings.IndexByte(rest, '\n')
	if idx < 0 {
		r.pos = len(r.data)
		return rest, true
	}
	r.pos += idx + 1
	return rest[:idx], true
}

func (r *lineReader) number() (float64, bool) {
	for r.pos < len(r.data) && isSpace(r.data[r.pos]) {
		r.pos++
	}
	start := r.pos
	for r.pos < len(r.data) && strings.IndexByte("+-.0123456789eExXabcdefABCDEF", r.data[r.pos]) >= 0 {
		r.pos++
	}
	if start == r.pos {
		return 0, false
	}
	token := r.data[start:r.pos]
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, true
	}
	if i, err := strconv.ParseInt(token, 0, 64); err == nil {
		return float64(i), true
	}
	return 0, false
}

func (r *lineReader) all() string {
	rest := r.data[r.pos:]
	r.pos = len(r.data)
	return rest
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
