package report

import (
	"bufio"
	"io"
	"strings"
)

// lineCursor yields physical lines without their terminator. Lines handed
// back through Unread are returned again, most recent first, so any exit
// path of a block scan can leave the cursor on the first line it did not
// classify.
type lineCursor struct {
	r      *bufio.Reader
	pushed []string
	line   int
}

func newLineCursor(r io.Reader) *lineCursor {
	return &lineCursor{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line, or io.EOF once the input is exhausted.
func (c *lineCursor) Next() (string, error) {
	if n := len(c.pushed); n > 0 {
		s := c.pushed[n-1]
		c.pushed = c.pushed[:n-1]
		c.line++
		return s, nil
	}

	s, err := c.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	c.line++
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

// Unread pushes a line back onto the cursor.
func (c *lineCursor) Unread(s string) {
	c.pushed = append(c.pushed, s)
	c.line--
}

// Line is the 1-based number of the last line returned by Next.
func (c *lineCursor) Line() int {
	return c.line
}

// UnreadAll pushes lines back so that Next returns them in order.
func (c *lineCursor) UnreadAll(lines []string) {
	for i := len(lines) - 1; i >= 0; i-- {
		c.Unread(lines[i])
	}
}

// maxJoinedLines bounds how far an open quote may pull in following lines.
const maxJoinedLines = 64

// Record returns the physical lines of the record that starts with first.
// Lines are joined only while a quoted field is open. A continuation line
// that satisfies stop is handed back and the record is reported incomplete,
// as it is when the input ends first. When the quote is still open after
// maxJoinedLines, every line but first is handed back.
func (c *lineCursor) Record(first string, stop func(string) bool) (lines []string, complete bool, err error) {
	lines = []string{first}
	if !inQuotedField(first, false) {
		return lines, true, nil
	}

	for len(lines) < maxJoinedLines {
		next, err := c.Next()
		if err == io.EOF {
			return lines, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if stop(next) {
			c.Unread(next)
			return lines, false, nil
		}
		lines = append(lines, next)
		if !inQuotedField(next, true) {
			return lines, true, nil
		}
	}

	c.UnreadAll(lines[1:])
	return lines[:1], false, nil
}

// inQuotedField reports whether line ends inside a quoted field, starting
// inside one when quoted is set. It follows encoding/csv with LazyQuotes:
// a field is quoted only when its first byte is a quote, "" is an escaped
// quote, and a quote followed by anything but a comma or the line end is a
// literal. A quote in the middle of an unquoted field never opens one.
func inQuotedField(line string, quoted bool) bool {
	i := 0
	for {
		if !quoted {
			if i < len(line) && line[i] == '"' {
				quoted = true
				i++
			} else {
				j := strings.IndexByte(line[i:], ',')
				if j < 0 {
					return false
				}
				i += j + 1
				continue
			}
		}

		j := strings.IndexByte(line[i:], '"')
		if j < 0 {
			return true
		}
		i += j + 1
		switch {
		case i == len(line):
			return false
		case line[i] == '"':
			i++
		case line[i] == ',':
			i++
			quoted = false
		}
	}
}
