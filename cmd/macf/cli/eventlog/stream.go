package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"
	"os"
)

// reverseBlockSize is the chunk size for the backward reader.
const reverseBlockSize = 32 * 1024

// Stream returns a restartable, constant-memory sequence of records in
// append order (or reverse append order). A missing file yields an empty
// sequence. Lines that fail JSON decode, and a trailing line not yet
// terminated by a newline, are skipped silently; readers never take the
// advisory lock.
func (l *Log) Stream(reverse bool) iter.Seq[Record] {
	if reverse {
		return l.streamReverse()
	}
	return l.streamForward()
}

func (l *Log) streamForward() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		f, err := os.Open(l.path) //nolint:gosec // path from resolver or test override
		if err != nil {
			return
		}
		defer f.Close() //nolint:errcheck // read-only

		r := bufio.NewReaderSize(f, 64*1024)
		var offset int64
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				// A final fragment without io.EOF cannot happen with
				// ReadBytes; a fragment with EOF is a partial tail line and
				// is skipped by design.
				if err == io.EOF {
					return
				}
				return
			}
			lineOffset := offset
			offset += int64(len(line))

			var e Event
			if json.Unmarshal(bytes.TrimRight(line, "\n"), &e) != nil {
				continue
			}
			if !yield(Record{Offset: lineOffset, Event: e}) {
				return
			}
		}
	}
}

// streamReverse walks the file from the end in fixed-size blocks, emitting
// complete lines newest-first.
func (l *Log) streamReverse() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		f, err := os.Open(l.path) //nolint:gosec // path from resolver or test override
		if err != nil {
			return
		}
		defer f.Close() //nolint:errcheck // read-only

		info, err := f.Stat()
		if err != nil {
			return
		}
		size := info.Size()
		if size == 0 {
			return
		}

		// carry holds the (possibly incomplete) first line of the block we
		// just read; it is completed by the preceding block.
		var carry []byte
		// Unless the file ends with a newline, the tail fragment is a
		// partial line and must not be emitted.
		tailPartial := true
		if b := make([]byte, 1); readAt(f, b, size-1) {
			tailPartial = b[0] != '\n'
		}

		pos := size
		emittedTail := false
		for pos > 0 {
			blockLen := int64(reverseBlockSize)
			if pos < blockLen {
				blockLen = pos
			}
			pos -= blockLen

			block := make([]byte, blockLen)
			if !readAt(f, block, pos) {
				return
			}
			buf := append(block, carry...) //nolint:gocritic // carry is consumed below

			// Everything before the first newline belongs to a line that
			// starts in an earlier block.
			first := bytes.IndexByte(buf, '\n')
			if first < 0 {
				carry = buf
				continue
			}
			carry = buf[:first]
			lines := buf[first+1:]

			if !emitLinesReverse(lines, pos+int64(first)+1, tailPartial && !emittedTail, yield) {
				return
			}
			emittedTail = true
		}

		// carry now holds the very first line of the file.
		if len(carry) > 0 && !(tailPartial && !emittedTail) {
			if !emitLine(carry, 0, yield) {
				return
			}
		}
	}
}

// emitLinesReverse yields the newline-separated lines in buf in reverse
// order. baseOffset is the file offset of buf[0]. When skipLast is set the
// final segment is a partial tail line and is dropped.
func emitLinesReverse(buf []byte, baseOffset int64, skipLast bool, yield func(Record) bool) bool {
	type span struct{ start, end int }
	var spans []span
	start := 0
	for i, b := range buf {
		if b == '\n' {
			spans = append(spans, span{start, i})
			start = i + 1
		}
	}
	if start < len(buf) && !skipLast {
		spans = append(spans, span{start, len(buf)})
	}
	for i := len(spans) - 1; i >= 0; i-- {
		if !emitLine(buf[spans[i].start:spans[i].end], baseOffset+int64(spans[i].start), yield) {
			return false
		}
	}
	return true
}

func emitLine(line []byte, offset int64, yield func(Record) bool) bool {
	if len(line) == 0 {
		return true
	}
	var e Event
	if json.Unmarshal(line, &e) != nil {
		return true
	}
	return yield(Record{Offset: offset, Event: e})
}

func readAt(f *os.File, buf []byte, off int64) bool {
	_, err := f.ReadAt(buf, off)
	return err == nil || err == io.EOF
}

// Integrity scans the whole file and reports total decodable events and
// skipped malformed lines. Used by doctor and `events stats`.
func (l *Log) Integrity() (events, malformed int, err error) {
	f, err := os.Open(l.path) //nolint:gosec // path from resolver or test override
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, readErr := r.ReadBytes('\n')
		if readErr == io.EOF && len(line) > 0 {
			// Partial tail line: neither an event nor corruption.
			return events, malformed, nil
		}
		if readErr != nil {
			return events, malformed, nil
		}
		var e Event
		if json.Unmarshal(bytes.TrimRight(line, "\n"), &e) != nil {
			malformed++
			continue
		}
		events++
	}
}
