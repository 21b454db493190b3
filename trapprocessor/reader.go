package trapprocessor

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Document is one trap dump cut from a stream.
type Document struct {
	// ID numbers documents from 1 in stream order.
	ID   uint64
	Text string
	// Truncated is set when the document grew past the size limit. Text then
	// holds only the leading lines that fit.
	Truncated bool
}

// documentStart matches the first line of every trap dump.
var documentStart = regexp.MustCompile(`^\d{2}:\d{2}:\d{2} \d{4}/\d{2}/\d{2}\s+PDU INFO:`)

// Reader splits a stream of concatenated trap dumps into documents. A new
// document begins at every header line. Text before the first header forms
// a document of its own unless it is blank.
type Reader struct {
	r       *bufio.Reader
	maxSize int

	pending   strings.Builder
	truncated bool
	lastID    uint64
	done      bool
}

// NewReader creates a Reader that cuts documents of at most maxDocumentSize
// bytes from r.
func NewReader(r io.Reader, maxDocumentSize int) *Reader {
	return &Reader{
		r:       bufio.NewReader(r),
		maxSize: maxDocumentSize,
	}
}

// Next returns the next document, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Document, error) {
	for !r.done {
		line, long, err := r.readLine()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			return Document{}, err
		}

		if documentStart.MatchString(line) {
			doc, ok := r.flush()
			r.append(line, long)
			if ok {
				return doc, nil
			}
			continue
		}
		r.append(line, long)
	}

	if doc, ok := r.flush(); ok {
		return doc, nil
	}
	return Document{}, io.EOF
}

// readLine returns the next line without its terminator. A line longer than
// the size limit is cut and reported as long.
func (r *Reader) readLine() (line string, long bool, err error) {
	var b strings.Builder
	for {
		chunk, isPrefix, err := r.r.ReadLine()
		if err != nil {
			if b.Len() > 0 && errors.Is(err, io.EOF) {
				return b.String(), long, nil
			}
			return "", false, err
		}
		if b.Len()+len(chunk) <= r.maxSize {
			b.Write(chunk)
		} else {
			long = true
		}
		if !isPrefix {
			return b.String(), long, nil
		}
	}
}

func (r *Reader) append(line string, long bool) {
	if long || r.truncated || r.pending.Len()+len(line)+1 > r.maxSize {
		r.truncated = true
		return
	}
	r.pending.WriteString(line)
	r.pending.WriteByte('\n')
}

// flush hands out the pending document. Blank leftovers are discarded.
func (r *Reader) flush() (Document, bool) {
	text := r.pending.String()
	truncated := r.truncated
	r.pending.Reset()
	r.truncated = false

	if !truncated && strings.TrimSpace(text) == "" {
		return Document{}, false
	}

	r.lastID++
	return Document{ID: r.lastID, Text: text, Truncated: truncated}, true
}
