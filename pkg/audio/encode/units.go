// ABOUTME: Unit queue writer used by codec back-ends
// ABOUTME: Collects library output and cuts it into stream units
package encode

import (
	"bytes"
)

// unitQueue is the io.Writer handed to codec libraries. In perWrite mode
// every Write call is one unit (the Ogg writer emits one page per call);
// otherwise bytes accumulate until cut.
type unitQueue struct {
	perWrite bool
	// split returns the header length of a per-write unit
	split func(p []byte) int

	buf   bytes.Buffer
	units []Unit
}

func (q *unitQueue) Write(p []byte) (int, error) {
	if !q.perWrite {
		return q.buf.Write(p)
	}

	data := make([]byte, len(p))
	copy(data, p)
	h := 0
	if q.split != nil {
		h = q.split(data)
	}
	q.units = append(q.units, Unit{Header: data[:h], Body: data[h:]})
	return len(p), nil
}

// WriteByte lets bit writers use the queue without a bufio wrapper
func (q *unitQueue) WriteByte(c byte) error {
	if q.perWrite {
		_, err := q.Write([]byte{c})
		return err
	}
	return q.buf.WriteByte(c)
}

// cut turns the accumulated bytes into one unit with a headerLen-byte header
func (q *unitQueue) cut(headerLen int) {
	if q.buf.Len() == 0 {
		return
	}
	data := make([]byte, q.buf.Len())
	copy(data, q.buf.Bytes())
	q.buf.Reset()
	if headerLen > len(data) {
		headerLen = len(data)
	}
	q.units = append(q.units, Unit{Header: data[:headerLen], Body: data[headerLen:]})
}

// take returns and clears the completed units
func (q *unitQueue) take() []Unit {
	units := q.units
	q.units = nil
	return units
}

// oggHeaderLen returns the page header size: 27 fixed bytes plus the segment table
func oggHeaderLen(page []byte) int {
	if len(page) < 27 || !bytes.HasPrefix(page, []byte("OggS")) {
		return 0
	}
	h := 27 + int(page[26])
	if h > len(page) {
		return len(page)
	}
	return h
}
