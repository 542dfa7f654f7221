package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	// ConnectionID matches the attempt ID or a prefix of it, such as the
	// eight characters shown by servconn-log view.
	ConnectionID string

	Direction *Direction
	Layer     *Layer
	Category  *Category
	Protocol  *Protocol

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// Identity matches the Threema ID. A capture file recorded for another
	// identity yields no events at all.
	Identity string
}

// Match reports whether the event passes the filter.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && !strings.HasPrefix(event.ConnectionID, f.ConnectionID):
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Protocol != nil && event.Protocol != *f.Protocol:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	case f.Identity != "" && event.Identity != f.Identity:
		return false
	}
	return true
}

// excludes reports whether no event of a file with this header can match.
func (f Filter) excludes(header FileHeader) bool {
	return f.Identity != "" && header.Identity != "" && header.Identity != f.Identity
}

// Reader streams the events of a capture file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	header FileHeader
	filter Filter
	done   bool
}

// NewReader opens a capture file and validates its header.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and returns only events matching
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := captureDecMode.NewDecoder(f)
	header, err := readHeader(dec)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		file:   f,
		dec:    dec,
		header: header,
		filter: filter,
		done:   filter.excludes(header),
	}, nil
}

// Header returns the capture file header.
func (r *Reader) Header() FileHeader {
	return r.header
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A file cut off in the middle of an event yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	if r.done {
		return Event{}, io.EOF
	}
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
