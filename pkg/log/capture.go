package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CaptureVersion is the version of the capture file format written by
// FileLogger.
const CaptureVersion = 1

const captureMagic = "servconn-capture"

// Capture file errors.
var (
	ErrNotCapture         = errors.New("not a servconn capture file")
	ErrUnsupportedVersion = errors.New("unsupported capture version")
	ErrIdentityMismatch   = errors.New("capture file belongs to another identity")
)

// FileHeader is the first item of every capture file.
type FileHeader struct {
	Magic   string    `cbor:"1,keyasint"`
	Version uint8     `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`

	// Identity is the Threema ID whose connections the file captures.
	// Appending events of another identity is refused.
	Identity string `cbor:"4,keyasint,omitempty"`

	// ClientInfo is the client info string sent in the CSP login.
	ClientInfo string `cbor:"5,keyasint,omitempty"`
}

func (h FileHeader) validate() error {
	if h.Magic != captureMagic {
		return ErrNotCapture
	}
	if h.Version != CaptureVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return nil
}

var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error
	captureEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCoreDeterministic,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture encoder mode: %v", err))
	}

	// Unknown keys are skipped so that newer event fields do not break old
	// readers.
	captureDecMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture decoder mode: %v", err))
	}
}

// FileLoggerConfig configures a FileLogger.
type FileLoggerConfig struct {
	// Path of the capture file. An existing capture file is appended to.
	Path string

	// Identity and ClientInfo are recorded in the header of a new file.
	Identity   string
	ClientInfo string
}

// FileLogger writes events to a capture file: a header followed by a
// CBOR sequence of events. It is safe for concurrent use.
//
// The first write error stops the logger, since anything written after it
// could not be decoded. Err and Close report it.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	enc     *cbor.Encoder
	header  FileHeader
	written int
	err     error
	closed  bool
}

// NewFileLogger opens the capture file. A new or empty file gets a header;
// an existing one must be a capture file of the same identity.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	header, err := prepareHeader(f, config)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileLogger{
		file:   f,
		enc:    captureEncMode.NewEncoder(f),
		header: header,
	}, nil
}

func prepareHeader(f *os.File, config FileLoggerConfig) (FileHeader, error) {
	info, err := f.Stat()
	if err != nil {
		return FileHeader{}, err
	}

	if info.Size() == 0 {
		header := FileHeader{
			Magic:      captureMagic,
			Version:    CaptureVersion,
			Created:    time.Now().UTC(),
			Identity:   config.Identity,
			ClientInfo: config.ClientInfo,
		}
		if err := captureEncMode.NewEncoder(f).Encode(header); err != nil {
			return FileHeader{}, fmt.Errorf("write capture header: %w", err)
		}
		return header, nil
	}

	header, err := readHeader(captureDecMode.NewDecoder(io.NewSectionReader(f, 0, info.Size())))
	if err != nil {
		return FileHeader{}, err
	}
	if config.Identity != "" && header.Identity != "" && header.Identity != config.Identity {
		return FileHeader{}, fmt.Errorf("%w: %s", ErrIdentityMismatch, header.Identity)
	}
	return header, nil
}

func readHeader(dec *cbor.Decoder) (FileHeader, error) {
	var header FileHeader
	if err := dec.Decode(&header); err != nil {
		if errors.Is(err, io.EOF) {
			return FileHeader{}, fmt.Errorf("%w: missing header", ErrNotCapture)
		}
		return FileHeader{}, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if err := header.validate(); err != nil {
		return FileHeader{}, err
	}
	return header, nil
}

// Log appends the event.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.err != nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.err = fmt.Errorf("write event: %w", err)
		return
	}
	l.written++
}

// Header returns the header of the capture file.
func (l *FileLogger) Header() FileHeader {
	return l.header
}

// Written returns the number of events written since the file was opened.
func (l *FileLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the write error that stopped the logger, if any.
func (l *FileLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the file. Later events are dropped. It returns the write
// error that stopped the logger, if any.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(l.err, l.file.Close())
}

var _ Logger = (*FileLogger)(nil)
