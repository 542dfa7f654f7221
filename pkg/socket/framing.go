package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Framing errors.
var (
	// ErrFrameTooLarge indicates a frame above wire.CspMaxFrameLength.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameEmpty indicates a zero length prefix.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// readStage is the position of a CSP stream in the login sequence.
type readStage uint8

const (
	stageServerHello readStage = iota
	stageLoginAck
	stageFrames
)

// FrameReader splits a CSP byte stream into chunks: the server hello and
// the login ack by their fixed size, everything after that by the 2-byte
// little-endian length prefix. Frames are returned without the prefix.
type FrameReader struct {
	r         io.Reader
	stage     readStage
	maxLength int
	lengthBuf [wire.LengthPrefixSize]byte

	connLog *log.ConnLogger
}

// NewFrameReader creates a reader positioned before the server hello.
func NewFrameReader(r io.Reader, connLog *log.ConnLogger) *FrameReader {
	return &FrameReader{
		r:         r,
		maxLength: wire.CspMaxFrameLength,
		connLog:   connLog,
	}
}

// ReadFrame reads the next chunk.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	switch fr.stage {
	case stageServerHello:
		data, err := fr.readFixed(csp.ServerHelloLength)
		if err == nil {
			fr.stage = stageLoginAck
		}
		return data, err
	case stageLoginAck:
		data, err := fr.readFixed(csp.LoginAckLength)
		if err == nil {
			fr.stage = stageFrames
		}
		return data, err
	default:
		return fr.readPrefixed()
	}
}

func (fr *FrameReader) readFixed(n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, truncated(err)
	}
	fr.connLog.Frame(log.DirectionIn, n, data)
	return data, nil
}

func (fr *FrameReader) readPrefixed() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		return nil, truncated(err)
	}
	length := int(binary.LittleEndian.Uint16(fr.lengthBuf[:]))
	if length == 0 {
		return nil, fmt.Errorf("%w: %w", wire.ErrSize, ErrFrameEmpty)
	}
	if length > fr.maxLength {
		return nil, fmt.Errorf("%w: %w: %d > %d", wire.ErrSize, ErrFrameTooLarge, length, fr.maxLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, truncated(err)
	}
	fr.connLog.Frame(log.DirectionIn, wire.LengthPrefixSize+length, payload)
	return payload, nil
}

func truncated(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFrameTruncated
	}
	return err
}

// FrameWriter writes pre-encoded CSP chunks. The multiplex layer has already
// added the length prefix to frames; login messages go out raw.
type FrameWriter struct {
	w  io.Writer
	mu sync.Mutex

	connLog *log.ConnLogger
}

// NewFrameWriter creates a writer.
func NewFrameWriter(w io.Writer, connLog *log.ConnLogger) *FrameWriter {
	return &FrameWriter{w: w, connLog: connLog}
}

// WriteFrame writes data in one call.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.connLog.Frame(log.DirectionOut, len(data), data)
	return nil
}
