package layer

import (
	"fmt"

	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/wire"
)

// FrameLayer is layer 1. It turns socket chunks into typed frames.
type FrameLayer interface {
	Decoder() *pipe.ProcessingPipe[[]byte, wire.InboundL1Message]
	Encoder() *pipe.ProcessingPipe[wire.OutboundL2Message, []byte]
}

// CspFrameLayer passes CSP bytes through unchanged. Framing on the TCP stream
// is done by the socket.
type CspFrameLayer struct {
	decoder *pipe.ProcessingPipe[[]byte, wire.InboundL1Message]
	encoder *pipe.ProcessingPipe[wire.OutboundL2Message, []byte]
}

// NewCspFrameLayer creates the frame layer of a CSP-only connection.
func NewCspFrameLayer() *CspFrameLayer {
	return &CspFrameLayer{
		decoder: pipe.NewMappingPipe(func(data []byte) (wire.InboundL1Message, error) {
			return wire.CspData{Bytes: data}, nil
		}),
		encoder: pipe.NewMappingPipe(func(msg wire.OutboundL2Message) ([]byte, error) {
			data, ok := msg.(wire.CspData)
			if !ok {
				return nil, fmt.Errorf("%w: csp frame layer cannot encode %T", wire.ErrUnexpectedType, msg)
			}
			return data.Bytes, nil
		}),
	}
}

// Decoder implements FrameLayer.
func (l *CspFrameLayer) Decoder() *pipe.ProcessingPipe[[]byte, wire.InboundL1Message] {
	return l.decoder
}

// Encoder implements FrameLayer.
func (l *CspFrameLayer) Encoder() *pipe.ProcessingPipe[wire.OutboundL2Message, []byte] {
	return l.encoder
}

// D2mFrameLayer splits WebSocket messages into D2M containers.
type D2mFrameLayer struct {
	decoder *pipe.ProcessingPipe[[]byte, wire.InboundL1Message]
	encoder *pipe.ProcessingPipe[wire.OutboundL2Message, []byte]
}

// NewD2mFrameLayer creates the frame layer of a multi-device connection.
func NewD2mFrameLayer() *D2mFrameLayer {
	return &D2mFrameLayer{
		decoder: pipe.NewMappingPipe(func(data []byte) (wire.InboundL1Message, error) {
			return wire.DecodeD2mFrame(data)
		}),
		encoder: pipe.NewMappingPipe(func(msg wire.OutboundL2Message) ([]byte, error) {
			container, ok := msg.(wire.D2mContainer)
			if !ok {
				return nil, fmt.Errorf("%w: d2m frame layer cannot encode %T", wire.ErrUnexpectedType, msg)
			}
			if size := wire.D2mHeaderLength + len(container.Payload); size > wire.D2mFrameMaxLength {
				return nil, fmt.Errorf("%w: d2m frame %d > %d", wire.ErrSize, size, wire.D2mFrameMaxLength)
			}
			return container.Bytes(), nil
		}),
	}
}

// Decoder implements FrameLayer.
func (l *D2mFrameLayer) Decoder() *pipe.ProcessingPipe[[]byte, wire.InboundL1Message] {
	return l.decoder
}

// Encoder implements FrameLayer.
func (l *D2mFrameLayer) Encoder() *pipe.ProcessingPipe[wire.OutboundL2Message, []byte] {
	return l.encoder
}

var (
	_ FrameLayer = (*CspFrameLayer)(nil)
	_ FrameLayer = (*D2mFrameLayer)(nil)
)
