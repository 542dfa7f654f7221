package layer

import (
	"fmt"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/wire"
)

// MultiplexLayer is layer 2. It separates CSP login messages from CSP frames
// and, in multi-device mode, unwraps PROXY containers and decodes D2M
// messages.
type MultiplexLayer struct {
	session     csp.SessionState
	multiDevice bool
	connLog     *log.ConnLogger

	decoder *pipe.ProcessingPipe[wire.InboundL1Message, wire.InboundL2Message]
	encoder *pipe.ProcessingPipe[wire.OutboundL3Message, wire.OutboundL2Message]
}

// NewMultiplexLayer creates the multiplex layer. session decides whether
// inbound CSP bytes are still part of the login.
func NewMultiplexLayer(session csp.SessionState, multiDevice bool, connLog *log.ConnLogger) *MultiplexLayer {
	l := &MultiplexLayer{
		session:     session,
		multiDevice: multiDevice,
		connLog:     connLog,
	}
	l.decoder = pipe.NewProcessingPipe(l.decode)
	l.encoder = pipe.NewProcessingPipe(l.encode)
	return l
}

// Decoder returns the inbound processor.
func (l *MultiplexLayer) Decoder() *pipe.ProcessingPipe[wire.InboundL1Message, wire.InboundL2Message] {
	return l.decoder
}

// Encoder returns the outbound processor.
func (l *MultiplexLayer) Encoder() *pipe.ProcessingPipe[wire.OutboundL3Message, wire.OutboundL2Message] {
	return l.encoder
}

func (l *MultiplexLayer) decode(msg wire.InboundL1Message, out pipe.InputPipe[wire.InboundL2Message]) error {
	switch m := msg.(type) {
	case wire.CspData:
		if l.multiDevice {
			return fmt.Errorf("%w: raw csp data in multi-device mode", wire.ErrUnexpectedType)
		}
		return out.Send(l.classify(m.Bytes))

	case wire.D2mContainer:
		if !l.multiDevice {
			return fmt.Errorf("%w: d2m container in csp mode", wire.ErrUnexpectedType)
		}
		if m.PayloadType == wire.D2mProxy {
			data, err := wire.DecodeProxyPayload(m.Payload)
			if err != nil {
				return err
			}
			return out.Send(l.classify(data))
		}
		decoded, err := wire.DecodeD2mContainer(m)
		if err != nil {
			return err
		}
		l.connLog.Message(log.DirectionIn, log.LayerMultiplex, uint8(m.PayloadType), m.PayloadType.String(), len(m.Payload))
		return out.Send(decoded)

	default:
		return fmt.Errorf("%w: multiplex layer cannot decode %T", wire.ErrUnexpectedType, msg)
	}
}

func (l *MultiplexLayer) classify(data []byte) wire.InboundL2Message {
	if l.session.IsLoginDone() {
		return wire.CspFrame{Box: data}
	}
	return wire.CspLoginMessage{Bytes: data}
}

func (l *MultiplexLayer) encode(msg wire.OutboundL3Message, out pipe.InputPipe[wire.OutboundL2Message]) error {
	switch m := msg.(type) {
	case wire.CspLoginMessage:
		return l.sendCsp(m.Bytes, false, out)

	case wire.CspFrame:
		return l.sendCsp(m.Box, true, out)

	case wire.OutboundD2mMessage:
		if !l.multiDevice {
			return fmt.Errorf("%w: d2m message %s in csp mode", wire.ErrUnexpectedType, m.PayloadType())
		}
		container, err := m.ToContainer()
		if err != nil {
			return err
		}
		l.connLog.Message(log.DirectionOut, log.LayerMultiplex, uint8(container.PayloadType), container.PayloadType.String(), len(container.Payload))
		return out.Send(container)

	default:
		return fmt.Errorf("%w: multiplex layer cannot encode %T", wire.ErrUnexpectedType, msg)
	}
}

// sendCsp wraps CSP bytes for the wire. On TCP, frames carry a length prefix
// and login messages do not. In multi-device mode the PROXY length prefix
// serves both.
func (l *MultiplexLayer) sendCsp(data []byte, frame bool, out pipe.InputPipe[wire.OutboundL2Message]) error {
	if l.multiDevice {
		container, err := wire.NewProxyContainer(data)
		if err != nil {
			return err
		}
		return out.Send(container)
	}
	if !frame {
		return out.Send(wire.CspData{Bytes: data})
	}
	prefixed, err := wire.EncodeLengthPrefixed(data)
	if err != nil {
		return err
	}
	return out.Send(wire.CspData{Bytes: prefixed})
}
