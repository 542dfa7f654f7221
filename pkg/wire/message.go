package wire

import "fmt"

// Inbound families, from the socket upwards.
type (
	// InboundL1Message is produced by the frame layer.
	InboundL1Message interface{ isInboundL1() }

	// InboundL2Message is produced by the multiplex layer.
	InboundL2Message interface{ isInboundL2() }

	// InboundL3Message is produced by the auth layer.
	InboundL3Message interface{ isInboundL3() }

	// InboundL4Message is produced by the monitoring layer and handed to the
	// task manager.
	InboundL4Message interface{ isInboundL4() }
)

// Outbound families, from the task manager downwards.
type (
	// OutboundL5Message is accepted by the end-to-end layer.
	OutboundL5Message interface{ isOutboundL5() }

	// OutboundL4Message is produced by the end-to-end and monitoring layers.
	OutboundL4Message interface{ isOutboundL4() }

	// OutboundL3Message is produced by the auth layer.
	OutboundL3Message interface{ isOutboundL3() }

	// OutboundL2Message is produced by the multiplex layer.
	OutboundL2Message interface{ isOutboundL2() }
)

// InboundMessage is what the task manager receives.
type InboundMessage = InboundL4Message

// OutboundMessage is what the task manager sends.
type OutboundMessage = OutboundL5Message

// CspData is an opaque chunk of CSP bytes.
type CspData struct {
	Bytes []byte
}

func (CspData) isInboundL1()  {}
func (CspData) isOutboundL2() {}

// D2mContainer is a D2M frame split into payload type and payload.
type D2mContainer struct {
	PayloadType D2mPayloadType
	Payload     []byte
}

func (D2mContainer) isInboundL1()  {}
func (D2mContainer) isOutboundL2() {}

// CspLoginMessage is a handshake message exchanged before login completed.
type CspLoginMessage struct {
	Bytes []byte
}

func (CspLoginMessage) isInboundL2()  {}
func (CspLoginMessage) isOutboundL3() {}

// CspFrame is a transport-encrypted CSP box.
type CspFrame struct {
	Box []byte
}

func (CspFrame) isInboundL2()  {}
func (CspFrame) isOutboundL3() {}

// CspContainer is a decrypted CSP payload.
type CspContainer struct {
	PayloadType CspPayloadType
	Data        []byte
}

func (CspContainer) isInboundL3()  {}
func (CspContainer) isInboundL4()  {}
func (CspContainer) isOutboundL4() {}
func (CspContainer) isOutboundL5() {}

// String summarises the container without its data.
func (c CspContainer) String() string {
	return fmt.Sprintf("CspContainer(%s, %d bytes)", c.PayloadType, len(c.Data))
}

// InboundD2mMessage is a decoded D2M message from the mediator.
type InboundD2mMessage interface {
	InboundL2Message
	InboundL3Message
	InboundL4Message
	PayloadType() D2mPayloadType
	ToContainer() (D2mContainer, error)
}

// OutboundD2mMessage is a D2M message to the mediator.
type OutboundD2mMessage interface {
	OutboundL3Message
	OutboundL4Message
	OutboundL5Message
	PayloadType() D2mPayloadType
	ToContainer() (D2mContainer, error)
}

type inboundD2m struct{}

func (inboundD2m) isInboundL2() {}
func (inboundD2m) isInboundL3() {}
func (inboundD2m) isInboundL4() {}

type outboundD2m struct{}

func (outboundD2m) isOutboundL3() {}
func (outboundD2m) isOutboundL4() {}
func (outboundD2m) isOutboundL5() {}

// Compile-time interface satisfaction checks.
var (
	_ InboundL1Message  = CspData{}
	_ InboundL1Message  = D2mContainer{}
	_ OutboundL2Message = CspData{}
	_ OutboundL2Message = D2mContainer{}
	_ InboundL2Message  = CspLoginMessage{}
	_ InboundL2Message  = CspFrame{}
	_ OutboundL3Message = CspLoginMessage{}
	_ OutboundL3Message = CspFrame{}
	_ InboundL4Message  = CspContainer{}
	_ OutboundL5Message = CspContainer{}
)
