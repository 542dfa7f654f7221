// Package wire defines the messages that travel between the connection
// layers and their byte-level encodings.
//
// Two protocols share the wire:
//   - CSP: the chat server protocol, spoken directly over TCP or tunnelled.
//   - D2M: the mediator protocol used in multi-device mode. It carries its own
//     control messages and tunnels CSP inside PROXY containers.
//
// # Message Families
//
// Every layer boundary has its own sealed interface (InboundL1Message,
// OutboundL3Message, ...). A layer accepts only its declared inbound family
// and emits only its declared outbound family; the unexported marker methods
// keep other packages from adding variants.
//
// # D2M Frame
//
//	[1 byte payload type][3 reserved bytes][payload ...]
//
// Frames must be between D2mFrameMinLength and D2mFrameMaxLength bytes.
//
// # D2M Control Payloads
//
// Control payloads are CBOR maps with integer keys. Reflect, ReflectAck,
// Reflected and ReflectedAck use fixed little-endian headers because their
// envelope is opaque to the mediator.
package wire
