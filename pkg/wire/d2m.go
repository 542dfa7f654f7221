package wire

import (
	"encoding/binary"
	"fmt"
)

// DeviceSlotState tells whether the mediator already knew the device slot.
type DeviceSlotState uint8

const (
	DeviceSlotStateNew      DeviceSlotState = 0
	DeviceSlotStateExisting DeviceSlotState = 1
)

// DeviceSlotExpirationPolicy controls when the mediator may drop a slot.
type DeviceSlotExpirationPolicy uint8

const (
	DeviceSlotExpirationVolatile   DeviceSlotExpirationPolicy = 0
	DeviceSlotExpirationPersistent DeviceSlotExpirationPolicy = 1
)

// DeviceSlotsExhaustedPolicy controls what happens when all slots are in use.
type DeviceSlotsExhaustedPolicy uint8

const (
	DeviceSlotsExhaustedReject          DeviceSlotsExhaustedPolicy = 0
	DeviceSlotsExhaustedDropLeastRecent DeviceSlotsExhaustedPolicy = 1
)

// Reflect header lengths.
const (
	reflectHeaderLength   = 8
	reflectedHeaderLength = 16
	reflectAckLength      = 16
	reflectedAckLength    = 8
)

// ServerHello starts the D2M handshake.
type ServerHello struct {
	inboundD2m `cbor:"-"`
	Version    uint32 `cbor:"1,keyasint"`
	ESK        []byte `cbor:"2,keyasint"`
	Challenge  []byte `cbor:"3,keyasint"`
}

// ServerInfo completes the D2M handshake.
type ServerInfo struct {
	inboundD2m                `cbor:"-"`
	CurrentTime               uint64          `cbor:"1,keyasint"`
	MaxDeviceSlots            uint32          `cbor:"2,keyasint"`
	DeviceSlotState           DeviceSlotState `cbor:"3,keyasint"`
	EncryptedSharedDeviceData []byte          `cbor:"4,keyasint,omitempty"`
	ReflectionQueueLength     uint32          `cbor:"5,keyasint"`
}

// ReflectionQueueDry signals that all queued reflections were delivered.
type ReflectionQueueDry struct {
	inboundD2m `cbor:"-"`
}

// RolePromotedToLeader signals that this device became the leader.
type RolePromotedToLeader struct {
	inboundD2m `cbor:"-"`
}

// AugmentedDeviceInfo describes one device of the group.
type AugmentedDeviceInfo struct {
	EncryptedDeviceInfo []byte                     `cbor:"1,keyasint"`
	LastLoginAt         uint64                     `cbor:"2,keyasint,omitempty"`
	ConnectedSince      uint64                     `cbor:"3,keyasint,omitempty"`
	ExpirationPolicy    DeviceSlotExpirationPolicy `cbor:"4,keyasint"`
}

// DevicesInfo answers GetDevicesInfo.
type DevicesInfo struct {
	inboundD2m `cbor:"-"`
	Devices    map[uint64]AugmentedDeviceInfo `cbor:"1,keyasint"`
}

// DropDeviceAck confirms DropDevice.
type DropDeviceAck struct {
	inboundD2m `cbor:"-"`
	DeviceID   uint64 `cbor:"1,keyasint"`
}

// BeginTransactionAck confirms BeginTransaction.
type BeginTransactionAck struct {
	inboundD2m `cbor:"-"`
}

// CommitTransactionAck confirms CommitTransaction.
type CommitTransactionAck struct {
	inboundD2m `cbor:"-"`
}

// TransactionRejected reports that another device holds the lock.
type TransactionRejected struct {
	inboundD2m     `cbor:"-"`
	DeviceID       uint64 `cbor:"1,keyasint"`
	EncryptedScope []byte `cbor:"2,keyasint"`
}

// TransactionEnded reports that another device released its lock.
type TransactionEnded struct {
	inboundD2m     `cbor:"-"`
	DeviceID       uint64 `cbor:"1,keyasint"`
	EncryptedScope []byte `cbor:"2,keyasint"`
}

// ReflectAck confirms a Reflect.
type ReflectAck struct {
	inboundD2m
	ReflectID uint32
	Timestamp uint64
}

// Reflected carries an envelope reflected by another device.
type Reflected struct {
	inboundD2m
	Flags       uint16
	ReflectedID uint32
	Timestamp   uint64
	Envelope    []byte
}

// ClientHello answers the ServerHello challenge.
type ClientHello struct {
	outboundD2m                `cbor:"-"`
	Version                    uint32                     `cbor:"1,keyasint"`
	Response                   []byte                     `cbor:"2,keyasint"`
	DeviceID                   uint64                     `cbor:"3,keyasint"`
	DeviceSlotsExhaustedPolicy DeviceSlotsExhaustedPolicy `cbor:"4,keyasint"`
	DeviceSlotExpirationPolicy DeviceSlotExpirationPolicy `cbor:"5,keyasint"`
	ExpectedDeviceSlotState    DeviceSlotState            `cbor:"6,keyasint"`
	EncryptedDeviceInfo        []byte                     `cbor:"7,keyasint"`
}

// GetDevicesInfo requests the device list.
type GetDevicesInfo struct {
	outboundD2m `cbor:"-"`
}

// DropDevice removes a device from the group.
type DropDevice struct {
	outboundD2m `cbor:"-"`
	DeviceID    uint64 `cbor:"1,keyasint"`
}

// SetSharedDeviceData stores data shared by all devices.
type SetSharedDeviceData struct {
	outboundD2m               `cbor:"-"`
	EncryptedSharedDeviceData []byte `cbor:"1,keyasint"`
}

// BeginTransaction acquires the group transaction lock.
type BeginTransaction struct {
	outboundD2m    `cbor:"-"`
	EncryptedScope []byte `cbor:"1,keyasint"`
	TTL            uint32 `cbor:"2,keyasint,omitempty"`
}

// CommitTransaction releases the group transaction lock.
type CommitTransaction struct {
	outboundD2m `cbor:"-"`
}

// Reflect sends an envelope to the other devices.
type Reflect struct {
	outboundD2m
	Flags     uint16
	ReflectID uint32
	Envelope  []byte
}

// ReflectedAck confirms a Reflected.
type ReflectedAck struct {
	outboundD2m
	ReflectedID uint32
}

func (*ServerHello) PayloadType() D2mPayloadType          { return D2mServerHello }
func (*ServerInfo) PayloadType() D2mPayloadType           { return D2mServerInfo }
func (*ReflectionQueueDry) PayloadType() D2mPayloadType   { return D2mReflectionQueueDry }
func (*RolePromotedToLeader) PayloadType() D2mPayloadType { return D2mRolePromotedToLeader }
func (*DevicesInfo) PayloadType() D2mPayloadType          { return D2mDevicesInfo }
func (*DropDeviceAck) PayloadType() D2mPayloadType        { return D2mDropDeviceAck }
func (*BeginTransactionAck) PayloadType() D2mPayloadType  { return D2mBeginTransactionAck }
func (*CommitTransactionAck) PayloadType() D2mPayloadType { return D2mCommitTransactionAck }
func (*TransactionRejected) PayloadType() D2mPayloadType  { return D2mTransactionRejected }
func (*TransactionEnded) PayloadType() D2mPayloadType     { return D2mTransactionEnded }
func (*ReflectAck) PayloadType() D2mPayloadType           { return D2mReflectAck }
func (*Reflected) PayloadType() D2mPayloadType            { return D2mReflected }
func (*ClientHello) PayloadType() D2mPayloadType          { return D2mClientHello }
func (*GetDevicesInfo) PayloadType() D2mPayloadType       { return D2mGetDevicesInfo }
func (*DropDevice) PayloadType() D2mPayloadType           { return D2mDropDevice }
func (*SetSharedDeviceData) PayloadType() D2mPayloadType  { return D2mSetSharedDeviceData }
func (*BeginTransaction) PayloadType() D2mPayloadType     { return D2mBeginTransaction }
func (*CommitTransaction) PayloadType() D2mPayloadType    { return D2mCommitTransaction }
func (*Reflect) PayloadType() D2mPayloadType              { return D2mReflect }
func (*ReflectedAck) PayloadType() D2mPayloadType         { return D2mReflectedAck }

func (m *ServerHello) ToContainer() (D2mContainer, error)          { return cborContainer(m.PayloadType(), m) }
func (m *ServerInfo) ToContainer() (D2mContainer, error)           { return cborContainer(m.PayloadType(), m) }
func (m *ReflectionQueueDry) ToContainer() (D2mContainer, error)   { return emptyContainer(m.PayloadType()) }
func (m *RolePromotedToLeader) ToContainer() (D2mContainer, error) { return emptyContainer(m.PayloadType()) }
func (m *DevicesInfo) ToContainer() (D2mContainer, error)          { return cborContainer(m.PayloadType(), m) }
func (m *DropDeviceAck) ToContainer() (D2mContainer, error)        { return cborContainer(m.PayloadType(), m) }
func (m *BeginTransactionAck) ToContainer() (D2mContainer, error)  { return emptyContainer(m.PayloadType()) }
func (m *CommitTransactionAck) ToContainer() (D2mContainer, error) { return emptyContainer(m.PayloadType()) }
func (m *TransactionRejected) ToContainer() (D2mContainer, error)  { return cborContainer(m.PayloadType(), m) }
func (m *TransactionEnded) ToContainer() (D2mContainer, error)     { return cborContainer(m.PayloadType(), m) }
func (m *ClientHello) ToContainer() (D2mContainer, error)          { return cborContainer(m.PayloadType(), m) }
func (m *GetDevicesInfo) ToContainer() (D2mContainer, error)       { return emptyContainer(m.PayloadType()) }
func (m *DropDevice) ToContainer() (D2mContainer, error)           { return cborContainer(m.PayloadType(), m) }
func (m *SetSharedDeviceData) ToContainer() (D2mContainer, error)  { return cborContainer(m.PayloadType(), m) }
func (m *BeginTransaction) ToContainer() (D2mContainer, error)     { return cborContainer(m.PayloadType(), m) }
func (m *CommitTransaction) ToContainer() (D2mContainer, error)    { return emptyContainer(m.PayloadType()) }

// ToContainer encodes the fixed ReflectAck header.
func (m *ReflectAck) ToContainer() (D2mContainer, error) {
	payload := make([]byte, reflectAckLength)
	binary.LittleEndian.PutUint32(payload[4:], m.ReflectID)
	binary.LittleEndian.PutUint64(payload[8:], m.Timestamp)
	return D2mContainer{PayloadType: D2mReflectAck, Payload: payload}, nil
}

// ToContainer encodes the Reflected header followed by the envelope.
func (m *Reflected) ToContainer() (D2mContainer, error) {
	payload := make([]byte, reflectedHeaderLength+len(m.Envelope))
	payload[0] = reflectedHeaderLength
	binary.LittleEndian.PutUint16(payload[2:], m.Flags)
	binary.LittleEndian.PutUint32(payload[4:], m.ReflectedID)
	binary.LittleEndian.PutUint64(payload[8:], m.Timestamp)
	copy(payload[reflectedHeaderLength:], m.Envelope)
	return D2mContainer{PayloadType: D2mReflected, Payload: payload}, nil
}

// ToContainer encodes the Reflect header followed by the envelope.
func (m *Reflect) ToContainer() (D2mContainer, error) {
	payload := make([]byte, reflectHeaderLength+len(m.Envelope))
	payload[0] = reflectHeaderLength
	binary.LittleEndian.PutUint16(payload[2:], m.Flags)
	binary.LittleEndian.PutUint32(payload[4:], m.ReflectID)
	copy(payload[reflectHeaderLength:], m.Envelope)
	return D2mContainer{PayloadType: D2mReflect, Payload: payload}, nil
}

// ToContainer encodes the ReflectedAck header.
func (m *ReflectedAck) ToContainer() (D2mContainer, error) {
	payload := make([]byte, reflectedAckLength)
	binary.LittleEndian.PutUint32(payload[4:], m.ReflectedID)
	return D2mContainer{PayloadType: D2mReflectedAck, Payload: payload}, nil
}

func cborContainer(t D2mPayloadType, v any) (D2mContainer, error) {
	payload, err := Marshal(v)
	if err != nil {
		return D2mContainer{}, fmt.Errorf("failed to encode %s: %w", t, err)
	}
	return D2mContainer{PayloadType: t, Payload: payload}, nil
}

func emptyContainer(t D2mPayloadType) (D2mContainer, error) {
	return D2mContainer{PayloadType: t, Payload: []byte{}}, nil
}

func decodeCBOR(c D2mContainer, v any) error {
	if err := Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", ErrD2mProtocol, c.PayloadType, err)
	}
	return nil
}

// DecodeD2mContainer decodes a container received from the mediator.
// PROXY containers are not D2M messages and must be handled by the caller.
func DecodeD2mContainer(c D2mContainer) (InboundD2mMessage, error) {
	switch c.PayloadType {
	case D2mServerHello:
		m := &ServerHello{}
		return m, decodeCBOR(c, m)
	case D2mServerInfo:
		m := &ServerInfo{}
		return m, decodeCBOR(c, m)
	case D2mReflectionQueueDry:
		return &ReflectionQueueDry{}, nil
	case D2mRolePromotedToLeader:
		return &RolePromotedToLeader{}, nil
	case D2mDevicesInfo:
		m := &DevicesInfo{}
		return m, decodeCBOR(c, m)
	case D2mDropDeviceAck:
		m := &DropDeviceAck{}
		return m, decodeCBOR(c, m)
	case D2mBeginTransactionAck:
		return &BeginTransactionAck{}, nil
	case D2mCommitTransactionAck:
		return &CommitTransactionAck{}, nil
	case D2mTransactionRejected:
		m := &TransactionRejected{}
		return m, decodeCBOR(c, m)
	case D2mTransactionEnded:
		m := &TransactionEnded{}
		return m, decodeCBOR(c, m)
	case D2mReflectAck:
		return decodeReflectAck(c.Payload)
	case D2mReflected:
		return decodeReflected(c.Payload)
	default:
		return nil, fmt.Errorf("%w: unsupported inbound payload type %s", ErrD2mProtocol, c.PayloadType)
	}
}

// DecodeOutboundD2mContainer decodes a container sent by a client.
// Mediator implementations and tests use it.
func DecodeOutboundD2mContainer(c D2mContainer) (OutboundD2mMessage, error) {
	switch c.PayloadType {
	case D2mClientHello:
		m := &ClientHello{}
		return m, decodeCBOR(c, m)
	case D2mGetDevicesInfo:
		return &GetDevicesInfo{}, nil
	case D2mDropDevice:
		m := &DropDevice{}
		return m, decodeCBOR(c, m)
	case D2mSetSharedDeviceData:
		m := &SetSharedDeviceData{}
		return m, decodeCBOR(c, m)
	case D2mBeginTransaction:
		m := &BeginTransaction{}
		return m, decodeCBOR(c, m)
	case D2mCommitTransaction:
		return &CommitTransaction{}, nil
	case D2mReflect:
		return decodeReflect(c.Payload)
	case D2mReflectedAck:
		if len(c.Payload) < reflectedAckLength {
			return nil, fmt.Errorf("%w: reflected-ack of %d bytes", ErrD2mProtocol, len(c.Payload))
		}
		return &ReflectedAck{ReflectedID: binary.LittleEndian.Uint32(c.Payload[4:])}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported outbound payload type %s", ErrD2mProtocol, c.PayloadType)
	}
}

func decodeReflectAck(payload []byte) (*ReflectAck, error) {
	if len(payload) < reflectAckLength {
		return nil, fmt.Errorf("%w: reflect-ack of %d bytes", ErrD2mProtocol, len(payload))
	}
	return &ReflectAck{
		ReflectID: binary.LittleEndian.Uint32(payload[4:]),
		Timestamp: binary.LittleEndian.Uint64(payload[8:]),
	}, nil
}

func decodeReflected(payload []byte) (*Reflected, error) {
	if len(payload) < reflectedHeaderLength {
		return nil, fmt.Errorf("%w: reflected of %d bytes", ErrD2mProtocol, len(payload))
	}
	if headerLength := int(payload[0]); headerLength != reflectedHeaderLength {
		return nil, fmt.Errorf("%w: unexpected header length in reflected: %d", ErrD2mProtocol, headerLength)
	}
	envelope := make([]byte, len(payload)-reflectedHeaderLength)
	copy(envelope, payload[reflectedHeaderLength:])
	return &Reflected{
		Flags:       binary.LittleEndian.Uint16(payload[2:]),
		ReflectedID: binary.LittleEndian.Uint32(payload[4:]),
		Timestamp:   binary.LittleEndian.Uint64(payload[8:]),
		Envelope:    envelope,
	}, nil
}

func decodeReflect(payload []byte) (*Reflect, error) {
	if len(payload) < reflectHeaderLength {
		return nil, fmt.Errorf("%w: reflect of %d bytes", ErrD2mProtocol, len(payload))
	}
	headerLength := int(payload[0])
	if headerLength < reflectHeaderLength || headerLength > len(payload) {
		return nil, fmt.Errorf("%w: unexpected header length in reflect: %d", ErrD2mProtocol, headerLength)
	}
	envelope := make([]byte, len(payload)-headerLength)
	copy(envelope, payload[headerLength:])
	return &Reflect{
		Flags:     binary.LittleEndian.Uint16(payload[2:]),
		ReflectID: binary.LittleEndian.Uint32(payload[4:]),
		Envelope:  envelope,
	}, nil
}

// Compile-time interface satisfaction checks.
var (
	_ InboundD2mMessage  = (*ServerHello)(nil)
	_ InboundD2mMessage  = (*ServerInfo)(nil)
	_ InboundD2mMessage  = (*ReflectionQueueDry)(nil)
	_ InboundD2mMessage  = (*RolePromotedToLeader)(nil)
	_ InboundD2mMessage  = (*DevicesInfo)(nil)
	_ InboundD2mMessage  = (*DropDeviceAck)(nil)
	_ InboundD2mMessage  = (*BeginTransactionAck)(nil)
	_ InboundD2mMessage  = (*CommitTransactionAck)(nil)
	_ InboundD2mMessage  = (*TransactionRejected)(nil)
	_ InboundD2mMessage  = (*TransactionEnded)(nil)
	_ InboundD2mMessage  = (*ReflectAck)(nil)
	_ InboundD2mMessage  = (*Reflected)(nil)
	_ OutboundD2mMessage = (*ClientHello)(nil)
	_ OutboundD2mMessage = (*GetDevicesInfo)(nil)
	_ OutboundD2mMessage = (*DropDevice)(nil)
	_ OutboundD2mMessage = (*SetSharedDeviceData)(nil)
	_ OutboundD2mMessage = (*BeginTransaction)(nil)
	_ OutboundD2mMessage = (*CommitTransaction)(nil)
	_ OutboundD2mMessage = (*Reflect)(nil)
	_ OutboundD2mMessage = (*ReflectedAck)(nil)
)
