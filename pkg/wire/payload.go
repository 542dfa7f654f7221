package wire

import "fmt"

// Frame and payload bounds.
const (
	// D2mHeaderLength is the size of the D2M container header.
	D2mHeaderLength = 4

	// D2mFrameMinLength is the smallest valid D2M frame (header only).
	D2mFrameMinLength = D2mHeaderLength

	// D2mFrameMaxLength is the largest valid D2M frame.
	D2mFrameMaxLength = 65536

	// LengthPrefixSize is the size of the little-endian length prefix used by
	// PROXY payloads and CSP frames.
	LengthPrefixSize = 2

	// CspMaxFrameLength is the largest CSP frame box accepted from the server.
	CspMaxFrameLength = 8192

	// EchoPayloadLength is the size of echo request and response payloads.
	EchoPayloadLength = 12

	// IdleTimeoutMin and IdleTimeoutMax bound the connection idle timeout in seconds.
	IdleTimeoutMin = 30
	IdleTimeoutMax = 600
)

// CspPayloadType identifies the content of a CSP container.
type CspPayloadType uint8

// CSP payload types.
const (
	CspEchoRequest                       CspPayloadType = 0x00
	CspOutgoingMessage                   CspPayloadType = 0x01
	CspIncomingMessage                   CspPayloadType = 0x02
	CspUnblockIncomingMessages           CspPayloadType = 0x03
	CspSetPushNotificationToken          CspPayloadType = 0x20
	CspDeletePushNotificationToken       CspPayloadType = 0x25
	CspSetConnectionIdleTimeout          CspPayloadType = 0x30
	CspEchoResponse                      CspPayloadType = 0x80
	CspOutgoingMessageAck                CspPayloadType = 0x81
	CspIncomingMessageAck                CspPayloadType = 0x82
	CspQueueSendComplete                 CspPayloadType = 0xd0
	CspDeviceCookieChangeIndication      CspPayloadType = 0xd2
	CspClearDeviceCookieChangeIndication CspPayloadType = 0xd3
	CspCloseError                        CspPayloadType = 0xe0
	CspAlert                             CspPayloadType = 0xe1
)

// String returns the payload type name.
func (t CspPayloadType) String() string {
	switch t {
	case CspEchoRequest:
		return "ECHO_REQUEST"
	case CspOutgoingMessage:
		return "OUTGOING_MESSAGE"
	case CspIncomingMessage:
		return "INCOMING_MESSAGE"
	case CspUnblockIncomingMessages:
		return "UNBLOCK_INCOMING_MESSAGES"
	case CspSetPushNotificationToken:
		return "SET_PUSH_NOTIFICATION_TOKEN"
	case CspDeletePushNotificationToken:
		return "DELETE_PUSH_NOTIFICATION_TOKEN"
	case CspSetConnectionIdleTimeout:
		return "SET_CONNECTION_IDLE_TIMEOUT"
	case CspEchoResponse:
		return "ECHO_RESPONSE"
	case CspOutgoingMessageAck:
		return "OUTGOING_MESSAGE_ACK"
	case CspIncomingMessageAck:
		return "INCOMING_MESSAGE_ACK"
	case CspQueueSendComplete:
		return "QUEUE_SEND_COMPLETE"
	case CspDeviceCookieChangeIndication:
		return "DEVICE_COOKIE_CHANGE_INDICATION"
	case CspClearDeviceCookieChangeIndication:
		return "CLEAR_DEVICE_COOKIE_CHANGE_INDICATION"
	case CspCloseError:
		return "CLOSE_ERROR"
	case CspAlert:
		return "ALERT"
	default:
		return fmt.Sprintf("CSP(0x%02x)", uint8(t))
	}
}

// D2mPayloadType identifies the content of a D2M container.
type D2mPayloadType uint8

// D2M payload types.
const (
	D2mProxy                D2mPayloadType = 0x00
	D2mServerHello          D2mPayloadType = 0x10
	D2mClientHello          D2mPayloadType = 0x11
	D2mServerInfo           D2mPayloadType = 0x12
	D2mReflectionQueueDry   D2mPayloadType = 0x20
	D2mRolePromotedToLeader D2mPayloadType = 0x21
	D2mGetDevicesInfo       D2mPayloadType = 0x30
	D2mDevicesInfo          D2mPayloadType = 0x31
	D2mDropDevice           D2mPayloadType = 0x32
	D2mDropDeviceAck        D2mPayloadType = 0x33
	D2mSetSharedDeviceData  D2mPayloadType = 0x34
	D2mBeginTransaction     D2mPayloadType = 0x40
	D2mBeginTransactionAck  D2mPayloadType = 0x41
	D2mCommitTransaction    D2mPayloadType = 0x42
	D2mCommitTransactionAck D2mPayloadType = 0x43
	D2mTransactionRejected  D2mPayloadType = 0x44
	D2mTransactionEnded     D2mPayloadType = 0x45
	D2mReflect              D2mPayloadType = 0x80
	D2mReflectAck           D2mPayloadType = 0x81
	D2mReflected            D2mPayloadType = 0x82
	D2mReflectedAck         D2mPayloadType = 0x83
)

// String returns the payload type name.
func (t D2mPayloadType) String() string {
	switch t {
	case D2mProxy:
		return "PROXY"
	case D2mServerHello:
		return "SERVER_HELLO"
	case D2mClientHello:
		return "CLIENT_HELLO"
	case D2mServerInfo:
		return "SERVER_INFO"
	case D2mReflectionQueueDry:
		return "REFLECTION_QUEUE_DRY"
	case D2mRolePromotedToLeader:
		return "ROLE_PROMOTED_TO_LEADER"
	case D2mGetDevicesInfo:
		return "GET_DEVICES_INFO"
	case D2mDevicesInfo:
		return "DEVICES_INFO"
	case D2mDropDevice:
		return "DROP_DEVICE"
	case D2mDropDeviceAck:
		return "DROP_DEVICE_ACK"
	case D2mSetSharedDeviceData:
		return "SET_SHARED_DEVICE_DATA"
	case D2mBeginTransaction:
		return "BEGIN_TRANSACTION"
	case D2mBeginTransactionAck:
		return "BEGIN_TRANSACTION_ACK"
	case D2mCommitTransaction:
		return "COMMIT_TRANSACTION"
	case D2mCommitTransactionAck:
		return "COMMIT_TRANSACTION_ACK"
	case D2mTransactionRejected:
		return "TRANSACTION_REJECTED"
	case D2mTransactionEnded:
		return "TRANSACTION_ENDED"
	case D2mReflect:
		return "REFLECT"
	case D2mReflectAck:
		return "REFLECT_ACK"
	case D2mReflected:
		return "REFLECTED"
	case D2mReflectedAck:
		return "REFLECTED_ACK"
	default:
		return fmt.Sprintf("D2M(0x%02x)", uint8(t))
	}
}
