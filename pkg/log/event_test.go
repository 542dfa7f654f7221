package log

import (
	"fmt"
	"testing"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		value fmt.Stringer
		want  string
	}{
		{DirectionIn, "IN"},
		{DirectionOut, "OUT"},
		{Direction(9), "UNKNOWN"},

		{LayerSocket, "SOCKET"},
		{LayerFrame, "FRAME"},
		{LayerMultiplex, "MULTIPLEX"},
		{LayerAuth, "AUTH"},
		{LayerMonitoring, "MONITORING"},
		{LayerEndToEnd, "END_TO_END"},
		{LayerConnection, "CONNECTION"},
		{Layer(42), "UNKNOWN"},

		{CategoryMessage, "MESSAGE"},
		{CategoryControl, "CONTROL"},
		{CategoryState, "STATE"},
		{CategoryError, "ERROR"},
		{Category(7), "UNKNOWN"},

		{ProtocolCSP, "CSP"},
		{ProtocolD2M, "D2M"},
		{Protocol(2), "UNKNOWN"},

		{StateEntityConnection, "CONNECTION"},
		{StateEntityLogin, "LOGIN"},
		{StateEntityHandshake, "HANDSHAKE"},
		{StateEntity(3), "UNKNOWN"},

		{ControlMsgEchoRequest, "ECHO_REQUEST"},
		{ControlMsgEchoResponse, "ECHO_RESPONSE"},
		{ControlMsgIdleTimeout, "IDLE_TIMEOUT"},
		{ControlMsgCloseError, "CLOSE_ERROR"},
		{ControlMsgAlert, "ALERT"},
		{ControlMsgUnblockIncoming, "UNBLOCK_INCOMING"},
		{ControlMsgType(6), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("%T(%v).String() = %q, want %q", tt.value, tt.value, got, tt.want)
		}
	}
}
