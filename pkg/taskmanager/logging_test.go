package taskmanager_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/taskmanager"
	"github.com/threema-ch/servconn/pkg/taskmanager/mocks"
	"github.com/threema-ch/servconn/pkg/wire"
)

func TestLoggingTaskManagerQueueSendComplete(t *testing.T) {
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{})

	first := mocks.NewMockQueueSendCompleteListener(t)
	second := mocks.NewMockQueueSendCompleteListener(t)
	first.EXPECT().QueueSendComplete().Return().Once()
	tm.AddQueueSendCompleteListener(first)
	tm.AddQueueSendCompleteListener(second)
	tm.RemoveQueueSendCompleteListener(second)

	err := tm.ProcessInboundMessage(wire.CspContainer{PayloadType: wire.CspQueueSendComplete})
	require.NoError(t, err)
	assert.Equal(t, 1, tm.Received())
}

func TestLoggingTaskManagerDeviceCookieIndication(t *testing.T) {
	cookies := csp.NewFileDeviceCookieManager("")
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{CookieManager: cookies})

	codec := mocks.NewMockTaskCodec(t)
	codec.EXPECT().
		Write(wire.CspContainer{PayloadType: wire.CspClearDeviceCookieChangeIndication}).
		Return(nil).
		Once()
	tm.StartRunningTasks(codec, nil)

	err := tm.ProcessInboundMessage(wire.CspContainer{PayloadType: wire.CspDeviceCookieChangeIndication})
	require.NoError(t, err)
	assert.True(t, cookies.ChangeIndicated())
}

func TestLoggingTaskManagerIncomingMessage(t *testing.T) {
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{AckIncoming: true})

	data := bytes.Repeat([]byte{0}, 32)
	copy(data, "ECHOECHO")
	copy(data[8:], "ABCDEFGH")
	copy(data[16:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	incoming := wire.CspContainer{PayloadType: wire.CspIncomingMessage, Data: data}

	processor := mocks.NewMockIncomingMessageProcessor(t)
	processor.EXPECT().ProcessIncomingCspMessage(incoming).Return(nil).Once()

	codec := mocks.NewMockTaskCodec(t)
	codec.EXPECT().Write(mock.Anything).
		Run(func(msg wire.OutboundMessage) {
			ack, ok := msg.(wire.CspContainer)
			require.True(t, ok)
			assert.Equal(t, wire.CspIncomingMessageAck, ack.PayloadType)
			assert.Equal(t, append([]byte("ECHOECHO"), 1, 2, 3, 4, 5, 6, 7, 8), ack.Data)
		}).
		Return(nil).
		Once()

	tm.StartRunningTasks(codec, processor)
	require.NoError(t, tm.ProcessInboundMessage(incoming))

	short := wire.CspContainer{PayloadType: wire.CspIncomingMessage, Data: []byte{1, 2, 3}}
	processor.EXPECT().ProcessIncomingCspMessage(short).Return(nil).Once()
	assert.ErrorIs(t, tm.ProcessInboundMessage(short), wire.ErrPayload)
}

func TestLoggingTaskManagerReflected(t *testing.T) {
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{AckIncoming: true})

	reflected := &wire.Reflected{ReflectedID: 42, Envelope: []byte{1}}
	processor := mocks.NewMockIncomingMessageProcessor(t)
	processor.EXPECT().ProcessIncomingD2mMessage(reflected).Return(nil).Once()

	codec := mocks.NewMockTaskCodec(t)
	codec.EXPECT().Write(&wire.ReflectedAck{ReflectedID: 42}).Return(nil).Once()

	tm.StartRunningTasks(codec, processor)
	require.NoError(t, tm.ProcessInboundMessage(reflected))
}

func TestLoggingTaskManagerSend(t *testing.T) {
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{})
	msg := wire.CspContainer{PayloadType: wire.CspOutgoingMessage, Data: []byte{1}}

	assert.ErrorIs(t, tm.Send(msg), taskmanager.ErrNotRunning)
	assert.False(t, tm.IsRunning())

	codec := mocks.NewMockTaskCodec(t)
	codec.EXPECT().Write(msg).Return(nil).Once()
	tm.StartRunningTasks(codec, nil)
	assert.True(t, tm.IsRunning())
	require.NoError(t, tm.Send(msg))

	tm.PauseRunningTasks()
	assert.False(t, tm.IsRunning())
	assert.ErrorIs(t, tm.Send(msg), taskmanager.ErrNotRunning)
}

func TestLoggingTaskManagerInvalidControlPayloads(t *testing.T) {
	tm := taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{})

	err := tm.ProcessInboundMessage(wire.CspContainer{PayloadType: wire.CspCloseError})
	assert.ErrorIs(t, err, wire.ErrPayload)

	err = tm.ProcessInboundMessage(wire.CspContainer{PayloadType: wire.CspAlert, Data: []byte{0xff, 0xfe}})
	assert.ErrorIs(t, err, wire.ErrPayload)

	err = tm.ProcessInboundMessage(wire.CspContainer{PayloadType: wire.CspAlert, Data: []byte("maintenance")})
	assert.NoError(t, err)
}
