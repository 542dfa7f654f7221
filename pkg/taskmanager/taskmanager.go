// Package taskmanager defines the collaborator that consumes inbound messages
// once the connection is logged in and produces outbound messages through the
// end-to-end layer.
package taskmanager

import (
	"time"

	"github.com/threema-ch/servconn/pkg/wire"
)

// TaskCodec is handed to the task manager while tasks may run.
// It is implemented by the end-to-end layer of the current connection attempt.
type TaskCodec interface {
	// Write queues an outbound message. It does not block on the network.
	Write(msg wire.OutboundMessage) error

	// RestartConnection stops and restarts the connection after delay.
	RestartConnection(delay time.Duration)
}

// IncomingMessageProcessor handles application payloads.
type IncomingMessageProcessor interface {
	ProcessIncomingCspMessage(container wire.CspContainer) error
	ProcessIncomingD2mMessage(msg wire.InboundD2mMessage) error
}

// QueueSendCompleteListener is notified when the server signals that its
// message queue has been sent completely.
type QueueSendCompleteListener interface {
	QueueSendComplete()
}

// TaskManager runs the tasks of a logged-in connection.
type TaskManager interface {
	// ProcessInboundMessage is called in arrival order, one message at a time,
	// from the connection's dispatcher.
	ProcessInboundMessage(msg wire.InboundMessage) error

	// StartRunningTasks is called once the CSP login completed.
	StartRunningTasks(codec TaskCodec, processor IncomingMessageProcessor)

	// PauseRunningTasks is called when the connection closed.
	PauseRunningTasks()

	AddQueueSendCompleteListener(l QueueSendCompleteListener)
	RemoveQueueSendCompleteListener(l QueueSendCompleteListener)
}
