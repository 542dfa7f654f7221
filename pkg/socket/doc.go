// Package socket provides the byte transports underneath the layer stack.
//
// A ServerSocket connects to a server, pushes every received chunk into its
// Source pipe from a dedicated IO goroutine (ProcessIO), and accepts outbound
// chunks through Send. The connection orchestrator funnels the Source into
// its dispatcher, so the socket itself knows nothing about layers.
//
// Two implementations exist:
//
//   - CspSocket: TCP to the chat server. Reads the fixed size server hello and
//     login ack, then 2-byte little-endian length-prefixed frames.
//   - D2mSocket: WebSocket to the mediator. One binary message is one D2M frame.
//
// Both record every chunk as a socket-layer FrameEvent in the protocol log.
package socket
