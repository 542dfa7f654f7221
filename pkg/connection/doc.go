// Package connection provides the server connection lifecycle.
//
// A connection runs a reconnect loop on its own goroutine. Every iteration is
// one attempt with a fresh dispatcher, socket and layer stack:
//
//  1. State CONNECTING, connect the socket
//  2. State CONNECTED, acquire the connection lock for the queued messages
//  3. Process IO until the socket closes; state LOGGEDIN once the CSP login
//     completes
//  4. State DISCONNECTED, complete the close signal, back off
//
// # Reconnection Strategy
//
// The delay before the next attempt grows with the attempts since the last
// successful login:
//
//	delay = min(2^min(attempts-1, 10), 10) seconds
//
// giving 1s, 2s, 4s, 8s and then 10s until a login succeeds, which resets the
// counter. A server close error or a mediator close code that forbids
// reconnecting ends the loop, as does Stop.
//
// # Connection Lock
//
// The lock acquired after connecting is released when the server reports
// that its message queue was delivered, when the attempt ends, or after
// DefaultLockTimeout, whichever comes first.
package connection
