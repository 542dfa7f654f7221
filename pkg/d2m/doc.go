// Package d2m implements the client side of the device to mediator
// handshake.
//
//	server hello   version, ephemeral server key, challenge
//	client hello   challenge response, device id, slot policies, device info
//	server info    current time, slot state, reflection queue length
//
// The challenge is answered with a NaCl box between the device group path key
// and the ephemeral server key. Once the server info arrived the mediator
// forwards CSP traffic in PROXY containers.
package d2m
