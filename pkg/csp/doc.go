// Package csp implements the client side of the chat server protocol
// handshake and its transport encryption.
//
// A Session is created for every connection attempt and is owned by the auth
// layer. The handshake runs in three steps:
//
//	client hello   temporary public key || client cookie
//	server hello   server cookie || box(server temporary key || client cookie)
//	login          box(login packet) || box(extensions)
//	login ack      box(16 zero bytes)
//
// Afterwards every frame is a NaCl box over [payload type][3 reserved][data].
// Nonces are the sender's cookie followed by a little-endian counter that
// starts at 1 and is shared by handshake and frames.
//
// The identity, the server addresses and keys, and the device cookie are
// supplied through the IdentityStore, ServerAddressProvider and
// DeviceCookieManager interfaces.
package csp
