package csp

import "encoding/binary"

// CookieLength is the length of client and server cookies.
const CookieLength = 16

// NonceLength is the NaCl nonce length.
const NonceLength = 24

// NonceCounter derives nonces as cookie || little-endian counter.
// The first nonce uses counter value 1.
type NonceCounter struct {
	cookie  [CookieLength]byte
	counter uint64
}

// NewNonceCounter creates a counter for cookie.
func NewNonceCounter(cookie [CookieLength]byte) *NonceCounter {
	return &NonceCounter{cookie: cookie}
}

// Next returns the next nonce.
func (n *NonceCounter) Next() *[NonceLength]byte {
	n.counter++
	var nonce [NonceLength]byte
	copy(nonce[:], n.cookie[:])
	binary.LittleEndian.PutUint64(nonce[CookieLength:], n.counter)
	return &nonce
}

// Counter returns the last used counter value.
func (n *NonceCounter) Counter() uint64 {
	return n.counter
}
