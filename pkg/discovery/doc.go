// Package discovery finds a chat server on the local network via mDNS/DNS-SD.
//
// On-premises and development chat servers advertise the service type
// _threema-csp._tcp in the local domain. The instance name is free form; the
// TXT record carries:
//
//   - pk: the hex encoded permanent public key of the server (optional)
//   - md: the mediator base URL (optional)
//
// AddressProvider resolves the addresses lazily on the first connection
// attempt and keeps them until Refresh is called.
package discovery
