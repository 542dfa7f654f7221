// Package layer implements the protocol stack between a server socket and the
// task manager.
//
// Inbound bytes travel upwards and outbound messages downwards through five
// layers, each a pair of pipe processors:
//
//	L1 frame       bytes            <-> CspData / D2mContainer
//	L2 multiplex   CspData / PROXY  <-> CspLoginMessage / CspFrame / D2M messages
//	L3 auth        login + frames   <-> CspContainer (CSP and D2M handshakes)
//	L4 monitoring  echo, idle timeout, close errors, reflection queue
//	L5 end-to-end  inbound queue and outbound backlog for the task manager
//
// A Stack is built for every connection attempt and all of its state is only
// touched from the attempt's dispatcher. Layers react to the lifecycle of the
// attempt through the Controller, which owns the per-attempt signals.
package layer
