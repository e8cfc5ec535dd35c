// Package handler implements the per-connection session state machine.
//
// Each accepted connection is driven through the following states:
//	1. Awaiting-identity: exactly one username envelope is expected within
//	   a bounded timeout. Anything else closes the transport with no other
//	   side effects.
//	2. Active: the session is registered in the default room and receives
//	   the current room list. Inbound envelopes dispatch by type: chat
//	   messages relay to the session's room, room creation and joining
//	   delegate to the registry and answer with a structured outcome, and
//	   background changes apply owner-only. An unrecognized type is a
//	   protocol error and ends the session.
//	3. Closed: the session is deregistered, its departure is announced to
//	   the room it last occupied, and the transport is released. Reached
//	   on peer disconnect, decode failure or identity timeout.
//
// Domain refusals (duplicate room, wrong password, missing room) keep the
// connection open; only transport and protocol errors are fatal to it.
package handler
