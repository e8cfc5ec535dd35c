// Package server implements the chat server accept loop.
//
// The server performs the following steps:
//	1. Listens on a TCP socket for incoming client connections.
//	2. On each accepted connection, it spawns an independent handler
//	   goroutine that owns the connection for its whole lifetime.
//	3. Coordination between connections happens solely through the room
//	   registry; the accept loop itself holds no chat state.
//
// Shutdown is process-level: cancelling the context closes the listener
// and the loop returns. In-flight sessions notice their transports
// closing and unwind through their own closed-state cleanup.
package server
