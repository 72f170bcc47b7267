// Package ws serves guest sessions over WebSocket.
//
// Every frame is a protocol envelope, {"type": ..., "payload": ...}, the
// same encoding the host and guest use between themselves.
//
// Message Types (Client → Server):
//   - start: first frame only; args plus env{cwd, vars}. Any fs in the
//     payload is ignored, guests always start from the server's VFS
//   - stdin: pasted text, or one keypress when key is set
//
// Message Types (Server → Client):
//   - stdout, stderr: guest output in order
//   - error: an uncaught guest failure with its sanitized stack
//   - exit: the guest terminated; the server then closes the socket
//
// Closing the socket kills the guest.
//
// Example Usage:
//
//	handler := ws.NewHandler(supervisor, metrics, logger)
//	router.GET("/ws", handler.HandleConnection)
package ws
