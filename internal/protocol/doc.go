// Package protocol defines the messages exchanged between a host and a guest
// and the in-process transport that carries them.
//
// Host to guest:
//   - start{args, env}: exactly once, first
//   - stdin{data} or stdin{data, key}
//
// Guest to host:
//   - stdout{text}, stderr{text}
//   - error{value, stack}
//   - write{path, content}: VFS write-back, content null means confirmed absent
//   - exit{code}: terminal
//
// Messages from one sender arrive in emission order. On the wire each message
// is an envelope {"type": ..., "payload": ...}.
package protocol
