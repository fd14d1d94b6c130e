// Package transport provides the HAPT transport layer.
//
// HAPT runs over a persistent WebSocket connection carrying UTF-8 text
// frames. The transport owns exactly one underlying socket and tracks
// a three-state lifecycle:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED
//
// All other components observe this state; none mutate it directly.
// The transport is also the only component permitted to close the
// socket.
//
// Events are delivered through the Handler interface: exactly one
// OnOpen per successful connect, OnMessage per inbound frame, OnClose
// with a code and reason on any termination (including ones the
// transport itself initiated), and OnError for transport-level faults.
// Panics from handler methods are recovered and logged so a bad
// listener cannot corrupt connection teardown.
package transport
