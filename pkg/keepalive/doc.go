// Package keepalive implements HAPT connection liveness.
//
// The server advertises a maximum ping time during the handshake; a
// client that stays silent longer than that is presumed dead and
// disconnected server-side. The Manager sends protocol Ping requests
// on a fixed schedule well inside that window so a healthy connection
// never trips it.
//
// A ping that times out means the connection is dead: the Manager
// reports it through the dead-connection callback and the owner tears
// the connection down. Any other ping failure is reported but does not
// end the connection. At most one ping is in flight at a time; ticks
// that fire while one is outstanding are skipped.
package keepalive
