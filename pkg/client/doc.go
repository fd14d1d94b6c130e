// Package client implements the HAPT session orchestrator.
//
// A Client wires the transport, message router, keep-alive manager,
// reconnector, device inventory and sensor subscriptions into one
// lifecycle: connect, handshake, scan and operate, then disconnect or
// reconnect. It is the surface applications talk to; the lower
// packages are composable on their own but rarely used directly.
//
// Connection loss splits into two paths. An explicit Disconnect tears
// everything down: pending requests are cancelled with a connection
// error and sensor subscriptions are cleared. An unexpected close
// keeps subscriptions and hands the transport to the reconnector;
// after a successful reconnect the device inventory is reconciled and
// subscriptions for vanished devices are pruned.
package client
