// Package device models the HAPT device inventory.
//
// A Device is an immutable snapshot built from a wire descriptor: the
// server-assigned index, display metadata, the recommended minimum gap
// between commands, and the parsed capability set. Capabilities are
// sorted at construction so two devices with the same features compare
// equal regardless of how the server ordered them.
//
// Reconcile diffs the server's authoritative inventory against the
// previously known state and reports which devices appeared, changed,
// or vanished. It is a pure function over its inputs and has no
// knowledge of the transport or router.
package device
