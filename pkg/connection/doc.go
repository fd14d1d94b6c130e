// Package connection provides reconnection with exponential backoff.
//
// When a HAPT connection drops unexpectedly, the Reconnector retries
// it on an exponential schedule:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Capped at the maximum delay: 60 seconds
//  4. Continue at the cap until success or the attempt limit
//  5. Reset to the initial delay after a successful connection
//
// The delay before attempt n is min(initial * 2^(n-1), max); the
// schedule is deterministic so callers can reason about exactly when
// the next attempt fires.
//
// Cancellation swallows rather than interrupts: a cancelled run's
// in-flight attempt may still finish, but its outcome is discarded and
// no callbacks fire for it.
package connection
