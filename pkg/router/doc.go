// Package router implements HAPT message correlation.
//
// The router sits above the transport. Outbound, it assigns
// correlation ids, batches one or more messages into a single frame,
// and tracks a pending entry per message until its response arrives,
// its timeout fires, or it is cancelled. Inbound, it parses frames and
// routes each envelope: responses settle their pending request,
// unsolicited events dispatch to registered callbacks, and anything
// that matches neither is logged and dropped.
//
// Responses are matched purely by correlation id, never by arrival
// order, so out-of-order server responses are handled correctly.
// Within a batch, the caller's argument order determines which id each
// message receives; the n-th result always corresponds to the n-th
// message sent.
package router
