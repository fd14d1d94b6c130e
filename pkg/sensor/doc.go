// Package sensor tracks active sensor subscriptions.
//
// Subscriptions are keyed by (device index, feature index, sensor
// type) and map to a delivery callback. The handler routes each
// inbound reading to the one matching subscriber; readings with no
// subscriber go to a caller-supplied fallback. Subscription
// bookkeeping is independent of the router's request/response state:
// readings arrive as unsolicited events.
package sensor
