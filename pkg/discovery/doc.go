// Package discovery finds HAPT servers on the local network.
//
// Servers advertise a _hapt._tcp service over mDNS with TXT records
// carrying the server name and protocol version. The Browser turns
// those announcements into ServerService values, aggregating addresses
// seen on multiple interfaces into one entry per instance. The
// Advertiser is the publishing side, used by servers and by tests.
package discovery
