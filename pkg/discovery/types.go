package discovery

import (
	"errors"
	"fmt"
	"time"
)

// mDNS constants.
const (
	// ServiceType is the HAPT server service type.
	ServiceType = "_hapt._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the conventional HAPT server port.
	DefaultPort = 12345

	// BrowseTimeout is the default timeout for one-shot lookups.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	// TXTKeyServerName is the human-readable server name.
	TXTKeyServerName = "SN"

	// TXTKeyVersion is the server's protocol major version.
	TXTKeyVersion = "V"

	// TXTKeyPath is the optional websocket path, default "/".
	TXTKeyPath = "P"
)

// Discovery errors.
var (
	ErrNotFound            = errors.New("no server found")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
)

// ServerService is one HAPT server found via mDNS.
type ServerService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the websocket port.
	Port uint16

	// Addresses contains the resolved IP addresses.
	Addresses []string

	// ServerName is the human-readable name from TXT "SN".
	ServerName string

	// MajorVersion is the protocol major version from TXT "V".
	MajorVersion uint32

	// Path is the websocket path from TXT "P", default "/".
	Path string
}

// URL builds a websocket URL for the service, preferring the first
// resolved address over the hostname.
func (s *ServerService) URL() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	path := s.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, s.Port, path)
}

// ServerInfo describes a server to advertise.
type ServerInfo struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// ServerName is the human-readable server name.
	ServerName string

	// MajorVersion is the protocol major version.
	MajorVersion uint32

	// Path is the websocket path, default "/".
	Path string

	// Port is the websocket port; 0 uses DefaultPort.
	Port uint16
}
