package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeTXT builds the TXT strings for a server announcement.
func EncodeTXT(info *ServerInfo) []string {
	txt := []string{
		fmt.Sprintf("%s=%s", TXTKeyServerName, info.ServerName),
		fmt.Sprintf("%s=%d", TXTKeyVersion, info.MajorVersion),
	}
	if info.Path != "" && info.Path != "/" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyPath, info.Path))
	}
	return txt
}

// DecodeTXT parses a server announcement's TXT strings. The server
// name and version are required; entries without an '=' and unknown
// keys are ignored.
func DecodeTXT(txt []string) (*ServerInfo, error) {
	info := &ServerInfo{}
	seenName := false
	seenVersion := false

	for _, entry := range txt {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		switch key {
		case TXTKeyServerName:
			info.ServerName = value
			seenName = true
		case TXTKeyVersion:
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, value)
			}
			info.MajorVersion = uint32(v)
			seenVersion = true
		case TXTKeyPath:
			info.Path = value
		}
	}

	if !seenName || !seenVersion {
		return nil, ErrMissingRequired
	}
	return info, nil
}
