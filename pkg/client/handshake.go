package client

import (
	"context"
	"fmt"

	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// handshake announces the client version and requires a matching
// server info response. A major version mismatch is fatal in either
// direction; the protocol has no downgrade path.
func (c *Client) handshake(ctx context.Context) (*wire.ServerInfo, error) {
	hello := &wire.ClientHello{
		ClientName:   c.config.ClientName,
		MajorVersion: wire.ProtocolMajor,
		MinorVersion: wire.ProtocolMinor,
	}

	resp, err := c.router.Send(ctx, hello)
	if err != nil {
		return nil, &HandshakeError{Reason: "no server info", Err: err}
	}

	info, ok := resp[0].(*wire.ServerInfo)
	if !ok {
		return nil, &HandshakeError{
			Reason: fmt.Sprintf("unexpected %s response to client hello", resp[0].Kind()),
		}
	}

	if info.MajorVersion != wire.ProtocolMajor {
		return nil, &HandshakeError{
			Reason:      "major version mismatch",
			ClientMajor: wire.ProtocolMajor,
			ServerMajor: info.MajorVersion,
		}
	}

	c.logger.Log(log.Event{
		Timestamp: c.clk.Now(),
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			From:   "connected",
			To:     "ready",
			Reason: fmt.Sprintf("handshake with %q complete", info.ServerName),
		},
	})
	return info, nil
}
