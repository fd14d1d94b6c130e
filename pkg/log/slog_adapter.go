package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger. Useful for
// development when you want protocol events on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors log at Warn level,
// everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	level := slog.LevelDebug
	msg := "protocol event"

	switch {
	case event.Frame != nil:
		msg = "frame"
		attrs = append(attrs,
			slog.Int("size", event.Frame.Size),
		)
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Message != nil:
		msg = "message"
		attrs = append(attrs,
			slog.String("kind", event.Message.MessageKind),
			slog.Uint64("msg_id", uint64(event.Message.MessageID)),
		)
		if event.Message.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.Message.Detail))
		}
	case event.StateChange != nil:
		msg = "state change"
		attrs = append(attrs,
			slog.String("from", event.StateChange.From),
			slog.String("to", event.StateChange.To),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Keepalive != nil:
		msg = "keepalive"
		attrs = append(attrs, slog.String("action", event.Keepalive.Action))
		if event.Keepalive.RTT > 0 {
			attrs = append(attrs, slog.Duration("rtt", event.Keepalive.RTT))
		}
	case event.Error != nil:
		msg = "protocol error"
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Error.Message))
		if event.Error.Code != 0 {
			attrs = append(attrs, slog.Uint64("code", uint64(event.Error.Code)))
		}
	}

	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
