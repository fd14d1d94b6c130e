package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(connID string, cat Category) Event {
	ev := Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     cat,
	}
	switch cat {
	case CategoryMessage:
		ev.Message = &MessageEvent{MessageKind: "Ping", MessageID: 42}
	case CategoryError:
		ev.Error = &ErrorEventData{Message: "boom", Code: 2}
	}
	return ev
}

func TestEventRoundTrip(t *testing.T) {
	ev := sampleEvent("conn-1", CategoryMessage)

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}

	if got.ConnectionID != "conn-1" || got.Category != CategoryMessage {
		t.Errorf("decoded = %+v", got)
	}
	if got.Message == nil || got.Message.MessageKind != "Ping" || got.Message.MessageID != 42 {
		t.Errorf("Message = %+v", got.Message)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	fl.Log(sampleEvent("a", CategoryMessage))
	fl.Log(sampleEvent("b", CategoryError))
	fl.Log(sampleEvent("a", CategoryError))
	if err := fl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Logging after close must be a no-op, not a panic.
	fl.Log(sampleEvent("a", CategoryMessage))

	t.Run("ReadAll", func(t *testing.T) {
		r, err := NewReader(path)
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		defer r.Close()

		count := 0
		for {
			_, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			count++
		}
		if count != 3 {
			t.Errorf("read %d events, want 3", count)
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		cat := CategoryError
		r, err := NewFilteredReader(path, Filter{ConnectionID: "a", Category: &cat})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		ev, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.ConnectionID != "a" || ev.Category != CategoryError {
			t.Errorf("event = %+v", ev)
		}
		if _, err := r.Next(); err != io.EOF {
			t.Errorf("expected EOF after one match, got %v", err)
		}
	})
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger
	m := NewMultiLogger(&a, &b)

	m.Log(sampleEvent("x", CategoryMessage))
	m.Log(sampleEvent("x", CategoryError))

	if a.count != 2 || b.count != 2 {
		t.Errorf("counts = %d, %d, want 2, 2", a.count, b.count)
	}
}

type countingLogger struct{ count int }

func (c *countingLogger) Log(Event) { c.count++ }

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	var c countingLogger
	if OrNoop(&c) != &c {
		t.Error("OrNoop should pass through non-nil loggers")
	}
}
