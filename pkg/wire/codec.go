package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrEmptyFrame    = errors.New("frame contains no messages")
	ErrNotAnEnvelope = errors.New("envelope must be a single-key object")
)

// EncodeFrame encodes one or more messages into a single wire frame.
// The frame is always a JSON array, even for a single message.
func EncodeFrame(msgs ...Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyFrame
	}

	envelopes := make([]map[Kind]Message, 0, len(msgs))
	for _, msg := range msgs {
		envelopes = append(envelopes, map[Kind]Message{msg.Kind(): msg})
	}

	data, err := json.Marshal(envelopes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame decodes a wire frame into its messages, in frame order.
// Envelopes with an unrecognized kind decode to *Unknown rather than
// failing the whole frame; structurally malformed frames return an
// error.
func DecodeFrame(data []byte) ([]Message, error) {
	var envelopes []map[Kind]json.RawMessage
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if len(envelopes) == 0 {
		return nil, ErrEmptyFrame
	}

	msgs := make([]Message, 0, len(envelopes))
	for i, env := range envelopes {
		if len(env) != 1 {
			return nil, fmt.Errorf("envelope %d: %w (got %d keys)", i, ErrNotAnEnvelope, len(env))
		}
		for kind, body := range env {
			msg, err := decodeBody(kind, body)
			if err != nil {
				return nil, fmt.Errorf("envelope %d (%s): %w", i, kind, err)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// decodeBody decodes one envelope body into its concrete message type.
// The switch is total over the known kinds; anything else becomes
// *Unknown with the raw body preserved.
func decodeBody(kind Kind, body json.RawMessage) (Message, error) {
	var msg Message

	switch kind {
	case KindOk:
		msg = &Ok{}
	case KindError:
		msg = &Error{}
	case KindPing:
		msg = &Ping{}
	case KindClientHello:
		msg = &ClientHello{}
	case KindServerInfo:
		msg = &ServerInfo{}
	case KindStartScanning:
		msg = &StartScanning{}
	case KindStopScanning:
		msg = &StopScanning{}
	case KindScanningFinished:
		msg = &ScanningFinished{}
	case KindRequestDeviceList:
		msg = &RequestDeviceList{}
	case KindDeviceList:
		msg = &DeviceList{}
	case KindDeviceAdded:
		msg = &DeviceAdded{}
	case KindDeviceRemoved:
		msg = &DeviceRemoved{}
	case KindSensorReading:
		msg = &SensorReading{}
	case KindSensorSubscribe:
		msg = &SensorSubscribe{}
	case KindSensorUnsubscribe:
		msg = &SensorUnsubscribe{}
	case KindOutputCmd:
		msg = &OutputCmd{}
	default:
		unk := &Unknown{RawKind: kind, Raw: body}
		// Best effort id extraction so the router can log it.
		var hdr Header
		if err := json.Unmarshal(body, &hdr); err == nil {
			unk.Id = hdr.Id
		}
		return unk, nil
	}

	if err := json.Unmarshal(body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
