// Package wire implements the HAPT wire format.
//
// HAPT frames are UTF-8 JSON text. Every frame is a JSON array of
// envelope objects, even when it carries a single message. An envelope
// is a single-key object whose key names the message kind and whose
// value is the message body:
//
//	[{"ClientHello":{"Id":1,"ClientName":"example","MajorVersion":1,"MinorVersion":0}}]
//
// Every message body carries an integer Id in [0, 0xFFFFFFFF]. Id 0 is
// reserved for unsolicited events: messages the server sends on its own
// initiative rather than in response to a specific request.
//
// Messages are modeled as one Go type per kind behind the Message
// interface. DecodeFrame produces concrete types that callers switch on
// exhaustively; envelopes with an unrecognized kind decode to *Unknown
// so the caller can log and drop them without losing the raw bytes.
package wire
