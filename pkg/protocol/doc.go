// Package protocol defines the events exchanged between collaboration
// clients and the room relay, their payloads, and the frame envelope.
//
// Every frame is a CBOR map with two keys: "event", the event name, and
// "payload", a byte string holding the CBOR encoding of the event's payload
// struct. Decoding therefore happens in two steps: the envelope first, so
// the receiver can pick a handler by name, then the payload into the type
// that handler expects.
package protocol
