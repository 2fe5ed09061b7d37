// Package packet implements the wire codec shared by every protocol in
// this module (spec.md §4.1 / §6). The header is fixed at 14 bytes:
//
//	kind (1) | flags (1) | seq (4, BE) | ack (4, BE) | checksum (2, BE) | payload_len (2, BE) | payload
//
// The codec is pure and stateless: Encode/Decode never touch protocol
// state, timers, or the network.
package packet

import (
	"encoding/binary"

	"github.com/rdtlab/rdt-go/internal/rdterr"
)

// Kind identifies the packet's role in a protocol's state machine.
type Kind uint8

const (
	KindData Kind = iota
	KindACK
	KindNAK
	KindSYN
	KindSYNACK
	KindFIN
	KindFINACK
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindACK:
		return "ACK"
	case KindNAK:
		return "NAK"
	case KindSYN:
		return "SYN"
	case KindSYNACK:
		return "SYN_ACK"
	case KindFIN:
		return "FIN"
	case KindFINACK:
		return "FIN_ACK"
	default:
		return "UNKNOWN"
	}
}

// Flag bits, protocol-specific markers carried in the header's flags byte.
type Flag uint8

const (
	// FlagDup marks a segment as a retransmission, informative only
	// (never required for correctness, useful for logging/tests).
	FlagDup Flag = 1 << iota
)

const headerSize = 14

// Packet is the in-memory representation of a decoded frame (spec.md §3).
type Packet struct {
	Kind    Kind
	Flags   Flag
	Seq     uint32
	Ack     uint32
	Payload []byte
}

// HasFlag reports whether f is set.
func (p Packet) HasFlag(f Flag) bool {
	return p.Flags&f != 0
}

// Encode serializes p into a newly allocated byte slice, computing and
// filling in the checksum field.
func Encode(p Packet) []byte {
	buf := make([]byte, headerSize+len(p.Payload))
	buf[0] = byte(p.Kind)
	buf[1] = byte(p.Flags)
	binary.BigEndian.PutUint32(buf[2:6], p.Seq)
	binary.BigEndian.PutUint32(buf[6:10], p.Ack)
	// buf[10:12] checksum left zero for computation
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.Payload)))
	copy(buf[headerSize:], p.Payload)

	sum := checksum(buf)
	binary.BigEndian.PutUint16(buf[10:12], sum)
	return buf
}

// Decode parses a frame produced by Encode, verifying frame length and
// checksum. It returns rdterr.ErrCorruption (wrapped) when either check
// fails; a decode failure is indistinguishable, by design, from a
// packet that was never sent (spec.md §3).
func Decode(frame []byte) (Packet, error) {
	if len(frame) < headerSize {
		return Packet{}, rdterr.Wrap(rdterr.ErrCorruption, "frame shorter than header")
	}

	payloadLen := int(binary.BigEndian.Uint16(frame[12:14]))
	if headerSize+payloadLen != len(frame) {
		return Packet{}, rdterr.Wrap(rdterr.ErrCorruption, "payload length inconsistent with frame size")
	}

	gotSum := binary.BigEndian.Uint16(frame[10:12])
	verify := make([]byte, len(frame))
	copy(verify, frame)
	binary.BigEndian.PutUint16(verify[10:12], 0)
	if checksum(verify) != gotSum {
		return Packet{}, rdterr.Wrap(rdterr.ErrCorruption, "checksum mismatch")
	}

	payload := make([]byte, payloadLen)
	copy(payload, frame[headerSize:])

	return Packet{
		Kind:    Kind(frame[0]),
		Flags:   Flag(frame[1]),
		Seq:     binary.BigEndian.Uint32(frame[2:6]),
		Ack:     binary.BigEndian.Uint32(frame[6:10]),
		Payload: payload,
	}, nil
}

// checksum computes the RFC 1071 ones-complement 16-bit checksum over
// buf (with the checksum field already expected to be zero), padding an
// odd-length buffer with one zero byte for the sum only.
func checksum(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
