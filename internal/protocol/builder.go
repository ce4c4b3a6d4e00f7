package protocol

import (
	"bytes"
)

// PacketBuilder constructs outbound text datagrams.
type PacketBuilder struct {
	buf    bytes.Buffer
	fields int
}

// NewPacketBuilder starts a datagram with the given command code.
func NewPacketBuilder(command string) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.WriteString(command)
	return b
}

// Field appends one argument field. Empty fields are kept so positions line up.
func (b *PacketBuilder) Field(v string) *PacketBuilder {
	if b.fields == 0 {
		b.buf.WriteByte(' ')
	} else {
		b.buf.WriteString(FieldSeparator)
	}
	b.buf.WriteString(v)
	b.fields++
	return b
}

// Fields appends several argument fields in order.
func (b *PacketBuilder) Fields(vs ...string) *PacketBuilder {
	for _, v := range vs {
		b.Field(v)
	}
	return b
}

// Raw appends a preformatted argument string as a single unit.
func (b *PacketBuilder) Raw(args string) *PacketBuilder {
	if args == "" {
		return b
	}
	return b.Field(args)
}

// Bytes returns the encoded datagram.
func (b *PacketBuilder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// Build encodes a command and its fields.
func Build(command string, fields ...string) []byte {
	return NewPacketBuilder(command).Fields(fields...).Bytes()
}

// BuildRaw encodes a command with an already-joined argument string.
func BuildRaw(command, args string) []byte {
	return NewPacketBuilder(command).Raw(args).Bytes()
}

// BuildList encodes an ack followed by a colon-joined list. An empty list
// still carries the trailing space so clients see an empty argument string.
func BuildList(command string, items []string) []byte {
	if len(items) == 0 {
		return []byte(command + " ")
	}
	return Build(command, items...)
}
