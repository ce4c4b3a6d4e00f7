package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks a datagram that does not follow the command layout.
	ErrMalformed = errors.New("malformed datagram")
	// ErrUnknownCommand marks a well-formed datagram with an unrecognized code.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArity marks a datagram with the wrong number of fields for its command.
	ErrBadArity = errors.New("wrong number of fields")
)

// Datagram is a decoded inbound message.
type Datagram struct {
	Command string
	Args    string   // raw argument string, used as the ledger match key
	Fields  []string // Args split on ':'
}

// String renders the datagram back to wire form.
func (d Datagram) String() string {
	if d.Args == "" {
		return d.Command
	}
	return d.Command + " " + d.Args
}

// Parse decodes raw bytes into a Datagram without checking the command table.
// Trailing NUL, CR and LF bytes are ignored so console clients can send lines.
func Parse(data []byte) (Datagram, error) {
	if len(data) > MaxDatagramSize {
		return Datagram{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformed, len(data), MaxDatagramSize)
	}

	text := strings.TrimRight(string(data), "\x00\r\n")
	if len(text) < CommandLength {
		return Datagram{}, fmt.Errorf("%w: %d bytes is shorter than a command", ErrMalformed, len(text))
	}

	d := Datagram{Command: text[:CommandLength]}
	rest := text[CommandLength:]
	if rest != "" {
		if rest[0] != ' ' {
			return Datagram{}, fmt.Errorf("%w: expected space after %q", ErrMalformed, d.Command)
		}
		d.Args = rest[1:]
	}
	d.Fields = SplitFields(d.Args)
	return d, nil
}

// Decode parses data and validates the command and its arity.
func Decode(data []byte) (Datagram, error) {
	d, err := Parse(data)
	if err != nil {
		return d, err
	}
	if err := Validate(d); err != nil {
		return d, err
	}
	return d, nil
}

// Validate checks the command against the arity table.
func Validate(d Datagram) error {
	arity, ok := ArityOf(d.Command)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, d.Command)
	}
	if !arity.Accepts(len(d.Fields)) {
		return fmt.Errorf("%w: %s got %d", ErrBadArity, d.Command, len(d.Fields))
	}
	return nil
}

// SplitFields splits an argument string on ':'. The empty string has no fields.
func SplitFields(args string) []string {
	if args == "" {
		return nil
	}
	return strings.Split(args, FieldSeparator)
}

// JoinFields joins fields with ':'.
func JoinFields(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}

// JoinConfirmation splits the fields of a pjack confirmation
// (playerId:endpoint:region:lobby). The endpoint itself contains ':' so it is
// everything between the first field and the last two.
func JoinConfirmation(fields []string) (player, endpoint, region, lobby string, err error) {
	if len(fields) < 4 {
		return "", "", "", "", fmt.Errorf("%w: join confirmation needs 4 fields, got %d", ErrBadArity, len(fields))
	}
	n := len(fields)
	return fields[0], JoinFields(fields[1 : n-2]...), fields[n-2], fields[n-1], nil
}
