package email

import (
	"fmt"
	"net/mail"

	"github.com/samber/lo"
)

// Address is a single email participant.
type Address struct {
	Address string `json:"address" yaml:"address" validate:"required"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Valid reports whether the address is a bare, syntactically valid mailbox.
// Display-name forms such as "Bob <bob@example.com>" are rejected because the
// name travels separately.
func (a Address) Valid() bool {
	if a.Address == "" {
		return false
	}
	parsed, err := mail.ParseAddress(a.Address)
	if err != nil {
		return false
	}
	return parsed.Address == a.Address
}

// Display returns the name if set, otherwise the address itself.
func (a Address) Display() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// String formats the address for a MIME header.
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Field selects one of the recipient collections of a Message.
type Field int

const (
	FieldTo Field = iota
	FieldCc
	FieldBcc
	FieldReplyTo
)

func (f Field) String() string {
	switch f {
	case FieldTo:
		return "to"
	case FieldCc:
		return "cc"
	case FieldBcc:
		return "bcc"
	case FieldReplyTo:
		return "replyTo"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// ValidAddresses returns the addresses that pass syntax validation, in order.
func ValidAddresses(addrs []Address) []Address {
	return lo.Filter(addrs, func(a Address, _ int) bool {
		return a.Valid()
	})
}

// Bare returns the plain mailbox strings of the given addresses.
func Bare(addrs []Address) []string {
	return lo.Map(addrs, func(a Address, _ int) string {
		return a.Address
	})
}
