package target

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Space identifies the processor security state an address belongs to.
type Space uint8

const (
	// SpaceAny is an untagged address. It is interpreted in whatever
	// security state the core is currently executing in.
	SpaceAny Space = iota
	// SpaceSecure is the TrustZone secure world.
	SpaceSecure
	// SpaceNonSecure is the TrustZone non-secure world.
	SpaceNonSecure
)

// String returns the short tag used in address literals ("S", "N").
// SpaceAny has no tag.
func (s Space) String() string {
	switch s {
	case SpaceSecure:
		return "S"
	case SpaceNonSecure:
		return "N"
	default:
		return ""
	}
}

// Name returns a human readable name for logs.
func (s Space) Name() string {
	switch s {
	case SpaceSecure:
		return "secure"
	case SpaceNonSecure:
		return "nonsecure"
	default:
		return "any"
	}
}

// ParseSpace maps a space tag to a Space. Tags are case-insensitive.
func ParseSpace(tag string) (Space, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "", "ANY":
		return SpaceAny, nil
	case "S", "SECURE", "EL3":
		return SpaceSecure, nil
	case "N", "NS", "NONSECURE", "NON-SECURE":
		return SpaceNonSecure, nil
	default:
		return SpaceAny, fmt.Errorf("unknown address space %q", tag)
	}
}

// Address is a concrete target address qualified by security space.
type Address struct {
	Space Space
	Value uint64
}

// Secure returns a secure-world address.
func Secure(v uint64) Address { return Address{Space: SpaceSecure, Value: v} }

// NonSecure returns a non-secure-world address.
func NonSecure(v uint64) Address { return Address{Space: SpaceNonSecure, Value: v} }

// Untagged returns an address without a space qualifier.
func Untagged(v uint64) Address { return Address{Value: v} }

func (a Address) String() string {
	if a.Space == SpaceAny {
		return fmt.Sprintf("0x%08x", a.Value)
	}
	return fmt.Sprintf("%s:0x%08x", a.Space, a.Value)
}

// MarshalText encodes the address in literal form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses an address literal.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Matches reports whether a and b name the same location. An untagged
// address matches either space with the same value.
func (a Address) Matches(b Address) bool {
	if a.Value != b.Value {
		return false
	}
	return a.Space == SpaceAny || b.Space == SpaceAny || a.Space == b.Space
}

// In returns a with its space set to s when a is untagged.
func (a Address) In(s Space) Address {
	if a.Space == SpaceAny {
		a.Space = s
	}
	return a
}

// addressLiteral is the grammar for "[tag:]number".
type addressLiteral struct {
	Tag   string `parser:"( @Ident ':' )?"`
	Value string `parser:"@Number"`
}

var addressParser = participle.MustBuild[addressLiteral](
	participle.Lexer(lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|[0-9]+`},
		{Name: "Ident", Pattern: `[A-Za-z][A-Za-z\-]*`},
		{Name: "Punct", Pattern: `:`},
		{Name: "Whitespace", Pattern: `\s+`},
	})),
	participle.Elide("Whitespace"),
)

// ParseAddress parses an address literal such as "0x100000",
// "S:0x0" or "N:0x60000000".
func ParseAddress(s string) (Address, error) {
	lit, err := addressParser.ParseString("", s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return lit.address()
}

func (l *addressLiteral) address() (Address, error) {
	space, err := ParseSpace(l.Tag)
	if err != nil {
		return Address{}, err
	}
	v, err := ParseNumber(l.Value)
	if err != nil {
		return Address{}, err
	}
	return Address{Space: space, Value: v}, nil
}

// ParseNumber parses a decimal or 0x-prefixed hexadecimal number.
func ParseNumber(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}
