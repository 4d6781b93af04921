package email

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// Address is a parsed email address: an optional display name plus the
// addr-spec (local-part@domain). Construct via ParseAddress or
// ParseAddressList; the zero value means "no address".
type Address struct {
	DisplayName string
	AddrSpec    string
}

// specials are the RFC 5322 characters that force a display name into a
// quoted-string when formatting.
const specials = `()<>@,;:\".[]`

// ParseAddress parses a single free-form address string
// ("name <local@domain>" or bare "local@domain").
func ParseAddress(s string) (Address, error) {
	addrs, err := ParseAddressList([]string{s})
	if err != nil {
		return Address{}, err
	}
	if len(addrs) != 1 {
		return Address{}, fmt.Errorf("%w: expected a single address in %q, got %d", ErrInvalidAddress, s, len(addrs))
	}
	return addrs[0], nil
}

// ParseAddressList parses a list of free-form address strings. Each element
// may itself contain multiple comma-separated addresses (commas inside
// quoted-strings or angle brackets do not split). A nil or empty input yields
// an empty result, which callers use to signal "use the provider default".
// Input order is preserved.
func ParseAddressList(inputs []string) ([]Address, error) {
	var out []Address
	for _, raw := range inputs {
		if strings.ContainsAny(raw, "\r\n") {
			return nil, fmt.Errorf("%w: %q must not contain CR or LF", ErrInvalidAddress, raw)
		}
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
		}
		parsed, err := mail.ParseAddressList(raw)
		if err != nil {
			return nil, invalidAddressError(raw)
		}
		for _, a := range parsed {
			addr := Address{DisplayName: a.Name, AddrSpec: a.Address}
			if err := addr.validate(); err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// invalidAddressError builds the parse failure, adding a hint when the
// string looks like an unquoted display name containing a comma
// ("Display Name, Inc. <addr>" splits into a bogus first address).
func invalidAddressError(raw string) error {
	if i := strings.Index(raw, ","); i >= 0 && !strings.Contains(raw[:i], "@") && strings.Contains(raw, "<") {
		return fmt.Errorf("%w: %q (maybe missing quotes around a display-name?)", ErrInvalidAddress, raw)
	}
	return fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
}

func (a Address) validate() error {
	local, domain, ok := strings.Cut(a.AddrSpec, "@")
	if !ok || local == "" || domain == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, a.AddrSpec)
	}
	return nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.AddrSpec == "" && a.DisplayName == "" }

// Username returns the local part of the addr-spec.
func (a Address) Username() string {
	local, _, _ := strings.Cut(a.AddrSpec, "@")
	return local
}

// Domain returns the domain part of the addr-spec.
func (a Address) Domain() string {
	_, domain, _ := strings.Cut(a.AddrSpec, "@")
	return domain
}

// UsesEAI reports whether the local part contains non-ASCII characters
// (Email Address Internationalization). Such addresses cannot be downgraded
// with IDNA; providers that reject EAI must be detected before sending.
func (a Address) UsesEAI() bool { return !isASCII(a.Username()) }

// String formats the address for an RFC 5322 header. Display names
// containing specials are quoted; non-ASCII display names are kept as raw
// UTF-8 (use EncodedString for an RFC 2047 form).
func (a Address) String() string {
	if a.DisplayName == "" {
		return a.AddrSpec
	}
	return QuoteDisplayName(a.DisplayName, false) + " <" + a.AddrSpec + ">"
}

// EncodedString is like String but applies RFC 2047 encoded-word encoding to
// non-ASCII display names.
func (a Address) EncodedString() string {
	if a.DisplayName == "" {
		return a.AddrSpec
	}
	name := a.DisplayName
	if !isASCII(name) {
		name = EncodeRFC2047(name)
	} else {
		name = QuoteDisplayName(name, false)
	}
	return name + " <" + a.AddrSpec + ">"
}

// IDNAAddrSpec returns the addr-spec with the domain converted to its IDNA
// ASCII form. The local part is left untouched (EAI local parts cannot be
// IDNA-encoded).
func (a Address) IDNAAddrSpec() (string, error) {
	local, domain, ok := strings.Cut(a.AddrSpec, "@")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, a.AddrSpec)
	}
	if isASCII(domain) {
		return a.AddrSpec, nil
	}
	encoded, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("%w: cannot IDNA-encode domain of %q: %v", ErrInvalidAddress, a.AddrSpec, err)
	}
	return local + "@" + encoded, nil
}

// QuoteDisplayName wraps a display name in a quoted-string when it contains
// RFC 5322 specials (or always, when force is set), escaping backslashes and
// double quotes.
func QuoteDisplayName(name string, force bool) string {
	if !force && !strings.ContainsAny(name, specials) {
		return name
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return `"` + escaped + `"`
}

// EncodeRFC2047 encodes a string as an RFC 2047 encoded-word (quoted
// printable for mostly-ASCII input, base64 otherwise).
func EncodeRFC2047(s string) string {
	if nonASCIICount(s)*3 > len(s) {
		return mime.BEncoding.Encode("utf-8", s)
	}
	return mime.QEncoding.Encode("utf-8", s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func nonASCIICount(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			n++
		}
	}
	return n
}
