package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// SchemeL402 is the current name of the payment challenge scheme.
	SchemeL402 = "L402"

	// SchemeLSAT is the legacy name still sent by older servers.
	SchemeLSAT = "LSAT"

	paramMacaroon = "macaroon"
	paramInvoice  = "invoice"
)

// Challenge is a parsed L402 payment challenge.
type Challenge struct {
	Scheme   string            `json:"scheme"`
	Macaroon string            `json:"macaroon"`
	Invoice  string            `json:"invoice"`
	Params   map[string]string `json:"params,omitempty"`
}

// Validate checks the fields a challenge needs before it can be paid.
func (c Challenge) Validate() error {
	if canonicalScheme(c.Scheme) == "" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrMalformedChallenge, c.Scheme)
	}
	if c.Macaroon == "" {
		return fmt.Errorf("%w: empty macaroon", ErrMalformedChallenge)
	}
	if c.Invoice == "" {
		return fmt.Errorf("%w: empty invoice", ErrMalformedChallenge)
	}
	return nil
}

// String renders the challenge in WWW-Authenticate form. Auxiliary parameters
// follow the required ones in lexical order.
func (c Challenge) String() string {
	var b strings.Builder
	b.WriteString(c.Scheme)
	b.WriteString(" ")
	writeParam(&b, paramMacaroon, c.Macaroon)
	b.WriteString(", ")
	writeParam(&b, paramInvoice, c.Invoice)

	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(", ")
		writeParam(&b, k, c.Params[k])
	}
	return b.String()
}

func writeParam(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(`="`)
	for i := 0; i < len(value); i++ {
		if value[i] == '"' || value[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(value[i])
	}
	b.WriteByte('"')
}

// ParseChallenge parses a single WWW-Authenticate value of the form
//
//	L402 macaroon="AGIA...", invoice="lnbc1...", version="0"
//
// Parameter names are case-insensitive. Unknown parameters are kept in Params,
// repeated parameters are rejected.
func ParseChallenge(header string) (Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Challenge{}, ErrMissingHeader
	}

	schemeEnd := strings.IndexAny(header, " \t")
	rawScheme, rest := header, ""
	if schemeEnd >= 0 {
		rawScheme, rest = header[:schemeEnd], header[schemeEnd+1:]
	}
	scheme := canonicalScheme(rawScheme)
	if scheme == "" {
		return Challenge{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedChallenge, rawScheme)
	}

	params, err := parseParams(rest)
	if err != nil {
		return Challenge{}, err
	}

	challenge := Challenge{
		Scheme:   scheme,
		Macaroon: params[paramMacaroon],
		Invoice:  params[paramInvoice],
	}
	delete(params, paramMacaroon)
	delete(params, paramInvoice)
	if len(params) > 0 {
		challenge.Params = params
	}

	if err := challenge.Validate(); err != nil {
		return Challenge{}, err
	}
	return challenge, nil
}

// ParseChallengeHeaders returns the first L402 challenge among several
// WWW-Authenticate values. A server may offer Bearer or LSAT alongside L402.
func ParseChallengeHeaders(values []string) (Challenge, error) {
	var firstErr error
	for _, v := range values {
		c, err := ParseChallenge(v)
		if err == nil {
			return c, nil
		}
		if firstErr == nil || errors.Is(firstErr, ErrMissingHeader) {
			firstErr = err
		}
	}
	if firstErr == nil {
		return Challenge{}, ErrMissingHeader
	}
	return Challenge{}, firstErr
}

func canonicalScheme(s string) string {
	switch {
	case strings.EqualFold(s, SchemeL402):
		return SchemeL402
	case strings.EqualFold(s, SchemeLSAT):
		return SchemeLSAT
	default:
		return ""
	}
}

// parseParams reads a comma separated auth-param list. Empty list elements are
// tolerated as RFC 7235 allows them.
func parseParams(s string) (map[string]string, error) {
	p := paramScanner{s: s}
	params := make(map[string]string)

	for {
		p.skipSpace()
		if p.done() {
			return params, nil
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}

		name := strings.ToLower(p.readName())
		if name == "" {
			return nil, fmt.Errorf("%w: expected parameter name at offset %d", ErrMalformedChallenge, p.pos)
		}
		p.skipSpace()
		if p.done() || p.peek() != '=' {
			return nil, fmt.Errorf("%w: parameter %q has no value", ErrMalformedChallenge, name)
		}
		p.pos++
		p.skipSpace()

		value, err := p.readValue()
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrMalformedChallenge, name, err)
		}
		if _, dup := params[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrMalformedChallenge, name)
		}
		params[name] = value

		p.skipSpace()
		if !p.done() && p.peek() != ',' {
			return nil, fmt.Errorf("%w: expected ',' after parameter %q", ErrMalformedChallenge, name)
		}
	}
}

type paramScanner struct {
	s   string
	pos int
}

func (p *paramScanner) done() bool { return p.pos >= len(p.s) }

func (p *paramScanner) peek() byte { return p.s[p.pos] }

func (p *paramScanner) skipSpace() {
	for !p.done() && (p.peek() == ' ' || p.peek() == '\t') {
		p.pos++
	}
}

func (p *paramScanner) readName() string {
	start := p.pos
	for !p.done() && isTokenChar(p.peek()) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *paramScanner) readValue() (string, error) {
	if p.done() {
		return "", fmt.Errorf("missing value")
	}
	if p.peek() != '"' {
		start := p.pos
		for !p.done() && !strings.ContainsRune(", \t\"", rune(p.peek())) {
			p.pos++
		}
		if p.pos == start {
			return "", fmt.Errorf("empty value")
		}
		return p.s[start:p.pos], nil
	}

	p.pos++
	var b strings.Builder
	for !p.done() {
		c := p.peek()
		p.pos++
		switch c {
		case '\\':
			if p.done() {
				return "", fmt.Errorf("unterminated escape")
			}
			b.WriteByte(p.peek())
			p.pos++
		case '"':
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated quoted string")
}

// isTokenChar reports whether c is an RFC 7230 tchar.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
