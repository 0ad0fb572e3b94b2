// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package address provides the validated identifier for a local or
// remote party: "local@domain/resource", where the "local@" prefix and
// the "/resource" suffix are both optional.
//
// Address is an immutable value type and is comparable with ==. The
// zero value is the empty address, used when no account is configured;
// it is never produced by Parse.
package address

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxPartLength bounds each of the three parts, in bytes.
	maxPartLength = 1023

	// forbiddenLocalChars may not appear in the local part.
	forbiddenLocalChars = "\"&'/:<>@"
)

// Address identifies a party. See the package documentation for the
// textual form.
type Address struct {
	local    string
	domain   string
	resource string
}

// Empty is the address of "no account configured".
var Empty = Address{}

// Parse validates and wraps a raw address string. Returns an error if
// the string is empty, contains whitespace or control characters, has
// an empty domain, has an empty local part before '@' or an empty
// resource after '/', or uses a forbidden character in the local part.
func Parse(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("address: empty input")
	}
	if !utf8.ValidString(raw) {
		return Address{}, fmt.Errorf("address: %q is not valid UTF-8", raw)
	}
	for i, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return Address{}, fmt.Errorf("address: %q contains whitespace or control character at position %d", raw, i)
		}
	}

	var parsed Address
	rest := raw

	// The resource is everything after the first '/', and may itself
	// contain '@' and '/'.
	if index := strings.IndexByte(rest, '/'); index >= 0 {
		parsed.resource = rest[index+1:]
		rest = rest[:index]
		if parsed.resource == "" {
			return Address{}, fmt.Errorf("address: %q has an empty resource", raw)
		}
	}

	if index := strings.IndexByte(rest, '@'); index >= 0 {
		parsed.local = rest[:index]
		rest = rest[index+1:]
		if parsed.local == "" {
			return Address{}, fmt.Errorf("address: %q has an empty local part", raw)
		}
		if strings.ContainsAny(parsed.local, forbiddenLocalChars) {
			return Address{}, fmt.Errorf("address: local part %q contains a forbidden character (%s)", parsed.local, forbiddenLocalChars)
		}
	}

	parsed.domain = strings.ToLower(rest)
	if parsed.domain == "" {
		return Address{}, fmt.Errorf("address: %q has an empty domain", raw)
	}
	if strings.ContainsAny(parsed.domain, "@/") {
		return Address{}, fmt.Errorf("address: domain %q contains '@' or '/'", parsed.domain)
	}
	if strings.HasPrefix(parsed.domain, ".") || strings.HasSuffix(parsed.domain, ".") || strings.Contains(parsed.domain, "..") {
		return Address{}, fmt.Errorf("address: domain %q has an empty label", parsed.domain)
	}

	for _, part := range []string{parsed.local, parsed.domain, parsed.resource} {
		if len(part) > maxPartLength {
			return Address{}, fmt.Errorf("address: part of %q exceeds %d bytes", raw, maxPartLength)
		}
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use in tests and static
// initialization where the input is known-valid.
func MustParse(raw string) Address {
	parsed, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("address.MustParse(%q): %v", raw, err))
	}
	return parsed
}

// IsEmpty reports whether a is the empty address.
func (a Address) IsEmpty() bool { return a == Empty }

// Local returns the part before '@', or "" for a domain-only address.
func (a Address) Local() string { return a.local }

// Domain returns the domain part. Domains are stored lower-cased.
func (a Address) Domain() string { return a.domain }

// Resource returns the part after '/', or "" for a bare address.
func (a Address) Resource() string { return a.resource }

// IsBare reports whether the address has no resource.
func (a Address) IsBare() bool { return a.resource == "" }

// Bare returns the address with the resource removed.
func (a Address) Bare() Address {
	return Address{local: a.local, domain: a.domain}
}

// WithResource returns a full address for the given resource. Returns
// an error if a is empty or the resource would not parse.
func (a Address) WithResource(resource string) (Address, error) {
	if a.IsEmpty() {
		return Address{}, fmt.Errorf("address: WithResource on empty address")
	}
	return Parse(a.Bare().String() + "/" + resource)
}

// String returns the textual form, or "" for the empty address.
func (a Address) String() string {
	if a.IsEmpty() {
		return ""
	}
	var builder strings.Builder
	if a.local != "" {
		builder.WriteString(a.local)
		builder.WriteByte('@')
	}
	builder.WriteString(a.domain)
	if a.resource != "" {
		builder.WriteByte('/')
		builder.WriteString(a.resource)
	}
	return builder.String()
}

// MarshalText implements encoding.TextMarshaler. The empty address
// marshals to an empty string.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the empty address.
func (a *Address) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
