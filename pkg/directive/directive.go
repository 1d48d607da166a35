// Package directive parses the PAM module argument list into a Policy.
package directive

import (
	"strconv"
	"strings"
)

const (
	registerPrefix = "pcr_"
	identityPrefix = "as_user="
	messagePrefix  = "hmac_msg="
)

// Register identifies a PCR slot.
type Register uint32

// String renders the register as a decimal index.
func (r Register) String() string {
	return strconv.FormatUint(uint64(r), 10)
}

// Directive is one parsed configuration token. The concrete types are
// RegisterBinding, IdentityOverride, ChainMessage, Option and Unrecognized.
type Directive interface {
	directive()
}

// RegisterBinding binds a register to a user (pcr_<N>=<user>).
type RegisterBinding struct {
	Register Register
	User     string
}

// IdentityOverride names the account privileged tools run as (as_user=<name>).
type IdentityOverride struct {
	Name string
}

// ChainMessage is an auxiliary message chained into the digest (hmac_msg=<text>).
type ChainMessage struct {
	Text string
}

// Option is a backend setting. Bare flags such as "debug" have an empty Value.
type Option struct {
	Key   string
	Value string
}

// Unrecognized is any token the parser does not understand. It is ignored.
type Unrecognized struct {
	Raw string
}

func (RegisterBinding) directive()  {}
func (IdentityOverride) directive() {}
func (ChainMessage) directive()     {}
func (Option) directive()           {}
func (Unrecognized) directive()     {}

// ParseDirective classifies a single raw token.
func ParseDirective(raw string) Directive {
	switch {
	case strings.HasPrefix(raw, registerPrefix):
		return parseBinding(raw)
	case strings.HasPrefix(raw, identityPrefix):
		return IdentityOverride{Name: raw[len(identityPrefix):]}
	case strings.HasPrefix(raw, messagePrefix):
		return ChainMessage{Text: raw[len(messagePrefix):]}
	}

	key, value, hasValue := strings.Cut(raw, "=")
	if _, known := optionKeys[key]; known {
		if flagOption(key) == hasValue {
			return Unrecognized{Raw: raw}
		}
		return Option{Key: key, Value: value}
	}
	return Unrecognized{Raw: raw}
}

func parseBinding(raw string) Directive {
	index, user, ok := strings.Cut(raw[len(registerPrefix):], "=")
	if !ok || !isDecimal(index) {
		return Unrecognized{Raw: raw}
	}
	n, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return Unrecognized{Raw: raw}
	}
	return RegisterBinding{Register: Register(n), User: user}
}

// isDecimal rejects signs, whitespace and empty strings that ParseUint or a
// scanf-style reader would otherwise tolerate.
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
