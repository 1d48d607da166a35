package directive

import (
	"errors"
	"maps"
	"slices"
)

var (
	// ErrNoBinding indicates no pcr_<N>= directive names the authenticating
	// user. The attempt must be rejected; there is no default register.
	ErrNoBinding = errors.New("directive: no register bound to user")
	// ErrEmptyUsername indicates Parse was called without a username.
	ErrEmptyUsername = errors.New("directive: username must not be empty")
)

// Policy is the configuration resolved for one user from a directive list.
type Policy struct {
	username string
	register Register
	resolved bool
	bindings map[string]Register
	identity string
	messages []string
	options  Options
	ignored  []string
}

// Parse evaluates args in order for username. Later directives override
// earlier ones for single-valued settings; hmac_msg= values accumulate.
// ErrNoBinding is returned together with the partially built policy so that
// callers can still inspect it for diagnostics.
func Parse(args []string, username string) (*Policy, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	p := &Policy{
		username: username,
		bindings: make(map[string]Register),
		identity: DefaultIdentity,
		options:  DefaultOptions(),
	}
	for _, raw := range args {
		switch d := ParseDirective(raw).(type) {
		case RegisterBinding:
			p.bindings[d.User] = d.Register
			if d.User == username {
				p.register = d.Register
				p.resolved = true
			}
		case IdentityOverride:
			if d.Name != "" {
				p.identity = d.Name
			}
		case ChainMessage:
			p.messages = append(p.messages, d.Text)
		case Option:
			p.options.apply(d)
		case Unrecognized:
			p.ignored = append(p.ignored, d.Raw)
		}
	}

	if !p.resolved {
		return p, ErrNoBinding
	}
	return p, nil
}

// Username returns the user the policy was resolved for.
func (p *Policy) Username() string { return p.username }

// Register returns the register bound to the user. ok is false when no
// pcr_<N>= directive named the user; register 0 is a valid PCR and must not
// be mistaken for "unbound".
func (p *Policy) Register() (reg Register, ok bool) { return p.register, p.resolved }

// Identity returns the account privileged tools run as.
func (p *Policy) Identity() string { return p.identity }

// Messages returns a copy of the ordered chain messages.
func (p *Policy) Messages() []string { return slices.Clone(p.messages) }

// Bindings returns a copy of every user to register binding seen.
func (p *Policy) Bindings() map[string]Register { return maps.Clone(p.bindings) }

// Options returns the backend settings.
func (p *Policy) Options() Options { return p.options }

// Ignored returns the tokens that were not understood.
func (p *Policy) Ignored() []string { return slices.Clone(p.ignored) }
