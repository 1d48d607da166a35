package pam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/logging"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
	"github.com/jeremyhahn/pam-pcr/pkg/secret"
	"github.com/jeremyhahn/pam-pcr/pkg/tpm2"
)

// Flags mirrors the PAM flags the module cares about.
type Flags uint32

// Silent is PAM_SILENT: the module must not produce user visible output.
const Silent Flags = 0x8000

// Errors returned by Module. The cgo bridge maps them to PAM status codes.
var (
	// ErrCredInsufficient indicates no PCR is bound to the user.
	ErrCredInsufficient = errors.New("pam: insufficient credential configuration")
	// ErrInput indicates the application could not supply the user or token.
	ErrInput = errors.New("pam: credentials unavailable")
	// ErrAuth indicates the measurement could not be derived or recorded.
	ErrAuth = errors.New("pam: authentication failure")
	// ErrSystem indicates the module arguments describe an unusable backend.
	ErrSystem = errors.New("pam: module misconfigured")
	// ErrNilTransaction indicates Authenticate was called without a transaction.
	ErrNilTransaction = errors.New("pam: transaction is nil")
)

// PasswordPrompt is shown when no earlier module stored an auth token.
const PasswordPrompt = "Password: "

// syslogTag identifies the module in syslog.
const syslogTag = "pam_pcr"

// Transaction is the part of a PAM module transaction the hook needs.
type Transaction interface {
	// User returns the user being authenticated.
	User() (string, error)
	// AuthTok returns the stored auth token or prompts for one.
	AuthTok(prompt string) (string, error)
}

// Module implements pam_sm_authenticate: it derives a measurement from the
// user's token and records it in the PCR bound to that user.
type Module struct {
	deriver    *measure.Deriver
	logger     logging.Logger
	stdout     io.Writer
	stderr     io.Writer
	runnerOpts []tpm2.Option
}

// ModuleOption customises a Module.
type ModuleOption func(*Module)

// WithLogger sends diagnostics to l instead of stderr or syslog. Silent
// calls bypass l like they bypass stderr.
func WithLogger(l logging.Logger) ModuleOption {
	return func(m *Module) { m.logger = l }
}

// WithOutput sets where tool output goes when the call is not silent.
func WithOutput(stdout, stderr io.Writer) ModuleOption {
	return func(m *Module) { m.stdout, m.stderr = stdout, stderr }
}

// WithRunnerOptions passes extra options to every tpm2.Runner.
func WithRunnerOptions(opts ...tpm2.Option) ModuleOption {
	return func(m *Module) { m.runnerOpts = append(m.runnerOpts, opts...) }
}

// WithDeriver replaces the HMAC-SHA256 deriver.
func WithDeriver(d *measure.Deriver) ModuleOption {
	return func(m *Module) { m.deriver = d }
}

// NewModule constructs a Module. It holds no per-attempt state and may be
// shared by concurrent transactions.
func NewModule(opts ...ModuleOption) *Module {
	m := &Module{
		deriver: measure.NewDeriver(nil),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate runs one attempt: resolve the user, parse args, read the
// token, derive the digest, then reset and extend the bound PCR.
func (m *Module) Authenticate(ctx context.Context, txn Transaction, flags Flags, args []string) error {
	if txn == nil {
		return ErrNilTransaction
	}
	if ctx == nil {
		ctx = context.Background()
	}
	silent := flags&Silent != 0

	opts := directive.ParseOptions(args)
	log, closeLog := m.attemptLogger(opts, silent)
	defer closeLog()
	log = log.With("attempt", uuid.NewString())

	username, err := txn.User()
	if err != nil {
		log.Error(ctx, "could not get user", "error", err)
		return fmt.Errorf("%w: get user: %w", ErrInput, err)
	}
	log = log.With("user", username)

	policy, err := directive.Parse(args, username)
	if err != nil {
		log.Warn(ctx, "no pcr bound to user", "error", err)
		return fmt.Errorf("%w: %w", ErrCredInsufficient, err)
	}
	reg, bound := policy.Register()
	if !bound {
		log.Warn(ctx, "no pcr bound to user")
		return fmt.Errorf("%w: %w", ErrCredInsufficient, directive.ErrNoBinding)
	}
	if ignored := policy.Ignored(); len(ignored) > 0 {
		log.Debug(ctx, "ignored module arguments", "args", ignored)
	}

	a, err := newAttempt(txn, policy)
	if err != nil {
		log.Error(ctx, "could not read auth token", "error", err)
		return fmt.Errorf("%w: get auth token: %w", ErrInput, err)
	}
	defer a.wipe()

	if err := a.derive(m.deriver); err != nil {
		log.Error(ctx, "digest derivation failed", "error", err)
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	runner, err := tpm2.NewRunner(tpm2.ConfigFromPolicy(policy), m.runnerOptions(log, silent)...)
	if err != nil {
		log.Error(ctx, "invalid backend configuration", "error", err)
		return fmt.Errorf("%w: %w", ErrSystem, err)
	}
	if err := runner.Measure(ctx, reg, a.digest); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	log.Info(ctx, "login measurement recorded",
		"register", uint32(reg),
		"identity", policy.Identity(),
		"messages", len(policy.Messages()))
	return nil
}

// SetCred implements pam_sm_setcred. The module establishes no credentials.
func (m *Module) SetCred(context.Context, Transaction, Flags, []string) error {
	return nil
}

// AcctMgmt implements pam_sm_acct_mgmt. The module imposes no account policy.
func (m *Module) AcctMgmt(context.Context, Transaction, Flags, []string) error {
	return nil
}

func (m *Module) runnerOptions(log logging.Logger, silent bool) []tpm2.Option {
	opts := []tpm2.Option{tpm2.WithLogger(log)}
	if silent {
		opts = append(opts, tpm2.WithOutput(nil, nil))
	} else {
		opts = append(opts, tpm2.WithOutput(m.stdout, m.stderr))
	}
	return append(opts, m.runnerOpts...)
}

// attemptLogger picks the diagnostic sink for one call. Silent calls drop
// terminal and injected output; syslog is operator facing and stays enabled.
func (m *Module) attemptLogger(opts directive.Options, silent bool) (logging.Logger, func()) {
	if m.logger != nil {
		if silent {
			return logging.Discard(), func() {}
		}
		return m.logger, func() {}
	}
	if opts.Syslog {
		l, closer, err := logging.NewSyslog(syslogTag, opts.Debug)
		if err == nil {
			return l, func() { _ = closer.Close() }
		}
	}
	if silent || m.stderr == nil {
		return logging.Discard(), func() {}
	}
	return logging.NewText(m.stderr, opts.Debug), func() {}
}

// attempt holds the sensitive state of one authentication call.
type attempt struct {
	username string
	messages []string
	token    *secret.Buffer
	digest   measure.Digest
}

func newAttempt(txn Transaction, policy *directive.Policy) (*attempt, error) {
	tok, err := txn.AuthTok(PasswordPrompt)
	if err != nil {
		return nil, err
	}
	return &attempt{
		username: policy.Username(),
		messages: policy.Messages(),
		token:    secret.FromString(tok),
	}, nil
}

func (a *attempt) derive(d *measure.Deriver) error {
	digest, err := d.Derive(a.token.Bytes(), a.username, a.messages)
	// The token is not needed past this point.
	a.token.Wipe()
	if err != nil {
		return err
	}
	a.digest = digest
	digest.Wipe()
	return nil
}

func (a *attempt) wipe() {
	a.token.Wipe()
	a.digest.Wipe()
}
