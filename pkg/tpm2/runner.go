package tpm2

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/logging"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
)

// Extender performs the two privileged PCR operations.
type Extender interface {
	// Reset returns reg to its initial value.
	Reset(ctx context.Context, reg directive.Register) error
	// Extend folds d into reg's SHA-256 bank.
	Extend(ctx context.Context, reg directive.Register, d measure.Digest) error
}

// Runner performs reset-then-extend and reports a single outcome.
type Runner struct {
	cfg       Config
	extender  Extender
	escalator Escalator
	stdout    io.Writer
	stderr    io.Writer
	log       logging.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithExtender replaces the backend selected by Config.
func WithExtender(e Extender) Option {
	return func(r *Runner) { r.extender = e }
}

// WithEscalator replaces sudo for the tool backend.
func WithEscalator(e Escalator) Option {
	return func(r *Runner) { r.escalator = e }
}

// WithOutput sets where tool output goes. Nil writers discard it.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) { r.stdout, r.stderr = stdout, stderr }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner builds a Runner for cfg. Tool output defaults to the process'
// stdout and stderr.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:    cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extender == nil {
		r.extender = r.newExtender()
	}
	return r, nil
}

func (r *Runner) newExtender() Extender {
	if r.cfg.Backend == directive.BackendDevice {
		return &DeviceExtender{Path: r.cfg.DevicePath}
	}
	esc := r.escalator
	if esc == nil {
		esc = Sudo{Path: r.cfg.SudoPath}
	}
	return &ToolExtender{
		ResetTool:  r.cfg.ResetTool,
		ExtendTool: r.cfg.ExtendTool,
		Identity:   r.cfg.Identity,
		Escalator:  esc,
		Stdout:     r.stdout,
		Stderr:     r.stderr,
	}
}

// Measure resets reg and then extends it with d. Extend is never attempted
// when reset fails. A failed extend leaves the register reset.
func (r *Runner) Measure(ctx context.Context, reg directive.Register, d measure.Digest) error {
	if r == nil {
		return ErrNilRunner
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := r.log.With("register", uint32(reg), "backend", r.backend())

	if err := r.step(ctx, func(ctx context.Context) error {
		return r.extender.Reset(ctx, reg)
	}); err != nil {
		return r.fail(ctx, log, StepReset, reg, err)
	}
	log.Debug(ctx, "pcr reset")

	if err := r.step(ctx, func(ctx context.Context) error {
		return r.extender.Extend(ctx, reg, d)
	}); err != nil {
		log.Warn(ctx, "pcr left reset without extension")
		return r.fail(ctx, log, StepExtend, reg, err)
	}
	log.Debug(ctx, "pcr extended")
	return nil
}

func (r *Runner) step(ctx context.Context, fn func(context.Context) error) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (r *Runner) fail(ctx context.Context, log logging.Logger, step Step, reg directive.Register, err error) error {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		opErr = &OperationError{Step: step, Register: reg, ExitCode: -1, Err: err}
	}
	args := []any{"step", string(opErr.Step), "error", opErr.Err}
	if opErr.Tool != "" {
		args = append(args, "tool", opErr.Tool)
	}
	if opErr.ExitCode >= 0 {
		args = append(args, "exit_code", opErr.ExitCode)
	}
	if opErr.Signal != "" {
		args = append(args, "signal", opErr.Signal)
	}
	log.Error(ctx, "privileged pcr operation failed", args...)
	return opErr
}

func (r *Runner) backend() string {
	if r.cfg.Backend == "" {
		return directive.BackendTool
	}
	return r.cfg.Backend
}
