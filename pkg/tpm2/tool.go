package tpm2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
)

// Escalator turns a tool invocation into one that runs as another account.
type Escalator interface {
	Wrap(identity, tool string, args ...string) (name string, argv []string)
}

// Sudo runs tools through sudo -u <identity> --.
type Sudo struct {
	Path string
}

// Wrap implements Escalator.
func (s Sudo) Wrap(identity, tool string, args ...string) (string, []string) {
	path := s.Path
	if path == "" {
		path = directive.DefaultSudo
	}
	argv := make([]string, 0, 4+len(args))
	argv = append(argv, "-u", identity, "--", tool)
	return path, append(argv, args...)
}

// Direct runs tools as the calling process, ignoring the identity.
type Direct struct{}

// Wrap implements Escalator.
func (Direct) Wrap(_ string, tool string, args ...string) (string, []string) {
	return tool, args
}

// waitDelay bounds how long Wait keeps copying output after the child was
// killed on timeout. Grandchildren of sudo may hold the pipes open.
const waitDelay = 2 * time.Second

// ToolExtender drives PCRs through the tpm2-tools command line programs.
type ToolExtender struct {
	ResetTool  string
	ExtendTool string
	Identity   string
	Escalator  Escalator
	// Stdout and Stderr receive the children's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

var _ Extender = (*ToolExtender)(nil)

// ResetArgument renders the reset tool argument for reg.
func ResetArgument(reg directive.Register) string {
	return reg.String()
}

// ExtendArgument renders the extend tool argument, <reg>:sha256=<hex>.
func ExtendArgument(reg directive.Register, d measure.Digest) string {
	return reg.String() + ":sha256=" + d.Hex()
}

// Reset implements Extender.
func (t *ToolExtender) Reset(ctx context.Context, reg directive.Register) error {
	return t.run(ctx, StepReset, reg, t.ResetTool, ResetArgument(reg))
}

// Extend implements Extender.
func (t *ToolExtender) Extend(ctx context.Context, reg directive.Register, d measure.Digest) error {
	return t.run(ctx, StepExtend, reg, t.ExtendTool, ExtendArgument(reg, d))
}

// run executes one tool synchronously and classifies how it ended.
func (t *ToolExtender) run(ctx context.Context, step Step, reg directive.Register, tool, arg string) error {
	esc := t.Escalator
	if esc == nil {
		esc = Sudo{}
	}
	name, argv := esc.Wrap(t.Identity, tool, arg)

	cmd := exec.CommandContext(ctx, name, argv...)
	// Nil stdin reads from the null device; the tool cannot be driven by
	// whatever is attached to the PAM application.
	cmd.Stdin = nil
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	cmd.Env = []string{}
	cmd.WaitDelay = waitDelay

	opErr := &OperationError{Step: step, Register: reg, Tool: tool, ExitCode: -1}

	if err := cmd.Start(); err != nil {
		opErr.Err = fmt.Errorf("%w: %w", ErrLaunch, err)
		return opErr
	}
	waitErr := cmd.Wait()

	state := cmd.ProcessState
	switch {
	case state == nil:
		opErr.Err = fmt.Errorf("%w: %w", ErrAbnormalExit, waitErr)
	case !state.Exited():
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			opErr.Signal = ws.Signal().String()
		}
		opErr.Err = ErrAbnormalExit
	case state.ExitCode() != 0:
		opErr.ExitCode = state.ExitCode()
		opErr.Err = ErrNonZeroExit
	default:
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		opErr.Err = errors.Join(opErr.Err, ctxErr)
	}
	return opErr
}
