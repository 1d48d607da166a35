package tpm2

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
)

// Common errors returned by the runner and its extenders.
var (
	// ErrOperation is matched by every failed reset or extend.
	ErrOperation = errors.New("tpm2: privileged operation failed")
	// ErrLaunch indicates the child process could not be created.
	ErrLaunch = errors.New("tpm2: process could not be created")
	// ErrAbnormalExit indicates the child was killed or otherwise did not exit normally.
	ErrAbnormalExit = errors.New("tpm2: process terminated abnormally")
	// ErrNonZeroExit indicates the child exited with a failure code.
	ErrNonZeroExit = errors.New("tpm2: process exited non-zero")
	// ErrTPMUnavailable indicates the TPM device is not accessible.
	ErrTPMUnavailable = errors.New("tpm2: device unavailable")
	// ErrDevice indicates the TPM rejected a command.
	ErrDevice = errors.New("tpm2: device command failed")
	// ErrInvalidRegister indicates the register cannot be addressed on the device.
	ErrInvalidRegister = errors.New("tpm2: invalid PCR index")
	// ErrNilRunner indicates a nil runner was used.
	ErrNilRunner = errors.New("tpm2: runner is nil")
)

// Step names one half of the reset-then-extend protocol.
type Step string

const (
	StepReset  Step = "reset"
	StepExtend Step = "extend"
)

// OperationError describes a failed reset or extend.
type OperationError struct {
	Step     Step
	Register directive.Register
	// Tool is the program path, or the device path for the device backend.
	Tool string
	// ExitCode is the child's exit status, or -1 when it did not exit normally.
	ExitCode int
	// Signal is set when the child was terminated by a signal.
	Signal string
	Err    error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tpm2: %s of PCR %d", e.Step, e.Register)
	if e.Tool != "" {
		fmt.Fprintf(&b, " via %s", e.Tool)
	}
	b.WriteString(" failed")
	if e.Signal != "" {
		fmt.Fprintf(&b, " (signal: %s)", e.Signal)
	} else if e.ExitCode > 0 {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both ErrOperation and the underlying cause.
func (e *OperationError) Unwrap() []error {
	return []error{ErrOperation, e.Err}
}
