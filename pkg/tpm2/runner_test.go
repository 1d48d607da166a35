package tpm2

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/logging"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
)

type call struct {
	op       Step
	register directive.Register
	digest   measure.Digest
	deadline bool
}

// fakeExtender records calls and fails the configured steps.
type fakeExtender struct {
	mu        sync.Mutex
	calls     []call
	resetErr  error
	extendErr error
}

func (f *fakeExtender) Reset(ctx context.Context, reg directive.Register) error {
	f.record(ctx, call{op: StepReset, register: reg})
	return f.resetErr
}

func (f *fakeExtender) Extend(ctx context.Context, reg directive.Register, d measure.Digest) error {
	f.record(ctx, call{op: StepExtend, register: reg, digest: d})
	return f.extendErr
}

func (f *fakeExtender) record(ctx context.Context, c call) {
	_, c.deadline = ctx.Deadline()
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func newTestRunner(t *testing.T, ext Extender, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(validToolConfig(), append([]Option{WithExtender(ext)}, opts...)...)
	if err != nil {
		t.Fatalf("unexpected error creating runner: %v", err)
	}
	return r
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	_, err := NewRunner(Config{Backend: "bogus"})
	if err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestNewRunnerSelectsBackend(t *testing.T) {
	tool, err := NewRunner(validToolConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	te, ok := tool.extender.(*ToolExtender)
	if !ok {
		t.Fatalf("expected *ToolExtender, got %T", tool.extender)
	}
	if sudo, ok := te.Escalator.(Sudo); !ok || sudo.Path != "/usr/bin/sudo" {
		t.Fatalf("expected sudo escalator, got %#v", te.Escalator)
	}
	if te.Identity != "tss" {
		t.Fatalf("expected identity tss, got %q", te.Identity)
	}

	direct, err := NewRunner(validToolConfig(), WithEscalator(Direct{}), WithOutput(nil, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	te = direct.extender.(*ToolExtender)
	if _, ok := te.Escalator.(Direct); !ok {
		t.Fatalf("expected direct escalator, got %#v", te.Escalator)
	}
	if te.Stdout != nil || te.Stderr != nil {
		t.Fatal("expected discarded tool output")
	}

	device, err := NewRunner(Config{Backend: directive.BackendDevice, DevicePath: "/dev/tpmrm0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if de, ok := device.extender.(*DeviceExtender); !ok || de.Path != "/dev/tpmrm0" {
		t.Fatalf("expected device extender for /dev/tpmrm0, got %#v", device.extender)
	}
}

func TestMeasureResetsThenExtends(t *testing.T) {
	ext := &fakeExtender{}
	r := newTestRunner(t, ext)
	d := measure.Digest{0xaa, 0xbb}

	if err := r.Measure(context.Background(), 4, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ext.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(ext.calls))
	}
	if ext.calls[0].op != StepReset || ext.calls[0].register != 4 {
		t.Fatalf("unexpected first call: %+v", ext.calls[0])
	}
	if ext.calls[1].op != StepExtend || ext.calls[1].register != 4 || ext.calls[1].digest != d {
		t.Fatalf("unexpected second call: %+v", ext.calls[1])
	}
}

func TestMeasureSkipsExtendAfterFailedReset(t *testing.T) {
	ext := &fakeExtender{resetErr: errors.New("no such pcr")}
	r := newTestRunner(t, ext)

	err := r.Measure(context.Background(), 4, measure.Digest{})
	if !errors.Is(err, ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
	if !errors.Is(err, ext.resetErr) {
		t.Fatalf("expected underlying reset error, got %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Step != StepReset {
		t.Fatalf("expected reset OperationError, got %#v", err)
	}
	if len(ext.calls) != 1 {
		t.Fatalf("extend must not run after failed reset, got %d calls", len(ext.calls))
	}
}

func TestMeasureReportsFailedExtend(t *testing.T) {
	var buf bytes.Buffer
	ext := &fakeExtender{extendErr: errors.New("locality")}
	r := newTestRunner(t, ext, WithLogger(logging.NewText(&buf, false)))

	err := r.Measure(context.Background(), 16, measure.Digest{0x01})
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Step != StepExtend {
		t.Fatalf("expected extend OperationError, got %v", err)
	}
	if len(ext.calls) != 2 {
		t.Fatalf("expected reset and extend calls, got %d", len(ext.calls))
	}

	out := buf.String()
	for _, want := range []string{"pcr left reset without extension", "step=extend", "register=16"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output:\n%s", want, out)
		}
	}
	if strings.Contains(out, measure.Digest{0x01}.Hex()) {
		t.Fatalf("digest leaked into logs:\n%s", out)
	}
}

func TestMeasureKeepsOperationErrorDetails(t *testing.T) {
	want := &OperationError{Step: StepReset, Register: 7, Tool: "/usr/bin/tpm2_pcrreset", ExitCode: 3, Err: ErrNonZeroExit}
	r := newTestRunner(t, &fakeExtender{resetErr: want})

	err := r.Measure(context.Background(), 7, measure.Digest{})
	var got *OperationError
	if !errors.As(err, &got) || got != want {
		t.Fatalf("expected original OperationError, got %#v", err)
	}
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", err)
	}
}

func TestMeasureAppliesTimeoutPerStep(t *testing.T) {
	cfg := validToolConfig()
	cfg.Timeout = time.Minute
	ext := &fakeExtender{}
	r, err := NewRunner(cfg, WithExtender(ext))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Measure(context.Background(), 1, measure.Digest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range ext.calls {
		if !c.deadline {
			t.Fatalf("expected deadline on %s", c.op)
		}
	}

	cfg.Timeout = 0
	ext = &fakeExtender{}
	r, _ = NewRunner(cfg, WithExtender(ext))
	_ = r.Measure(context.Background(), 1, measure.Digest{})
	for _, c := range ext.calls {
		if c.deadline {
			t.Fatalf("unexpected deadline on %s with timeout disabled", c.op)
		}
	}
}

func TestMeasureNilRunner(t *testing.T) {
	var r *Runner
	if err := r.Measure(context.Background(), 1, measure.Digest{}); !errors.Is(err, ErrNilRunner) {
		t.Fatalf("expected ErrNilRunner, got %v", err)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	tests := []struct {
		err  *OperationError
		want string
	}{
		{
			err:  &OperationError{Step: StepReset, Register: 4, Tool: "/usr/bin/tpm2_pcrreset", ExitCode: 1, Err: ErrNonZeroExit},
			want: "tpm2: reset of PCR 4 via /usr/bin/tpm2_pcrreset failed (exit status 1): tpm2: process exited non-zero",
		},
		{
			err:  &OperationError{Step: StepExtend, Register: 16, Tool: "/usr/bin/tpm2_pcrextend", ExitCode: -1, Signal: "killed", Err: ErrAbnormalExit},
			want: "tpm2: extend of PCR 16 via /usr/bin/tpm2_pcrextend failed (signal: killed): tpm2: process terminated abnormally",
		},
		{
			err:  &OperationError{Step: StepExtend, Register: 2, ExitCode: -1},
			want: "tpm2: extend of PCR 2 failed",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
