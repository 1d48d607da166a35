package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDerive(t *testing.T) {
	out, err := run(t, "hunter2\n", "derive", "--user", "alice", "--msg", "ctx1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ab6062aa13f571b3bdfaadc8127c5433deb9ebc9a3c2374a9397142deae9c253\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestDeriveWithoutTrailingNewline(t *testing.T) {
	out, err := run(t, "hunter2", "derive", "-u", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "dbb10b7ba3d5f842c9fc0d76faf61880c645f2b25d2d756e2b57d150c72839fe\n" {
		t.Fatalf("unexpected digest %q", out)
	}
}

func TestExpect(t *testing.T) {
	out, err := run(t, "hunter2\r\n", "expect", "--user", "alice", "--msg", "ctx1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fa0a98366096e1dc70a37da16650d36b0b7d7a2be8790ef07f9f409feb28d410\n" {
		t.Fatalf("unexpected PCR value %q", out)
	}
}

func TestDeriveRequiresUser(t *testing.T) {
	if _, err := run(t, "pw\n", "derive"); err == nil {
		t.Fatal("expected missing --user error")
	}
}

func TestPlanTool(t *testing.T) {
	out, err := run(t, "", "plan", "--user", "alice", "--", "pcr_5=alice", "pcr_9=alice", "as_user=tss2", "hmac_msg=a", "use_first_pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"register:  9\n",
		"backend:   tool\n",
		"messages:  [\"a\"]\n",
		"timeout:   30s\n",
		"ignored:   [\"use_first_pass\"]\n",
		"reset:     /usr/bin/sudo -u tss2 -- /usr/bin/tpm2_pcrreset 9\n",
		"extend:    /usr/bin/sudo -u tss2 -- /usr/bin/tpm2_pcrextend 9:sha256=" + strings.Repeat("x", 64) + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPlanDevice(t *testing.T) {
	out, err := run(t, "", "plan", "-u", "bob", "--", "pcr_23=bob", "backend=device", "timeout=0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"timeout:   none\n", "reset:     TPM2_PCR_Reset(23) on /dev/tpmrm0\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPlanUnboundUser(t *testing.T) {
	_, err := run(t, "", "plan", "--user", "alice", "--", "pcr_5=bob")
	if err == nil || !strings.Contains(err.Error(), "no register bound") {
		t.Fatalf("expected unbound user error, got %v", err)
	}
}

func TestPlanRegisterZero(t *testing.T) {
	out, err := run(t, "", "plan", "--user", "alice", "--", "pcr_0=alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "reset:     /usr/bin/sudo -u tss -- /usr/bin/tpm2_pcrreset 0\n") {
		t.Fatalf("expected reset of PCR 0 in output:\n%s", out)
	}
}

func TestPrintPlanRefusesPartialPolicy(t *testing.T) {
	p, err := directive.Parse([]string{"pcr_5=bob"}, "alice")
	if !errors.Is(err, directive.ErrNoBinding) {
		t.Fatalf("expected ErrNoBinding, got %v", err)
	}
	var out bytes.Buffer
	if err := printPlan(&out, p); !errors.Is(err, directive.ErrNoBinding) {
		t.Fatalf("expected ErrNoBinding, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for an unbound user, got %q", out.String())
	}
}
