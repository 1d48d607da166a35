package tpm2

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
)

// Config supplies the parameters required to reset and extend a PCR.
type Config struct {
	// Backend selects how PCRs are driven: "tool" runs the tpm2-tools
	// binaries through a privilege escalator, "device" talks to the TPM
	// directly.
	Backend string
	// Identity is the account the tools run as (tool backend only).
	Identity string
	// SudoPath is the escalation program (tool backend only).
	SudoPath string
	// ResetTool and ExtendTool are the tpm2_pcrreset and tpm2_pcrextend
	// binaries (tool backend only).
	ResetTool  string
	ExtendTool string
	// DevicePath is the TPM character device or unix socket (device backend
	// only), e.g. "/dev/tpmrm0".
	DevicePath string
	// Timeout bounds each operation. Zero waits indefinitely.
	Timeout time.Duration
}

// ConfigFromPolicy builds a Config from parsed module directives.
func ConfigFromPolicy(p *directive.Policy) Config {
	o := p.Options()
	return Config{
		Backend:    o.Backend,
		Identity:   p.Identity(),
		SudoPath:   o.Sudo,
		ResetTool:  o.ResetTool,
		ExtendTool: o.ExtendTool,
		DevicePath: o.TPMDevice,
		Timeout:    o.Timeout,
	}
}

// validate checks that the configuration is usable for its backend.
func (c Config) validate() error {
	if c.Timeout < 0 {
		return errors.New("tpm2: timeout must not be negative")
	}
	switch c.Backend {
	case directive.BackendTool, "":
		if c.Identity == "" {
			return errors.New("tpm2: execution identity must not be empty")
		}
		for _, tool := range []struct{ name, path string }{
			{"sudo", c.SudoPath},
			{"reset tool", c.ResetTool},
			{"extend tool", c.ExtendTool},
		} {
			name, path := tool.name, tool.path
			if path == "" {
				return fmt.Errorf("tpm2: %s path must not be empty", name)
			}
			if !filepath.IsAbs(path) {
				return fmt.Errorf("tpm2: %s path %q must be absolute", name, path)
			}
		}
	case directive.BackendDevice:
		if c.DevicePath == "" {
			return errors.New("tpm2: device path must not be empty")
		}
	default:
		return fmt.Errorf("tpm2: unsupported backend: %s", c.Backend)
	}
	return nil
}
