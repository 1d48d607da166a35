package tpm2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/pam-pcr/pkg/directive"
	"github.com/jeremyhahn/pam-pcr/pkg/measure"
)

// maxPCR is the highest PCR index on a PC Client TPM 2.0.
const maxPCR = 23

// DeviceOpener opens a TPM transport for a device path.
type DeviceOpener func(path string) (transport.TPMCloser, error)

// DeviceExtender issues TPM2_PCR_Reset and TPM2_PCR_Extend directly. The
// calling process must be able to open the device.
type DeviceExtender struct {
	Path string
	// Open defaults to OpenDevice.
	Open DeviceOpener
}

var _ Extender = (*DeviceExtender)(nil)

// Reset implements Extender.
func (d *DeviceExtender) Reset(ctx context.Context, reg directive.Register) error {
	return d.with(ctx, StepReset, reg, func(t transport.TPM) error {
		cmd := tpm2.PCRReset{
			PCRHandle: tpm2.AuthHandle{
				Handle: tpm2.TPMHandle(reg),
				Auth:   tpm2.PasswordAuth(nil),
			},
		}
		_, err := cmd.Execute(t)
		return err
	})
}

// Extend implements Extender.
func (d *DeviceExtender) Extend(ctx context.Context, reg directive.Register, digest measure.Digest) error {
	return d.with(ctx, StepExtend, reg, func(t transport.TPM) error {
		cmd := tpm2.PCRExtend{
			PCRHandle: tpm2.AuthHandle{
				Handle: tpm2.TPMHandle(reg),
				Auth:   tpm2.PasswordAuth(nil),
			},
			Digests: tpm2.TPMLDigestValues{
				Digests: []tpm2.TPMTHA{
					{
						HashAlg: tpm2.TPMAlgSHA256,
						Digest:  digest[:],
					},
				},
			},
		}
		_, err := cmd.Execute(t)
		return err
	})
}

// with opens the device, runs fn and closes the device again. The TPM is
// not held between the two steps so that other users of the resource
// manager are not starved.
func (d *DeviceExtender) with(ctx context.Context, step Step, reg directive.Register, fn func(transport.TPM) error) (err error) {
	opErr := &OperationError{Step: step, Register: reg, Tool: d.Path, ExitCode: -1}
	if reg > maxPCR {
		opErr.Err = fmt.Errorf("%w: %d is out of range 0-%d", ErrInvalidRegister, reg, maxPCR)
		return opErr
	}
	if err := ctx.Err(); err != nil {
		opErr.Err = err
		return opErr
	}

	open := d.Open
	if open == nil {
		open = OpenDevice
	}
	tpm, err := open(d.Path)
	if err != nil {
		opErr.Err = err
		return opErr
	}
	defer func() {
		if cerr := tpm.Close(); cerr != nil && err == nil {
			opErr.Err = fmt.Errorf("tpm2: close device: %w", cerr)
			err = opErr
		}
	}()

	if err := fn(tpm); err != nil {
		opErr.Err = fmt.Errorf("%w: %w", ErrDevice, err)
		return opErr
	}
	return nil
}

// tpmWithCloser pairs a transport.TPM with the connection that backs it.
type tpmWithCloser struct {
	transport.TPM
	closer io.Closer
}

func (t *tpmWithCloser) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// OpenDevice opens a TPM character device, or connects to a unix socket
// when path names one (swtpm and socat setups).
func OpenDevice(path string) (transport.TPMCloser, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTPMUnavailable, path)
		}
		return nil, fmt.Errorf("tpm2: stat TPM device: %w", err)
	}

	if fi.Mode()&os.ModeSocket != 0 {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return nil, fmt.Errorf("%w: connect to TPM socket: %w", ErrTPMUnavailable, err)
		}
		return &tpmWithCloser{TPM: transport.FromReadWriter(conn), closer: conn}, nil
	}

	tpm, err := transport.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open TPM device: %w", ErrTPMUnavailable, err)
	}
	return tpm, nil
}
