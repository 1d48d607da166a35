// Package tpm2 resets and extends TPM 2.0 Platform Configuration Registers
// on behalf of the PAM module.
//
// A login measurement is recorded in two ordered steps against one PCR:
//
//  1. Reset the PCR to its initial value (all zero for the resettable
//     debug PCRs 16 and 23 on PC Client platforms).
//  2. Extend it with the 32-byte measurement in the SHA-256 bank.
//
// The extend step only runs when the reset succeeded. If the extend step
// fails the PCR stays reset; the runner reports this instead of hiding it.
//
// # Backends
//
// The tool backend runs the tpm2-tools programs as a service account:
//
//	sudo -u tss -- /usr/bin/tpm2_pcrreset 16
//	sudo -u tss -- /usr/bin/tpm2_pcrextend 16:sha256=<64 hex characters>
//
// Each child runs synchronously with stdin on the null device and an empty
// environment. Failure to start, death by signal and non-zero exit are
// distinguished (ErrLaunch, ErrAbnormalExit, ErrNonZeroExit) and all of them
// match ErrOperation.
//
// The device backend issues TPM2_PCR_Reset and TPM2_PCR_Extend through
// go-tpm against /dev/tpmrm0 or a simulator socket. It requires the calling
// process to have access to the device.
//
// # Basic Usage
//
//	runner, err := tpm2.NewRunner(tpm2.Config{
//		Identity:   "tss",
//		SudoPath:   "/usr/bin/sudo",
//		ResetTool:  "/usr/bin/tpm2_pcrreset",
//		ExtendTool: "/usr/bin/tpm2_pcrextend",
//		Timeout:    30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	if err := runner.Measure(ctx, 16, digest); err != nil {
//		// errors.Is(err, tpm2.ErrOperation) == true
//	}
//
// # Testing
//
// Escalator and Extender are the seams for tests. A test Escalator can map
// every invocation onto a shell script, and a fake Extender can record the
// calls without any subprocess at all:
//
//	runner, _ := tpm2.NewRunner(cfg, tpm2.WithExtender(&fakeExtender{}))
//
// # Timeouts
//
// Config.Timeout applies to each step separately. A child that outlives it
// is killed and reported as ErrAbnormalExit joined with
// context.DeadlineExceeded. The device backend checks the context before each
// command but cannot interrupt a command already sent to the TPM.
package tpm2
