// Command pcrctl helps operators configure and verify pam_pcr.
//
//	pcrctl derive --user alice --msg host-a       print the measurement
//	pcrctl expect --user alice --msg host-a       print the PCR value after login
//	pcrctl plan --user alice -- pcr_16=alice      show what the module would run
//	pcrctl login --service pcr-test --user alice  run a PAM stack
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
