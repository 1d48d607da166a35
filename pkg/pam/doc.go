// Package pam is the PAM side of the module.
//
// Module implements pam_sm_authenticate. Its arguments are the directives
// from the PAM configuration line:
//
//	auth required pam_pcr.so pcr_16=alice pcr_16=bob hmac_msg=host-a as_user=tss
//
// For the user being authenticated the module resolves the bound PCR, reads
// the auth token, derives an HMAC-SHA256 chain over the username and every
// hmac_msg value, then resets the PCR and extends it with the result. The
// call fails when no PCR is bound to the user (PAM_CRED_INSUFFICIENT) or
// when derivation, reset or extend fails (PAM_AUTH_ERR).
//
// The token is copied into locked memory and wiped as soon as the digest is
// derived; the digest is wiped before the call returns. Neither is logged.
//
// Client drives a PAM service from the application side and is used to
// test a configured stack end to end. Both halves need a cgo build with the
// libpam headers installed.
package pam
