//go:build cgo

// Command pam_pcr is built as a PAM service module:
//
//	go build -buildmode=c-shared -o pam_pcr.so ./cmd/pam_pcr
//
// and referenced from /etc/pam.d with the directives understood by
// package directive, for example:
//
//	auth required pam_pcr.so pcr_16=alice hmac_msg=host-a
package main

/*
#cgo LDFLAGS: -lpam -fPIC

#include <security/pam_modules.h>

typedef const char _const_char_t;
*/
import "C"

import (
	"errors"
	"unsafe"

	pam "github.com/msteinert/pam/v2"

	pcrpam "github.com/jeremyhahn/pam-pcr/pkg/pam"
)

var moduleHandler pam.ModuleHandler = pcrpam.NewModuleHandler(pcrpam.NewModule())

func argsFromArgv(argc C.int, argv **C._const_char_t) []string {
	if argc <= 0 || argv == nil {
		return nil
	}
	args := make([]string, 0, int(argc))
	for _, s := range unsafe.Slice(argv, int(argc)) {
		args = append(args, C.GoString(s))
	}
	return args
}

func handle(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t, fn pam.ModuleHandlerFunc) C.int {
	mt := pam.NewModuleTransactionInvoker(pam.NativeHandle(unsafe.Pointer(pamh)))
	err := mt.InvokeHandler(fn, pam.Flags(flags), argsFromArgv(argc, argv))
	if err == nil {
		return C.int(0)
	}
	var status pam.Error
	if errors.As(err, &status) {
		return C.int(status)
	}
	return C.int(pam.ErrSystem)
}

//export pam_sm_authenticate
func pam_sm_authenticate(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.Authenticate)
}

//export pam_sm_setcred
func pam_sm_setcred(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.SetCred)
}

//export pam_sm_acct_mgmt
func pam_sm_acct_mgmt(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.AcctMgmt)
}

//export pam_sm_open_session
func pam_sm_open_session(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.OpenSession)
}

//export pam_sm_close_session
func pam_sm_close_session(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.CloseSession)
}

//export pam_sm_chauthtok
func pam_sm_chauthtok(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C._const_char_t) C.int {
	return handle(pamh, flags, argc, argv, moduleHandler.ChangeAuthTok)
}

func main() {}
