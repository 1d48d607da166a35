//go:build cgo

package pam

import (
	"context"
	"errors"

	pam "github.com/msteinert/pam/v2"
)

// ModuleHandler exposes a Module through the msteinert/pam module API.
type ModuleHandler struct {
	Module *Module
}

var _ pam.ModuleHandler = (*ModuleHandler)(nil)

// NewModuleHandler wraps m for use from the pam_sm_* exports.
func NewModuleHandler(m *Module) *ModuleHandler {
	return &ModuleHandler{Module: m}
}

// Authenticate implements pam.ModuleHandler.
func (h *ModuleHandler) Authenticate(mt pam.ModuleTransaction, flags pam.Flags, args []string) error {
	return statusError(h.Module.Authenticate(context.Background(), moduleTransaction{mt: mt}, moduleFlags(flags), args))
}

// SetCred implements pam.ModuleHandler.
func (h *ModuleHandler) SetCred(mt pam.ModuleTransaction, flags pam.Flags, args []string) error {
	return statusError(h.Module.SetCred(context.Background(), moduleTransaction{mt: mt}, moduleFlags(flags), args))
}

// AcctMgmt implements pam.ModuleHandler.
func (h *ModuleHandler) AcctMgmt(mt pam.ModuleTransaction, flags pam.Flags, args []string) error {
	return statusError(h.Module.AcctMgmt(context.Background(), moduleTransaction{mt: mt}, moduleFlags(flags), args))
}

// OpenSession implements pam.ModuleHandler.
func (h *ModuleHandler) OpenSession(pam.ModuleTransaction, pam.Flags, []string) error {
	return pam.ErrIgnore
}

// CloseSession implements pam.ModuleHandler.
func (h *ModuleHandler) CloseSession(pam.ModuleTransaction, pam.Flags, []string) error {
	return pam.ErrIgnore
}

// ChangeAuthTok implements pam.ModuleHandler.
func (h *ModuleHandler) ChangeAuthTok(pam.ModuleTransaction, pam.Flags, []string) error {
	return pam.ErrIgnore
}

func moduleFlags(flags pam.Flags) Flags {
	var f Flags
	if flags&pam.Silent != 0 {
		f |= Silent
	}
	return f
}

// statusError maps Module errors onto PAM status codes. Status codes coming
// from libpam itself are passed through unchanged.
func statusError(err error) error {
	if err == nil {
		return nil
	}
	var status pam.Error
	switch {
	case errors.Is(err, ErrCredInsufficient):
		return pam.ErrCredInsufficient
	case errors.As(err, &status):
		return status
	case errors.Is(err, ErrInput), errors.Is(err, ErrSystem):
		return pam.ErrSystem
	default:
		return pam.ErrAuth
	}
}

// moduleTransaction adapts pam.ModuleTransaction to Transaction.
type moduleTransaction struct {
	mt pam.ModuleTransaction
}

func (t moduleTransaction) User() (string, error) {
	return t.mt.GetUser("")
}

// AuthTok returns PAM_AUTHTOK when an earlier module stored one, otherwise
// asks the application through the conversation and stores the answer for
// later modules in the stack.
func (t moduleTransaction) AuthTok(prompt string) (string, error) {
	if tok, err := t.mt.GetItem(pam.Authtok); err == nil && tok != "" {
		return tok, nil
	}
	resp, err := t.mt.StartStringConv(pam.PromptEchoOff, prompt)
	if err != nil {
		return "", err
	}
	tok := resp.Response()
	if err := t.mt.SetItem(pam.Authtok, tok); err != nil {
		return "", err
	}
	return tok, nil
}
