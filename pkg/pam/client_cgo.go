//go:build cgo

package pam

import (
	"context"
	"fmt"
	"sync"

	pam "github.com/msteinert/pam/v2"

	"github.com/jeremyhahn/pam-pcr/pkg/secret"
)

func init() {
	systemSessionOpener = libpamOpener{}
}

type libpamOpener struct{}

var _ SessionOpener = libpamOpener{}

func (libpamOpener) Open(ctx context.Context, service, username string, notify Notifier) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := &libpamSession{notify: notify}
	txn, err := pam.StartFunc(service, username, sess.converse)
	if err != nil {
		return nil, err
	}
	sess.txn = txn
	return sess, nil
}

type libpamSession struct {
	txn    *pam.Transaction
	notify Notifier

	mu    sync.Mutex
	token *secret.Buffer
}

func (s *libpamSession) converse(style pam.Style, msg string) (string, error) {
	switch style {
	case pam.PromptEchoOff:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.token == nil {
			return "", fmt.Errorf("pam: no token for prompt %q", msg)
		}
		return string(s.token.Bytes()), nil
	case pam.PromptEchoOn:
		return "", fmt.Errorf("pam: unexpected echo-on prompt: %s", msg)
	case pam.ErrorMsg, pam.TextInfo:
		if s.notify != nil {
			s.notify(msg, style == pam.ErrorMsg)
		}
		return "", nil
	default:
		return "", fmt.Errorf("pam: unsupported conversation style: %d", style)
	}
}

// Authenticate runs pam_authenticate followed by pam_acct_mgmt.
func (s *libpamSession) Authenticate(ctx context.Context, token *secret.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.token = nil
		s.mu.Unlock()
	}()

	if err := s.txn.Authenticate(0); err != nil {
		return err
	}
	return s.txn.AcctMgmt(0)
}

func (s *libpamSession) Close() error {
	return s.txn.End()
}
