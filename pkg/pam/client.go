package pam

import (
	"context"
	"errors"

	"github.com/jeremyhahn/pam-pcr/pkg/secret"
)

// Session is an application side PAM transaction.
type Session interface {
	Authenticate(ctx context.Context, token *secret.Buffer) error
	Close() error
}

// SessionOpener starts application side PAM transactions.
type SessionOpener interface {
	Open(ctx context.Context, service, username string, notify Notifier) (Session, error)
}

// Notifier receives informational and error messages sent by modules
// during the conversation. It may be nil.
type Notifier func(msg string, isError bool)

var (
	errSystemOpenerUnavailable = errors.New("pam: system session opener unavailable; requires cgo build with PAM support")
	systemSessionOpener        SessionOpener
)

// Client drives a PAM service stack from the application side, the way
// login or sshd would. It is used to exercise a stack that includes this
// module without logging in for real.
type Client struct {
	service string
	opener  SessionOpener
	notify  Notifier
}

// NewClient constructs a Client for service. A nil opener selects libpam.
func NewClient(service string, opener SessionOpener, notify Notifier) (*Client, error) {
	if service == "" {
		return nil, errors.New("pam: service name must not be empty")
	}
	if opener == nil {
		if systemSessionOpener == nil {
			return nil, errSystemOpenerUnavailable
		}
		opener = systemSessionOpener
	}
	return &Client{service: service, opener: opener, notify: notify}, nil
}

// Login runs the auth stack of the service for username, answering
// password prompts with token. The token is wiped before Login returns.
func (c *Client) Login(ctx context.Context, username string, token *secret.Buffer) (err error) {
	defer token.Wipe()
	if ctx == nil {
		ctx = context.Background()
	}
	if username == "" {
		return errors.New("pam: username must not be empty")
	}
	if token == nil {
		return errors.New("pam: token must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := c.opener.Open(ctx, c.service, username, c.notify)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return session.Authenticate(ctx, token)
}
