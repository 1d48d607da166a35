// Package measure derives the PCR measurement for a login attempt.
//
// The digest is a chain of HMAC-SHA256 operations. The first step keys the
// HMAC with the user's secret over the username; every configured message is
// then authenticated with the previous output as the key:
//
//	d0 = HMAC(secret, username)
//	di = HMAC(d(i-1), message[i])
//
// The final value binds who authenticated, what they presented, and any
// administrator supplied context strings.
package measure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"github.com/jeremyhahn/pam-pcr/pkg/secret"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// HexSize is the length of a rendered digest.
const HexSize = 2 * Size

var (
	// ErrDigestSize indicates the hash produced something other than Size bytes.
	ErrDigestSize = errors.New("measure: unexpected digest size")
	// ErrHash indicates the hash primitive failed.
	ErrHash = errors.New("measure: hash computation failed")
)

// Digest is a 32-byte measurement.
type Digest [Size]byte

// Hex renders d as lowercase hexadecimal without separators.
func (d Digest) Hex() string {
	s := hex.EncodeToString(d[:])
	if len(s) != HexSize {
		panic(fmt.Sprintf("measure: rendered %d hex characters", len(s)))
	}
	return s
}

// Wipe zeroes the digest in place.
func (d *Digest) Wipe() {
	secret.Zero(d[:])
}

// Deriver computes chained digests with a fixed hash constructor.
type Deriver struct {
	newHash func() hash.Hash
}

// NewDeriver returns a Deriver using h. A nil h selects SHA-256. Any hash
// whose output is not Size bytes makes Derive fail with ErrDigestSize.
func NewDeriver(h func() hash.Hash) *Deriver {
	if h == nil {
		h = sha256.New
	}
	return &Deriver{newHash: h}
}

// Derive computes the chained digest for username and messages keyed by the
// secret. The secret is only read; intermediate keys are zeroed before return.
func (dv *Deriver) Derive(key []byte, username string, messages []string) (d Digest, err error) {
	// Hash implementations signal internal faults by panicking.
	defer func() {
		if r := recover(); r != nil {
			d = Digest{}
			err = fmt.Errorf("%w: %v", ErrHash, r)
		}
	}()

	cur, err := dv.step(key, []byte(username))
	if err != nil {
		return Digest{}, err
	}
	for _, msg := range messages {
		next, err := dv.step(cur, []byte(msg))
		secret.Zero(cur)
		if err != nil {
			return Digest{}, err
		}
		cur = next
	}

	copy(d[:], cur)
	secret.Zero(cur)
	return d, nil
}

func (dv *Deriver) step(key, msg []byte) ([]byte, error) {
	mac := hmac.New(dv.newHash, key)
	if _, err := mac.Write(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHash, err)
	}
	sum := mac.Sum(nil)
	if len(sum) != Size {
		secret.Zero(sum)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDigestSize, len(sum), Size)
	}
	return sum, nil
}

var defaultDeriver = NewDeriver(nil)

// Derive computes the HMAC-SHA256 chain with the default Deriver.
func Derive(key []byte, username string, messages []string) (Digest, error) {
	return defaultDeriver.Derive(key, username, messages)
}

// ExpectedPCR returns the SHA-256 bank value of a PCR that was reset to zero
// and then extended once with d.
func ExpectedPCR(d Digest) Digest {
	var zero Digest
	h := sha256.New()
	h.Write(zero[:])
	h.Write(d[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
