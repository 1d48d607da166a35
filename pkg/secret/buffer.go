// Package secret holds short-lived sensitive bytes such as a PAM auth token.
package secret

import "sync"

// Buffer owns a copy of sensitive bytes. The backing memory is locked against
// swapping where the platform allows it and is zeroed by Wipe.
type Buffer struct {
	mu     sync.Mutex
	b      []byte
	locked bool
}

// FromString copies s into a new Buffer.
func FromString(s string) *Buffer {
	b := make([]byte, len(s))
	copy(b, s)
	return newBuffer(b)
}

// FromBytes copies p into a new Buffer. The caller remains responsible for p.
func FromBytes(p []byte) *Buffer {
	b := make([]byte, len(p))
	copy(b, p)
	return newBuffer(b)
}

func newBuffer(b []byte) *Buffer {
	return &Buffer{b: b, locked: lock(b)}
}

// Bytes returns the underlying slice. It is only valid until Wipe.
func (s *Buffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

// Len reports the number of held bytes.
func (s *Buffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.b)
}

// Locked reports whether the memory is pinned in RAM.
func (s *Buffer) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Wipe zeroes and releases the buffer. It is safe to call more than once.
func (s *Buffer) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.b)
	if s.locked {
		unlock(s.b)
		s.locked = false
	}
	s.b = nil
}

// Zero overwrites p with zero bytes.
func Zero(p []byte) {
	clear(p)
}
