// Package randomservice implements the one-method RANDOM_BYTES service:
// a privilege-separated child with no access to
// anything but an entropy source, so a compromise of a data-facing
// service never has a path to weaken another service's randomness.
package randomservice

import (
	"crypto/rand"
	"io"

	"github.com/cuemby/agentd/internal/status"
)

// MaxRequestSize bounds a single RANDOM_BYTES request, matching the IPC
// frame's own size ceiling rather than letting a caller request an
// unbounded read.
const MaxRequestSize = 1 << 16

var errTooLarge = status.New(status.ServiceRandom, status.CodeRequestPacketInvalidSize)

// Service serves RANDOM_BYTES requests from an entropy source.
type Service struct {
	source io.Reader
}

// NewService builds a Service reading from crypto/rand.Reader.
func NewService() *Service {
	return &Service{source: rand.Reader}
}

// RandomBytes returns n freshly drawn random bytes.
func (s *Service) RandomBytes(n int) ([]byte, error) {
	if n < 0 || n > MaxRequestSize {
		return nil, errTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.source, buf); err != nil {
		return nil, status.Wrap(status.ServiceRandom, status.CodeUnspecifiedFailure, err)
	}
	return buf, nil
}
