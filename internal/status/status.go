// Package status defines agentd's cross-process status code taxonomy.
//
// Every control-socket response carries a uint32 status (0 == success);
// a private service process exits with a code whose high byte names the
// originating service and whose low bytes name the specific error. A
// failing cobra-routed command (start, readconfig, ...) exits with 1.
package status

import (
	"errors"
	"fmt"
)

// Service identifies the high byte of a process exit code.
type Service byte

const (
	ServiceGeneral      Service = 0x00
	ServiceIPC          Service = 0x01
	ServiceSupervisor   Service = 0x02
	ServiceData         Service = 0x03
	ServiceConfig       Service = 0x04
	ServiceAuth         Service = 0x05
	ServiceLog          Service = 0x06
	ServiceCanonization Service = 0x07
	ServiceApp          Service = 0x08
	ServiceProcess      Service = 0x09
	ServiceProtocol     Service = 0x0A
	ServiceListen       Service = 0x0B
	ServiceRandom       Service = 0x0C
	ServiceReader       Service = 0x0D
	ServiceAttestation  Service = 0x0E
	ServiceNotification Service = 0x0F
)

// Code is a status kind shared between wire responses and the exit-code
// scheme. It is not a Go error type on its own — wrap it in a *Status to
// carry a cause.
type Code uint32

// Success is the zero status: status == 0 means success.
const Success Code = 0

// Wire/domain status codes shared across the control sockets.
const (
	CodeUnspecifiedFailure Code = iota + 1
	CodeInvalidRequestID
	CodeRequestPacketInvalidSize
	CodeRequestPacketBad
	CodeNotAuthorized
	CodeUnauthorized
	CodeNotFound
	CodeAlreadyConfigured
	CodeNotYetConfigured
	CodeAuthenticationFailure
	CodeReplayedIV
	CodeShortRead
	CodeUnexpectedType
	CodeUnexpectedSize
	CodeWouldBlock
	CodeBufferAddFailure
	CodeBufferDrainFailure
	CodeBlockMakeChildTransactionFailure
	CodeBlockHeightMismatch
	CodeBlockAlreadyExists
	CodeInvariantViolation
	CodeOutOfMemory
	CodeLookupUserGroupFailure
	CodeChrootFailure
	CodeDropPrivilegesFailure
	CodeForkFailure
	CodeExecFailure
	CodeSocketpairFailure
)

// Status is an error carrying a status Code and the originating service,
// with an optional wrapped cause.
type Status struct {
	Service Service
	Code    Code
	Cause   error
}

func New(svc Service, code Code) *Status {
	return &Status{Service: svc, Code: code}
}

func Wrap(svc Service, code Code, cause error) *Status {
	return &Status{Service: svc, Code: code, Cause: cause}
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: status %d: %v", serviceName(s.Service), s.Code, s.Cause)
	}
	return fmt.Sprintf("%s: status %d", serviceName(s.Service), s.Code)
}

func (s *Status) Unwrap() error {
	return s.Cause
}

// Is reports whether target is a *Status with the same Code, so callers
// can do errors.Is(err, status.New(svc, status.CodeNotFound)).
func (s *Status) Is(target error) bool {
	var t *Status
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == s.Code
}

// ExitCode packs (service, code) into the high-byte/low-bytes process exit
// value.
func (s *Status) ExitCode() int {
	return int(s.Service)<<24 | int(s.Code&0x00FFFFFF)
}

func serviceName(s Service) string {
	switch s {
	case ServiceGeneral:
		return "general"
	case ServiceIPC:
		return "ipc"
	case ServiceSupervisor:
		return "supervisor"
	case ServiceData:
		return "data"
	case ServiceConfig:
		return "config"
	case ServiceAuth:
		return "auth"
	case ServiceLog:
		return "log"
	case ServiceCanonization:
		return "canonization"
	case ServiceApp:
		return "app"
	case ServiceProcess:
		return "process"
	case ServiceProtocol:
		return "protocol"
	case ServiceListen:
		return "listen"
	case ServiceRandom:
		return "random"
	case ServiceReader:
		return "reader"
	case ServiceAttestation:
		return "attestation"
	case ServiceNotification:
		return "notification"
	default:
		return "unknown"
	}
}
