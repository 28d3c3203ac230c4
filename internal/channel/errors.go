// internal/channel/errors.go
// Secure channel error taxonomy

package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Match with errors.Is.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialInvalid  = errors.New("credential invalid")
	ErrConnect            = errors.New("connect failed")
	ErrHandshake          = errors.New("handshake failed")
	ErrSessionClosed      = errors.New("session closed")
	ErrServerClosed       = errors.New("server closed")
)

// Kind classifies a channel failure
type Kind uint8

const (
	KindCredentialNotFound Kind = iota + 1
	KindCredentialInvalid
	KindConnect
	KindHandshake
)

func (k Kind) String() string {
	switch k {
	case KindCredentialNotFound:
		return "credential-not-found"
	case KindCredentialInvalid:
		return "credential-invalid"
	case KindConnect:
		return "connect"
	case KindHandshake:
		return "handshake"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindCredentialNotFound:
		return ErrCredentialNotFound
	case KindCredentialInvalid:
		return ErrCredentialInvalid
	case KindConnect:
		return ErrConnect
	case KindHandshake:
		return ErrHandshake
	}
	return nil
}

// Error is returned by every channel operation that fails for a reason the
// caller should be able to tell apart.
type Error struct {
	Kind Kind
	Op   string // "load", "dial", "handshake", "receive"
	Addr string // remote address or file path
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Addr != "" {
		msg += " (" + e.Addr + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, op, addr string, err error) *Error {
	return &Error{Kind: kind, Op: op, Addr: addr, Err: err}
}
