package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindInvalidCredentials
	KindOTPInvalid
	KindOTPExpired
	KindRefreshExpired
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindOTPInvalid:
		return "otp_invalid"
	case KindOTPExpired:
		return "otp_expired"
	case KindRefreshExpired:
		return "refresh_expired"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "network"
	}
}

// Error is an authentication failure with a kind the orchestrator can
// branch on. Status and Body carry the HTTP evidence when there is any.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("auth %s: %s: status %d: %s", e.Op, e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("auth %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err if it is an *Error, else KindNetwork.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindNetwork
}
