package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal flow outcome
type ErrorKind string

const (
	KindMissingCredential  ErrorKind = "MissingCredential"
	KindMalformedChallenge ErrorKind = "MalformedChallenge"
	KindPaymentCancelled   ErrorKind = "PaymentCancelled"
	KindWalletUnavailable  ErrorKind = "WalletUnavailable"
	KindPaymentFailed      ErrorKind = "PaymentFailed"
	KindPaymentNotHonored  ErrorKind = "PaymentNotHonored"
	KindInvocationFailed   ErrorKind = "InvocationFailed"
)

// FlowError terminal outcome of a paid invocation. Message is what the user sees.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is matches any FlowError of the same kind, so the sentinels below work with errors.Is
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingCredential  = &FlowError{Kind: KindMissingCredential, Message: "Please log in first!"}
	ErrMalformedChallenge = &FlowError{Kind: KindMalformedChallenge, Message: "Malformed payment challenge"}
	ErrPaymentCancelled   = &FlowError{Kind: KindPaymentCancelled, Message: "Payment cancelled."}
	ErrWalletUnavailable  = &FlowError{Kind: KindWalletUnavailable, Message: "No wallet is available to pay for this tool"}
	ErrPaymentFailed      = &FlowError{Kind: KindPaymentFailed, Message: "Payment failed"}
	ErrPaymentNotHonored  = &FlowError{Kind: KindPaymentNotHonored, Message: "Payment was not accepted by the service"}
	ErrInvocationFailed   = &FlowError{Kind: KindInvocationFailed, Message: "Execution failed"}
)

func newFlowError(kind ErrorKind, err error, format string, args ...interface{}) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the flow error kind of err, or "" when err is not a FlowError
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
