// Package wallet implements the optional payment capability used by paid invocations.
package wallet

import (
	"context"
	"errors"

	"emcp-client/internal/models"
)

// Provider transfers funds for a payment challenge and returns the transaction identifier
type Provider interface {
	Pay(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error)
}

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidReceiver     = errors.New("invalid receiver address")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionReverted = errors.New("transaction reverted")
)

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error)

func (f ProviderFunc) Pay(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error) {
	return f(ctx, req)
}
