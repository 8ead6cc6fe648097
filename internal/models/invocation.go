package models

import "strings"

// DefaultCurrency currency assumed when a payment challenge omits it
const DefaultCurrency = "ETH"

// InvocationRequest one paid invocation of a marketplace tool
type InvocationRequest struct {
	ToolID     string `json:"tool_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Credential string `json:"-"` // bearer token, never logged
}

// PaymentRequirement terms demanded by a 402 challenge
type PaymentRequirement struct {
	Amount   string `json:"amount"` // decimal string, never a float
	Receiver string `json:"receiver"`
	Currency string `json:"currency"`
	Message  string `json:"message,omitempty"`
}

// PaymentProof evidence of a completed payment, valid for a single retry
type PaymentProof struct {
	TransactionHash string `json:"transaction_hash"`
}

// Empty reports whether the wallet returned no transaction identifier
func (p PaymentProof) Empty() bool {
	return strings.TrimSpace(p.TransactionHash) == ""
}

// InvocationResult success payload of the invocation endpoint
type InvocationResult struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	ProcessingTime float64 `json:"processing_time"`

	// Paid is set when the result came from the retry carrying a proof
	Paid        bool   `json:"-"`
	Transaction string `json:"-"`
}

// Succeeded reports whether the remote service marked the execution successful
func (r *InvocationResult) Succeeded() bool {
	return r != nil && strings.EqualFold(r.Status, "success")
}

// DisplayName tool name when known, else its id
func (r InvocationRequest) DisplayName() string {
	if strings.TrimSpace(r.ToolName) != "" {
		return r.ToolName
	}
	return r.ToolID
}
