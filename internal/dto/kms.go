package dto

import "time"

// ==================== KMS DTOs ====================

// KMSSignRequest KMS signature request for a transaction hash
type KMSSignRequest struct {
	KeyAlias string `json:"key_alias"`
	ChainID  int    `json:"chain_id"`
	Data     string `json:"data"` // hash to sign (hex)
}

// KMSSignResponse KMS signature response
type KMSSignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"` // 65-byte [R || S || V] hex
	Error     string `json:"error,omitempty"`
}

// KMSGetKeysResponse KMS key listing
type KMSGetKeysResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Keys    []KMSKeyInfo `json:"keys"`
	Error   string       `json:"error,omitempty"`
}

// KMSKeyInfo KMS key info
type KMSKeyInfo struct {
	KeyAlias      string    `json:"key_alias"`
	ChainID       int       `json:"chain_id"`
	PublicAddress string    `json:"public_address"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
