package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// LoginRequest marketplace login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse marketplace login response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// MarketplaceClaims claims carried by marketplace access tokens.
// Tokens are inspected, never verified: the client does not hold the signing key.
type MarketplaceClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ErrorResponse error body returned by the marketplace API
type ErrorResponse struct {
	Detail interface{} `json:"detail"`
}
