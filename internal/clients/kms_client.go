package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"emcp-client/internal/config"
	"emcp-client/internal/dto"
)

// KMSClient KMS signing service client
type KMSClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewKMSClient CreateKMSclient
func NewKMSClient(cfg config.KMSConfig) *KMSClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &KMSClient{
		baseURL:   cfg.ServiceURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SignHash asks the KMS to sign a 32-byte transaction hash with the key behind keyAlias
func (c *KMSClient) SignHash(ctx context.Context, keyAlias string, chainID int, hashHex string) (*dto.KMSSignResponse, error) {
	req := dto.KMSSignRequest{
		KeyAlias: keyAlias,
		ChainID:  chainID,
		Data:     hashHex,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/api/v1/sign", req)
	if err != nil {
		return nil, fmt.Errorf("KMS request failed: %w", err)
	}

	var signResp dto.KMSSignResponse
	if err := json.Unmarshal(response, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse KMS response: %w", err)
	}

	if !signResp.Success {
		return nil, fmt.Errorf("KMS signing failed: %s", signResp.Error)
	}

	return &signResp, nil
}

// GetStoredKeys lists the keys held by the KMS
func (c *KMSClient) GetStoredKeys(ctx context.Context) (*dto.KMSGetKeysResponse, error) {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/keys", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get KMS keys: %w", err)
	}

	var keysResp dto.KMSGetKeysResponse
	if err := json.Unmarshal(response, &keysResp); err != nil {
		return nil, fmt.Errorf("failed to parse KMS key response: %w", err)
	}

	if !keysResp.Success {
		return nil, fmt.Errorf("failed to get KMS keys: %s", keysResp.Error)
	}

	return &keysResp, nil
}

// GetKeyByAlias finds a key by alias and chain
func (c *KMSClient) GetKeyByAlias(ctx context.Context, keyAlias string, chainID int) (*dto.KMSKeyInfo, error) {
	keysResp, err := c.GetStoredKeys(ctx)
	if err != nil {
		return nil, err
	}

	for _, key := range keysResp.Keys {
		if key.KeyAlias == keyAlias && key.ChainID == chainID {
			return &key, nil
		}
	}

	return nil, fmt.Errorf("key not found: alias=%s, chainID=%d", keyAlias, chainID)
}

// HealthCheck KMS service check
func (c *KMSClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("KMS health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}

	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse KMS health response: %w", err)
	}

	if healthResp.Status != "healthy" {
		return fmt.Errorf("KMS service status: %s", healthResp.Status)
	}

	return nil
}

// makeRequest HTTP request
func (c *KMSClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "emcp-client/1.0")

	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", "emcp-client")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP request failed: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}
