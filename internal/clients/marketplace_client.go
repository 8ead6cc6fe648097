package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"emcp-client/internal/config"
	"emcp-client/internal/dto"
	"emcp-client/internal/models"

	"github.com/sirupsen/logrus"
)

// HeaderTransactionHash carries the payment proof on the retried invocation
const HeaderTransactionHash = "X-Transaction-Hash"

// GenericFailureMessage used when an error body carries no detail
const GenericFailureMessage = "Execution failed"

// MarketplaceClient eMCP marketplace API client
type MarketplaceClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// APIError non-2xx response from the marketplace
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace request failed: status=%d, detail=%s", e.StatusCode, e.Detail)
}

// NewMarketplaceClient Create marketplace client. A zero timeout leaves requests unbounded.
func NewMarketplaceClient(cfg config.APIConfig) *MarketplaceClient {
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return NewMarketplaceClientWithHTTP(cfg.BaseURL, cfg.UserAgent, httpClient)
}

// NewMarketplaceClientWithHTTP creates a client over a caller-supplied transport
func NewMarketplaceClientWithHTTP(baseURL, userAgent string, httpClient *http.Client) *MarketplaceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = "emcp-client/1.0"
	}
	return &MarketplaceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

// BaseURL configured API root
func (c *MarketplaceClient) BaseURL() string {
	return c.baseURL
}

// UseTool POST /tools/use/{id}. The raw status and body are returned for the caller to interpret;
// proof, when non-nil, is sent as X-Transaction-Hash.
func (c *MarketplaceClient) UseTool(ctx context.Context, toolID, token string, proof *models.PaymentProof) (int, []byte, error) {
	headers := map[string]string{"Authorization": "Bearer " + token}
	if proof != nil {
		headers[HeaderTransactionHash] = proof.TransactionHash
	}

	logrus.WithFields(logrus.Fields{
		"tool_id":    toolID,
		"with_proof": proof != nil,
	}).Debug("🔧 [MarketplaceClient] Invoking tool")

	return c.do(ctx, http.MethodPost, "/tools/use/"+url.PathEscape(toolID), nil, headers)
}

// Health GET /health
func (c *MarketplaceClient) Health(ctx context.Context) error {
	var healthResp struct {
		Status string `json:"status"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, "/health", nil, "", &healthResp); err != nil {
		return fmt.Errorf("marketplace health check failed: %w", err)
	}
	if healthResp.Status != "" && !strings.EqualFold(healthResp.Status, "ok") && !strings.EqualFold(healthResp.Status, "healthy") {
		return fmt.Errorf("marketplace status: %s", healthResp.Status)
	}
	return nil
}

// Login POST /auth/login
func (c *MarketplaceClient) Login(ctx context.Context, email, password string) (*dto.TokenResponse, error) {
	var tokenResp dto.TokenResponse
	req := dto.LoginRequest{Email: email, Password: password}
	if err := c.makeRequest(ctx, http.MethodPost, "/auth/login", req, "", &tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	return &tokenResp, nil
}

// ListTools GET /tools/
func (c *MarketplaceClient) ListTools(ctx context.Context) ([]models.Tool, error) {
	var tools []models.Tool
	if err := c.makeRequest(ctx, http.MethodGet, "/tools/", nil, "", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// SearchTools GET /search/?query=&k=
func (c *MarketplaceClient) SearchTools(ctx context.Context, query string, k int) (*models.SearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	if k > 0 {
		params.Set("k", strconv.Itoa(k))
	}

	var searchResp models.SearchResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/search/?"+params.Encode(), nil, "", &searchResp); err != nil {
		return nil, err
	}
	return &searchResp, nil
}

// PublishTool POST /tools/
func (c *MarketplaceClient) PublishTool(ctx context.Context, token string, draft models.ToolDraft) (*models.Tool, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	var tool models.Tool
	if err := c.makeRequest(ctx, http.MethodPost, "/tools/", draft, token, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// makeRequest JSON request helper; non-2xx responses become *APIError
func (c *MarketplaceClient) makeRequest(ctx context.Context, method, path string, data interface{}, token string, out interface{}) error {
	var headers map[string]string
	if token != "" {
		headers = map[string]string{"Authorization": "Bearer " + token}
	}

	status, body, err := c.do(ctx, method, path, data, headers)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Detail: DetailMessage(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse marketplace response: %w", err)
	}
	return nil
}

func (c *MarketplaceClient) do(ctx context.Context, method, path string, data interface{}, headers map[string]string) (int, []byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}

// DetailMessage extracts the human readable message of an error body:
// a string detail, detail.message, detail.error, or GenericFailureMessage.
func DetailMessage(body []byte) string {
	var errResp dto.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return GenericFailureMessage
	}

	switch detail := errResp.Detail.(type) {
	case string:
		if detail != "" {
			return detail
		}
	case map[string]interface{}:
		for _, key := range []string{"message", "error"} {
			if s, ok := detail[key].(string); ok && s != "" {
				return s
			}
		}
	case []interface{}:
		// validation errors: [{"loc":[...],"msg":"..."}]
		msgs := make([]string, 0, len(detail))
		for _, item := range detail {
			if m, ok := item.(map[string]interface{}); ok {
				if s, ok := m["msg"].(string); ok {
					msgs = append(msgs, s)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return GenericFailureMessage
}
