package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// GasPriceClient Etherscan-compatible gas tracker client (Etherscan, BscScan, PolygonScan...)
type GasPriceClient struct {
	url        string
	httpClient *http.Client
}

// NewGasPriceClient creates a gas tracker client for a full gasoracle URL,
// e.g. https://api.etherscan.io/api?module=gastracker&action=gasoracle&apikey=...
func NewGasPriceClient(url string) *GasPriceClient {
	return &GasPriceClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// EtherscanGasResponse gas tracker API response
type EtherscanGasResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		SafeGasPrice    string `json:"SafeGasPrice"`
		ProposeGasPrice string `json:"ProposeGasPrice"`
		FastGasPrice    string `json:"FastGasPrice"`
		SuggestBaseFee  string `json:"suggestBaseFee"`
	} `json:"result"`
}

// GasPrice returns the proposed gas price in wei
func (c *GasPriceClient) GasPrice(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query gas tracker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gas tracker returned status %d", resp.StatusCode)
	}

	var gasResp EtherscanGasResponse
	if err := json.Unmarshal(body, &gasResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if gasResp.Status != "1" {
		return nil, fmt.Errorf("gas tracker error: %s", gasResp.Message)
	}

	price := gasResp.Result.ProposeGasPrice
	if price == "" {
		price = gasResp.Result.SafeGasPrice
	}
	wei, err := GweiToWei(price)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"propose_gwei": gasResp.Result.ProposeGasPrice,
		"fast_gwei":    gasResp.Result.FastGasPrice,
	}).Debug("⛽ [GasPrice] Gas tracker price")
	return wei, nil
}

// GweiToWei converts a decimal gwei string ("12.5") to wei
func GweiToWei(gwei string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(gwei))
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("invalid gas price %q", gwei)
	}
	rat.Mul(rat, new(big.Rat).SetInt64(1_000_000_000))
	// round down to whole wei
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}
