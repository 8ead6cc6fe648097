package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"emcp-client/internal/clients"
	"emcp-client/internal/config"
	"emcp-client/internal/metrics"
	"emcp-client/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const (
	defaultTransferGas  = uint64(21000)
	fallbackGasPriceWei = 5000000000 // 5 Gwei
)

// ChainClient subset of ethclient used for native transfers
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// GasOracle external gas price source, used when gasPrice is "oracle"
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Options EthereumWallet behaviour switches
type Options struct {
	WaitForReceipt bool
	ReceiptTimeout time.Duration
	Registry       *config.NetworkRegistry
	GasOracle      GasOracle
}

// EthereumWallet pays challenges with native transfers on an EVM network
type EthereumWallet struct {
	client   ChainClient
	signer   SigningStrategy
	network  *config.NetworkConfig
	chainID  *big.Int
	registry *config.NetworkRegistry
	oracle   GasOracle

	waitForReceipt bool
	receiptTimeout time.Duration

	// serializes nonce allocation between concurrent payments
	mu sync.Mutex
}

// NewEthereumWallet verifies the client is on the configured chain and builds the wallet
func NewEthereumWallet(ctx context.Context, client ChainClient, signer SigningStrategy, network *config.NetworkConfig, opts Options) (*EthereumWallet, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if network.ChainID != 0 && chainID.Int64() != int64(network.ChainID) {
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %s", network.ChainID, chainID.String())
	}

	registry := opts.Registry
	if registry == nil {
		registry = config.GetNetworkRegistry()
	}
	timeout := opts.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	logrus.WithFields(logrus.Fields{
		"network":  network.Name,
		"chain_id": chainID.String(),
		"signer":   signer.Name(),
		"address":  signer.Address().Hex(),
	}).Info("✅ [Wallet] Ethereum wallet ready")

	return &EthereumWallet{
		client:         client,
		signer:         signer,
		network:        network,
		chainID:        chainID,
		registry:       registry,
		oracle:         opts.GasOracle,
		waitForReceipt: opts.WaitForReceipt,
		receiptTimeout: timeout,
	}, nil
}

// NewFromConfig dials the configured network and selects the signing strategy
func NewFromConfig(ctx context.Context, cfg *config.Config) (*EthereumWallet, error) {
	network, err := cfg.GetNetworkConfig(cfg.Wallet.Network)
	if err != nil {
		return nil, err
	}

	registry := config.GetNetworkRegistry()
	if cfg.Wallet.NetworksFile != "" {
		if err := registry.LoadFile(cfg.Wallet.NetworksFile); err != nil {
			logrus.WithError(err).Warn("⚠️ [Wallet] Failed to load network registry file")
		}
	}

	var strategy SigningStrategy
	if network.KMSEnabled && !network.UsePrivateKey && cfg.KMS.Enabled {
		strategy, err = NewKMSSigningStrategy(ctx, clients.NewKMSClient(cfg.KMS), network)
	} else {
		strategy, err = NewPrivateKeySigningStrategy(network.PrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	client, _, err := DialNetwork(ctx, network)
	if err != nil {
		return nil, err
	}

	opts := Options{
		WaitForReceipt: cfg.Wallet.WaitForReceipt,
		ReceiptTimeout: time.Duration(cfg.Wallet.ReceiptTimeout) * time.Second,
		Registry:       registry,
	}
	if network.GasOracleURL != "" {
		opts.GasOracle = clients.NewGasPriceClient(network.GasOracleURL)
	}
	return NewEthereumWallet(ctx, client, strategy, network, opts)
}

// DialNetwork connects to the first RPC endpoint that answers a chain id query
func DialNetwork(ctx context.Context, network *config.NetworkConfig) (*ethclient.Client, string, error) {
	if len(network.RPCEndpoints) == 0 {
		return nil, "", fmt.Errorf("network %s has no RPC endpoints", network.Name)
	}

	var lastErr error
	for i, rpcEndpoint := range network.RPCEndpoints {
		log := logrus.WithFields(logrus.Fields{
			"network":  network.Name,
			"endpoint": rpcEndpoint,
			"attempt":  fmt.Sprintf("%d/%d", i+1, len(network.RPCEndpoints)),
		})

		client, err := ethclient.DialContext(ctx, rpcEndpoint)
		if err != nil {
			log.WithError(err).Warn("❌ [Wallet] Dial failed")
			lastErr = err
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		chainID, err := client.ChainID(checkCtx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("❌ [Wallet] ChainID check failed")
			client.Close()
			lastErr = err
			continue
		}

		log.WithField("chain_id", chainID.String()).Info("🔗 [Wallet] Connected to RPC endpoint")
		return client, rpcEndpoint, nil
	}

	return nil, "", fmt.Errorf("failed to connect to %s network: %w", network.Name, lastErr)
}

// Address payer account
func (w *EthereumWallet) Address() common.Address {
	return w.signer.Address()
}

// ChainID connected chain
func (w *EthereumWallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// NativeCurrency symbol of the currency this wallet can pay in
func (w *EthereumWallet) NativeCurrency() string {
	return w.registry.NativeSymbol(w.chainID.Uint64())
}

// Balance current payer balance in wei
func (w *EthereumWallet) Balance(ctx context.Context) (*big.Int, error) {
	return w.client.BalanceAt(ctx, w.signer.Address(), nil)
}

// Pay sends value to req.Receiver and returns the transaction hash as proof
func (w *EthereumWallet) Pay(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error) {
	start := time.Now()
	proof, err := w.pay(ctx, req)

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.WalletPayments.WithLabelValues(w.network.Name, result).Inc()
	metrics.WalletPaymentDuration.WithLabelValues(w.network.Name).Observe(time.Since(start).Seconds())
	return proof, err
}

func (w *EthereumWallet) pay(ctx context.Context, req models.PaymentRequirement) (models.PaymentProof, error) {
	currency := req.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	if native := w.NativeCurrency(); !strings.EqualFold(currency, native) {
		return models.PaymentProof{}, fmt.Errorf("%w: %s (network %s pays in %s)", ErrUnsupportedCurrency, currency, w.network.Name, native)
	}
	if !common.IsHexAddress(req.Receiver) {
		return models.PaymentProof{}, fmt.Errorf("%w: %q", ErrInvalidReceiver, req.Receiver)
	}
	to := common.HexToAddress(req.Receiver)

	value, err := ToWei(req.Amount)
	if err != nil {
		return models.PaymentProof{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.signer.Address()
	log := logrus.WithFields(logrus.Fields{
		"network":  w.network.Name,
		"from":     from.Hex(),
		"to":       to.Hex(),
		"value":    value.String(),
		"signer":   w.signer.Name(),
		"currency": currency,
	})
	log.Info("💸 [Wallet] Preparing payment")

	balance, err := w.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return models.PaymentProof{}, fmt.Errorf("failed to query balance: %w", err)
	}
	metrics.WalletBalance.WithLabelValues(w.network.Name, from.Hex()).Set(weiToFloat(balance))

	gasPrice := w.gasPrice(ctx)
	gasLimit := w.gasLimit(ctx, from, to, value)

	if err := validateBalance(balance, value, gasPrice, gasLimit); err != nil {
		log.WithError(err).Error("❌ [Wallet] Balance check failed")
		return models.PaymentProof{}, err
	}

	nonce, err := w.client.PendingNonceAt(ctx, from)
	if err != nil {
		return models.PaymentProof{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
	})

	signer := types.NewEIP155Signer(w.chainID)
	sigHash := signer.Hash(tx)

	signature, err := w.signer.Sign(ctx, sigHash.Bytes())
	if err != nil {
		return models.PaymentProof{}, fmt.Errorf("failed to sign with %s: %w", w.signer.Name(), err)
	}
	signedTx, err := tx.WithSignature(signer, signature)
	if err != nil {
		return models.PaymentProof{}, fmt.Errorf("failed to apply signature: %w", err)
	}

	sender, err := types.Sender(signer, signedTx)
	if err != nil {
		return models.PaymentProof{}, fmt.Errorf("failed to recover sender: %w", err)
	}
	if sender != from {
		return models.PaymentProof{}, fmt.Errorf("signature mismatch: expected %s, recovered %s", from.Hex(), sender.Hex())
	}

	if err := w.client.SendTransaction(ctx, signedTx); err != nil {
		log.WithError(err).Error("❌ [Wallet] Failed to send transaction")
		return models.PaymentProof{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	log.WithFields(logrus.Fields{
		"tx_hash":   txHash,
		"gas_price": gasPrice.String(),
		"gas_limit": gasLimit,
		"nonce":     nonce,
		"explorer":  w.registry.TransactionURL(w.chainID.Uint64(), txHash),
	}).Info("🚀 [Wallet] Transaction sent")

	if w.waitForReceipt {
		if err := w.awaitReceipt(ctx, signedTx); err != nil {
			return models.PaymentProof{}, err
		}
	}

	return models.PaymentProof{TransactionHash: txHash}, nil
}

// gasPrice configured price, the gas tracker's, or suggested +20%
func (w *EthereumWallet) gasPrice(ctx context.Context) *big.Int {
	if w.network.GasPrice == "oracle" {
		if w.oracle != nil {
			price, err := w.oracle.GasPrice(ctx)
			if err == nil {
				return price
			}
			logrus.WithError(err).Warn("⚠️ [Wallet] Gas tracker failed, using suggested price")
		} else {
			logrus.Warn("⚠️ [Wallet] gasPrice is oracle but no gasOracleUrl is set")
		}
	} else if w.network.GasPrice != "" && w.network.GasPrice != "auto" {
		if price, ok := new(big.Int).SetString(w.network.GasPrice, 10); ok {
			return price
		}
		logrus.Warnf("⚠️ [Wallet] Invalid gasPrice %q, using suggested price", w.network.GasPrice)
	}

	suggested, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		logrus.WithError(err).Warn("⚠️ [Wallet] SuggestGasPrice failed, using fallback")
		return big.NewInt(fallbackGasPriceWei)
	}
	price := new(big.Int).Mul(suggested, big.NewInt(120))
	return price.Div(price, big.NewInt(100))
}

func (w *EthereumWallet) gasLimit(ctx context.Context, from, to common.Address, value *big.Int) uint64 {
	if w.network.GasLimit > 0 {
		return w.network.GasLimit
	}
	estimated, err := w.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value})
	if err != nil || estimated == 0 {
		return defaultTransferGas
	}
	return estimated
}

func validateBalance(balance, value, gasPrice *big.Int, gasLimit uint64) error {
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	required := new(big.Int).Add(value, gasCost)
	if balance.Cmp(required) < 0 {
		shortfall := new(big.Int).Sub(required, balance)
		return fmt.Errorf("%w: have %s, need %s (short %s)", ErrInsufficientFunds,
			FormatWei(balance), FormatWei(required), FormatWei(shortfall))
	}
	return nil
}

// awaitReceipt waits for the transfer to be mined and checks its status
func (w *EthereumWallet) awaitReceipt(ctx context.Context, tx *types.Transaction) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.receiptTimeout)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"tx_hash": tx.Hash().Hex(),
		"timeout": w.receiptTimeout.String(),
	}).Info("⏳ [Wallet] Waiting for receipt")

	receipt, err := bind.WaitMined(waitCtx, w.client, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("transaction %s not mined within %s", tx.Hash().Hex(), w.receiptTimeout)
		}
		return fmt.Errorf("failed waiting for receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s (block %d)", ErrTransactionReverted, tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	}

	logrus.WithFields(logrus.Fields{
		"tx_hash":  tx.Hash().Hex(),
		"block":    receipt.BlockNumber.Uint64(),
		"gas_used": receipt.GasUsed,
	}).Info("✅ [Wallet] Transaction confirmed")
	return nil
}

func weiToFloat(wei *big.Int) float64 {
	f, _ := new(big.Float).SetInt(wei).Float64()
	return f
}
