package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emcp-client/internal/clients"
	"emcp-client/internal/config"
	"emcp-client/internal/dto"
	"emcp-client/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simulatedChainID = 1337

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type chain struct {
	backend  *simulated.Backend
	key      *ecdsa.PrivateKey
	payer    common.Address
	receiver common.Address
}

func newChain(t *testing.T, balance *big.Int) *chain {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(types.GenesisAlloc{payer: {Balance: balance}})
	t.Cleanup(func() { _ = backend.Close() })

	return &chain{
		backend:  backend,
		key:      key,
		payer:    payer,
		receiver: common.HexToAddress("0x00000000000000000000000000000000000000AB"),
	}
}

func (c *chain) privateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(c.key))
}

func localNetwork() *config.NetworkConfig {
	return &config.NetworkConfig{Name: "local", ChainID: simulatedChainID, Enabled: true}
}

func newTestWallet(t *testing.T, c *chain, opts Options) *EthereumWallet {
	t.Helper()
	signer, err := NewPrivateKeySigningStrategy(c.privateKeyHex())
	require.NoError(t, err)
	require.Equal(t, c.payer, signer.Address())

	w, err := NewEthereumWallet(context.Background(), c.backend.Client(), signer, localNetwork(), opts)
	require.NoError(t, err)
	return w
}

func TestEthereumWallet_Pay(t *testing.T) {
	c := newChain(t, oneEther)
	w := newTestWallet(t, c, Options{})

	proof, err := w.Pay(context.Background(), models.PaymentRequirement{
		Amount:   "0.01",
		Receiver: c.receiver.Hex(),
		Currency: "ETH",
	})
	require.NoError(t, err)
	require.False(t, proof.Empty())
	c.backend.Commit()

	ctx := context.Background()
	got, err := c.backend.Client().BalanceAt(ctx, c.receiver, nil)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", got.String())

	receipt, err := c.backend.Client().TransactionReceipt(ctx, common.HexToHash(proof.TransactionHash))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestEthereumWallet_DefaultCurrency(t *testing.T) {
	c := newChain(t, oneEther)
	w := newTestWallet(t, c, Options{})

	_, err := w.Pay(context.Background(), models.PaymentRequirement{Amount: "0.001", Receiver: c.receiver.Hex()})
	assert.NoError(t, err)
	assert.Equal(t, "ETH", w.NativeCurrency())
	assert.Equal(t, int64(simulatedChainID), w.ChainID().Int64())
}

func TestEthereumWallet_WaitForReceipt(t *testing.T) {
	c := newChain(t, oneEther)
	w := newTestWallet(t, c, Options{WaitForReceipt: true, ReceiptTimeout: 20 * time.Second})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.backend.Commit()
			}
		}
	}()

	proof, err := w.Pay(context.Background(), models.PaymentRequirement{Amount: "0.02", Receiver: c.receiver.Hex()})
	close(stop)
	<-done

	require.NoError(t, err)
	assert.NotEmpty(t, proof.TransactionHash)
}

func TestEthereumWallet_Rejections(t *testing.T) {
	c := newChain(t, oneEther)
	w := newTestWallet(t, c, Options{})
	ctx := context.Background()

	t.Run("unsupported currency", func(t *testing.T) {
		_, err := w.Pay(ctx, models.PaymentRequirement{Amount: "1", Receiver: c.receiver.Hex(), Currency: "USDC"})
		assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	})
	t.Run("invalid receiver", func(t *testing.T) {
		_, err := w.Pay(ctx, models.PaymentRequirement{Amount: "1", Receiver: "0xABC"})
		assert.ErrorIs(t, err, ErrInvalidReceiver)
	})
	t.Run("insufficient funds", func(t *testing.T) {
		_, err := w.Pay(ctx, models.PaymentRequirement{Amount: "5", Receiver: c.receiver.Hex()})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
	t.Run("below one wei", func(t *testing.T) {
		_, err := w.Pay(ctx, models.PaymentRequirement{Amount: "1e-19", Receiver: c.receiver.Hex()})
		assert.ErrorContains(t, err, "below 1 wei")
	})
}

func TestEthereumWallet_ChainMismatch(t *testing.T) {
	c := newChain(t, oneEther)
	signer, err := NewPrivateKeySigningStrategy(c.privateKeyHex())
	require.NoError(t, err)

	network := localNetwork()
	network.ChainID = 1
	_, err = NewEthereumWallet(context.Background(), c.backend.Client(), signer, network, Options{})
	assert.ErrorContains(t, err, "chain ID mismatch")
}

func TestEthereumWallet_ConfiguredGas(t *testing.T) {
	c := newChain(t, oneEther)
	signer, err := NewPrivateKeySigningStrategy(c.privateKeyHex())
	require.NoError(t, err)

	network := localNetwork()
	network.GasPrice = "50000000000"
	network.GasLimit = 30000
	w, err := NewEthereumWallet(context.Background(), c.backend.Client(), signer, network, Options{})
	require.NoError(t, err)

	proof, err := w.Pay(context.Background(), models.PaymentRequirement{Amount: "0.01", Receiver: c.receiver.Hex()})
	require.NoError(t, err)
	c.backend.Commit()

	tx, _, err := c.backend.Client().TransactionByHash(context.Background(), common.HexToHash(proof.TransactionHash))
	require.NoError(t, err)
	assert.Equal(t, "50000000000", tx.GasPrice().String())
	assert.Equal(t, uint64(30000), tx.Gas())
}

type stubOracle struct {
	price *big.Int
	err   error
}

func (s stubOracle) GasPrice(context.Context) (*big.Int, error) { return s.price, s.err }

func TestEthereumWallet_OracleGas(t *testing.T) {
	c := newChain(t, oneEther)
	signer, err := NewPrivateKeySigningStrategy(c.privateKeyHex())
	require.NoError(t, err)

	network := localNetwork()
	network.GasPrice = "oracle"
	w, err := NewEthereumWallet(context.Background(), c.backend.Client(), signer, network, Options{
		GasOracle: stubOracle{price: big.NewInt(60000000000)},
	})
	require.NoError(t, err)
	assert.Equal(t, "60000000000", w.gasPrice(context.Background()).String())

	// a failing tracker falls back to the node's suggestion
	w.oracle = stubOracle{err: assert.AnError}
	suggested, err := c.backend.Client().SuggestGasPrice(context.Background())
	require.NoError(t, err)
	want := new(big.Int).Div(new(big.Int).Mul(suggested, big.NewInt(120)), big.NewInt(100))
	assert.Equal(t, want.String(), w.gasPrice(context.Background()).String())
}

func TestEthereumWallet_KMSSigning(t *testing.T) {
	c := newChain(t, oneEther)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/sign", func(ctx *gin.Context) {
		var req dto.KMSSignRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		hash, err := hex.DecodeString(req.Data)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		sig, err := crypto.Sign(hash, c.key)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		sig[crypto.RecoveryIDOffset] += 27
		ctx.JSON(http.StatusOK, gin.H{"success": true, "signature": "0x" + hex.EncodeToString(sig)})
	})
	r.GET("/api/v1/keys", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"success": true, "count": 1, "keys": []gin.H{
			{"key_alias": "payer", "chain_id": simulatedChainID, "public_address": c.payer.Hex(), "status": "active"},
		}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	network := localNetwork()
	network.KMSEnabled = true
	network.KMSKeyAlias = "payer"

	kms := clients.NewKMSClient(config.KMSConfig{ServiceURL: srv.URL})
	strategy, err := NewKMSSigningStrategy(context.Background(), kms, network)
	require.NoError(t, err)
	assert.Equal(t, c.payer, strategy.Address())
	assert.Equal(t, "KMS", strategy.Name())

	w, err := NewEthereumWallet(context.Background(), c.backend.Client(), strategy, network, Options{})
	require.NoError(t, err)

	proof, err := w.Pay(context.Background(), models.PaymentRequirement{Amount: "0.01", Receiver: c.receiver.Hex()})
	require.NoError(t, err)
	assert.NotEmpty(t, proof.TransactionHash)
}

func TestNewPrivateKeySigningStrategy_Invalid(t *testing.T) {
	_, err := NewPrivateKeySigningStrategy("")
	assert.Error(t, err)
	_, err = NewPrivateKeySigningStrategy("0xnothex")
	assert.Error(t, err)
}

func TestDecodeSignature(t *testing.T) {
	_, err := decodeSignature("0x1234")
	assert.ErrorContains(t, err, "invalid signature length")

	_, err = decodeSignature("zz")
	assert.Error(t, err)
}
