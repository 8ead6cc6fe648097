package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"emcp-client/internal/clients"
	"emcp-client/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ===== Signing strategies =====

// SigningStrategy signs transaction hashes for the payer account
type SigningStrategy interface {
	Sign(ctx context.Context, txHash []byte) ([]byte, error)
	Address() common.Address
	Name() string
}

// PrivateKeySigningStrategy signs with a locally held key
type PrivateKeySigningStrategy struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigningStrategy parses a hex private key, with or without 0x
func NewPrivateKeySigningStrategy(privateKeyHex string) (*PrivateKeySigningStrategy, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigningStrategy{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *PrivateKeySigningStrategy) Sign(_ context.Context, txHash []byte) ([]byte, error) {
	return crypto.Sign(txHash, s.key)
}

func (s *PrivateKeySigningStrategy) Address() common.Address {
	return s.address
}

func (s *PrivateKeySigningStrategy) Name() string {
	return "PrivateKey"
}

// KMSSigningStrategy delegates signing to the remote KMS
type KMSSigningStrategy struct {
	kms      *clients.KMSClient
	keyAlias string
	chainID  int
	address  common.Address
}

// NewKMSSigningStrategy resolves the payer address from config or from the KMS key listing
func NewKMSSigningStrategy(ctx context.Context, kms *clients.KMSClient, network *config.NetworkConfig) (*KMSSigningStrategy, error) {
	if network.KMSKeyAlias == "" {
		return nil, fmt.Errorf("network %s has no KMS key alias", network.Name)
	}

	s := &KMSSigningStrategy{kms: kms, keyAlias: network.KMSKeyAlias, chainID: network.ChainID}
	if common.IsHexAddress(network.KMSAddress) {
		s.address = common.HexToAddress(network.KMSAddress)
		return s, nil
	}

	key, err := kms.GetKeyByAlias(ctx, network.KMSKeyAlias, network.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve KMS address: %w", err)
	}
	if !common.IsHexAddress(key.PublicAddress) {
		return nil, fmt.Errorf("KMS returned invalid address %q", key.PublicAddress)
	}
	s.address = common.HexToAddress(key.PublicAddress)
	return s, nil
}

func (s *KMSSigningStrategy) Sign(ctx context.Context, txHash []byte) ([]byte, error) {
	resp, err := s.kms.SignHash(ctx, s.keyAlias, s.chainID, hex.EncodeToString(txHash))
	if err != nil {
		return nil, err
	}
	return decodeSignature(resp.Signature)
}

func (s *KMSSigningStrategy) Address() common.Address {
	return s.address
}

func (s *KMSSigningStrategy) Name() string {
	return "KMS"
}

// decodeSignature decodes a 65-byte [R || S || V] hex signature and normalizes V to 0/1
func decodeSignature(sigHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	return sig, nil
}
