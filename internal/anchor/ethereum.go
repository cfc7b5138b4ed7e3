package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
)

// defaultEthereumGasLimit is the fallback gas limit used when EstimateGas
// itself cannot be reached (§4.7 Ethereum rules).
const defaultEthereumGasLimit = 50000

// EthereumClient anchors batch roots as calldata on a zero-value
// self-transaction, the way certenIO-certen-validator's EVMStrategy commits
// to its own chain, minus the placeholder contract-binding calls that
// repo's CreateAnchor/SubmitProof never actually implement.
type EthereumClient struct {
	rpcURL        string
	privateKeyHex string

	mu      sync.Mutex
	client  *ethclient.Client
	chainID *big.Int
}

// NewEthereumClient targets rpcURL with the account derived from
// privateKeyHex. Neither is dialed nor parsed here: an enabled-but-
// misconfigured chain (bad key, unreachable RPC) must still construct a
// ChainClient so the engine runs it and every anchor attempt surfaces a
// classified AnchorFailed through the normal per-chain/retry path, rather
// than the chain silently never anchoring at all (spec.md §8 boundary
// behavior "Anchoring with no private key configured").
func NewEthereumClient(ctx context.Context, rpcURL, privateKeyHex string) (*EthereumClient, error) {
	return &EthereumClient{rpcURL: rpcURL, privateKeyHex: privateKeyHex}, nil
}

func (c *EthereumClient) Chain() model.Chain { return model.ChainEthereum }

// ensureClient dials rpcURL and fetches its chain ID on first use, caching
// the result; a failed dial is retried on the next call rather than
// poisoning the client permanently.
func (c *EthereumClient) ensureClient(ctx context.Context) (*ethclient.Client, *big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, c.chainID, nil
	}

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ethereum: dial %s: %w", c.rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ethereum: fetch chain id: %w", err)
	}

	c.client = client
	c.chainID = chainID
	return client, chainID, nil
}

// signingAccount parses privateKeyHex and derives its sending address,
// deferred out of NewEthereumClient for the reason documented there.
func (c *EthereumClient) signingAccount() (*ecdsa.PrivateKey, common.Address, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(c.privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("ethereum: parse private key: %w", err)
	}
	return privateKey, crypto.PubkeyToAddress(privateKey.PublicKey), nil
}

// Broadcast sends a zero-value transaction to the configured address
// carrying root as calldata, using EIP-1559 fee fields and a 20%-buffered
// gas estimate — the same buffer rule as EVMStrategy.EstimateGas
// (gas * 120 / 100).
func (c *EthereumClient) Broadcast(ctx context.Context, root [32]byte) (string, error) {
	client, chainID, err := c.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	privateKey, address, err := c.signingAccount()
	if err != nil {
		return "", err
	}

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return "", fmt.Errorf("ethereum: fetch nonce: %w", err)
	}

	gasTipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		gasTipCap = big.NewInt(1_500_000_000) // 1.5 gwei fallback
	}
	head, err := client.HeaderByNumber(ctx, nil)
	var gasFeeCap *big.Int
	if err != nil || head.BaseFee == nil {
		gasFeeCap = new(big.Int).Mul(gasTipCap, big.NewInt(2))
	} else {
		gasFeeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), gasTipCap)
	}

	data := root[:]
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: address,
		To:   &address,
		Data: data,
	})
	if err != nil {
		gasLimit = defaultEthereumGasLimit
	} else {
		gasLimit = gasLimit * 120 / 100
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &address,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return "", fmt.Errorf("ethereum: sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		reason, _ := c.ClassifyError(err)
		if reason != "rpc-unreachable" {
			return "", fmt.Errorf("ethereum: send transaction: %w", err)
		}
		// Primary RPC unreachable: fall back to a public provider for this
		// chain (§4.7 step 4 "on failure fall back to a public explorer API").
		if fallbackErr := c.sendViaFallback(ctx, chainID, signedTx); fallbackErr != nil {
			return "", fmt.Errorf("ethereum: send transaction: primary rpc unreachable (%v), fallback failed: %w", err, fallbackErr)
		}
	}

	return signedTx.Hash().Hex(), nil
}

// sendViaFallback submits signedTx through a public RPC provider for
// chainID, used only when the configured primary RPC endpoint is
// unreachable.
func (c *EthereumClient) sendViaFallback(ctx context.Context, chainID *big.Int, signedTx *types.Transaction) error {
	url := publicFallbackRPC(chainID)
	if url == "" {
		return fmt.Errorf("ethereum: no public fallback rpc known for chain id %s", chainID)
	}
	fallback, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("ethereum: dial fallback rpc: %w", err)
	}
	defer fallback.Close()
	return fallback.SendTransaction(ctx, signedTx)
}

// publicFallbackRPC returns a public JSON-RPC provider URL for the given
// chain ID, or "" if none is known.
func publicFallbackRPC(chainID *big.Int) string {
	switch chainID.Int64() {
	case 1:
		return "https://ethereum-rpc.publicnode.com"
	case 11155111:
		return "https://ethereum-sepolia-rpc.publicnode.com"
	case 17000:
		return "https://ethereum-holesky-rpc.publicnode.com"
	default:
		return ""
	}
}

// Confirmations polls for a transaction receipt the way
// EVMStrategy.GetTransactionReceipt/GetCurrentBlock do, reporting the block
// the transaction landed in once mined.
func (c *EthereumClient) Confirmations(ctx context.Context, txHash string) (*uint64, bool, error) {
	client, _, err := c.ensureClient(ctx)
	if err != nil {
		return nil, false, err
	}
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	blockNumber := receipt.BlockNumber.Uint64()
	return &blockNumber, true, nil
}

func (c *EthereumClient) ClassifyError(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return "insufficient-funds", "fund the configured Ethereum address and retry"
	case strings.Contains(msg, "invalid private key") || strings.Contains(msg, "invalid hex") || strings.Contains(msg, "parse private key"):
		return "invalid-key", "check ETHEREUM_PRIVATE_KEY is a valid hex-encoded secp256k1 key"
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "eof") ||
		strings.Contains(msg, "dial") || strings.Contains(msg, "fetch chain id"):
		return "rpc-unreachable", "check ETHEREUM_RPC_URL and node connectivity"
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced") || strings.Contains(msg, "underpriced"):
		return "rejected-by-network", "the network rejected the transaction; it will be retried with a fresh nonce"
	default:
		return "unknown", "see the wrapped error for detail"
	}
}
