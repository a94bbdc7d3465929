package blockchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	receiptPollInterval = 2 * time.Second
	receiptWaitTimeout  = 2 * time.Minute
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 ABI: %v", err))
	}
}

// Signer is the server-side signing capability. The production key lives
// behind it so tests and future vault-backed deployments can swap the
// implementation without touching callers.
type Signer interface {
	// Sign signs a 32-byte digest and returns a 65-byte [R || S || V]
	// signature with the recovery id in its raw 0/1 form.
	Sign(digest []byte) ([]byte, error)
	// Address returns the address derived from the signing key.
	Address() common.Address
}

// LocalSigner signs with an in-process secp256k1 private key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex private key (with or without 0x prefix).
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *LocalSigner) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

// Client wraps the JSON-RPC connection, the chain id and the signer.
// It is shared by every service that talks to the chain.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	signer  Signer
}

// NewClient dials the RPC endpoint.
func NewClient(rpcURL string, chainID int64, signer Signer) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %s: %w", rpcURL, err)
	}

	log.Printf("[Blockchain] Connected to %s (chain %d), signer %s", rpcURL, chainID, signer.Address().Hex())

	return &Client{
		eth:     eth,
		chainID: big.NewInt(chainID),
		signer:  signer,
	}, nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// SignerAddress returns the address of the server signing key.
func (c *Client) SignerAddress() common.Address {
	return c.signer.Address()
}

// SignMessage hashes the packed payload under the Ethereum signed-message
// prefix and signs it. The returned signature has V normalized to 27/28 as
// contracts expect from ecrecover.
func (c *Client) SignMessage(packed []byte) ([]byte, error) {
	hash := crypto.Keccak256(packed)
	prefixed := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))),
		hash,
	)

	sig, err := c.signer.Sign(prefixed)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SendTransaction builds, signs and broadcasts a legacy transaction to the
// given contract with the supplied calldata.
func (c *Client) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	txSigner := types.LatestSignerForChainID(c.chainID)
	sig, err := c.signer.Sign(txSigner.Hash(tx).Bytes())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	signedTx, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to attach signature: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or the timeout hits.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CallContract performs a read-only eth_call.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// ERC20Balance reads balanceOf(holder) on a token contract. Used for
// creator-share holdings, which are authoritative on-chain.
func (c *Client) ERC20Balance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}

	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}
