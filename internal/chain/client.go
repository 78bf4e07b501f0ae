// Package chain wraps the JSON-RPC blockchain node and the deployed reward
// token contract. All mutating calls here cost real gas from the platform
// account; callers must never retry them blindly.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/reward-settler/internal/config"
	"github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
)

// Backend is the subset of the Ethereum RPC client the settlement pipeline
// uses. *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// Client is the long-lived chain client held by the orchestrator. It is
// constructed once; Reconnect replaces the backend after connectivity
// failures instead of re-dialing per operation.
type Client struct {
	cfg     *config.ChainConfig
	logger  *logging.Logger
	limiter *rate.Limiter

	key       *ecdsa.PrivateKey
	adminAddr common.Address
	chainID   *big.Int

	mu           sync.RWMutex
	backend      Backend
	contractAddr common.Address
	contractABI  *abi.ABI // nil while in degraded mode
}

// NewClient dials the configured RPC endpoint, verifies liveness, and binds
// the reward token contract. A missing or unparsable ABI artifact leaves the
// client in degraded mode: submissions fail fast with CONTRACT_UNAVAILABLE
// instead of deep inside a call chain.
func NewClient(cfg *config.ChainConfig) (*Client, error) {
	backend, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithBackend(cfg, backend)
}

// NewClientWithBackend builds a client over an already-connected backend.
func NewClientWithBackend(cfg *config.ChainConfig, backend Backend) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	rps := cfg.RPCRateRPS
	if rps <= 0 {
		rps = 20
	}

	c := &Client{
		cfg:       cfg,
		logger:    logging.GetGlobalLogger().WithField("component", "chain"),
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		key:       key,
		adminAddr: crypto.PubkeyToAddress(key.PublicKey),
		chainID:   big.NewInt(cfg.ChainID),
		backend:   backend,
	}

	if err := c.verifyLiveness(context.Background()); err != nil {
		backend.Close()
		return nil, err
	}

	if err := c.loadContract(); err != nil {
		// Degraded mode: the client stays usable for liveness checks and
		// receipt polling, submissions fail fast.
		c.logger.WithError(err).Warn("Reward token contract not loaded, running degraded")
	}

	return c, nil
}

func dial(cfg *config.ChainConfig) (Backend, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, errors.NewConnectivityError(cfg.RPCURL, err)
	}
	return client, nil
}

// verifyLiveness confirms the node answers and serves the expected chain.
func (c *Client) verifyLiveness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	remote, err := backend.ChainID(ctx)
	if err != nil {
		return errors.NewConnectivityError(c.cfg.RPCURL, err)
	}
	if remote.Cmp(c.chainID) != 0 {
		return errors.NewConnectivityError(c.cfg.RPCURL,
			fmt.Errorf("chain id mismatch: node reports %s, configured %s", remote, c.chainID))
	}
	return nil
}

// loadContract binds the configured contract address and ABI artifact.
func (c *Client) loadContract() error {
	if !IsValidAddress(c.cfg.ContractAddress) {
		return errors.NewContractLoadError(
			fmt.Sprintf("malformed contract address %q", c.cfg.ContractAddress), nil)
	}

	parsed, err := LoadContractABI(c.cfg.ContractABIPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.contractAddr = common.HexToAddress(c.cfg.ContractAddress)
	c.contractABI = parsed
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"contract": c.contractAddr.Hex(),
		"admin":    c.adminAddr.Hex(),
	}).Info("Reward token contract loaded")
	return nil
}

// Reconnect replaces the backend after a connectivity failure.
func (c *Client) Reconnect(ctx context.Context) error {
	backend, err := dial(c.cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.backend
	c.backend = backend
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if err := c.verifyLiveness(ctx); err != nil {
		return err
	}

	if !c.Ready() {
		if err := c.loadContract(); err != nil {
			c.logger.WithError(err).Warn("Reward token contract still not loaded")
		}
	}

	c.logger.Info("Reconnected to chain node")
	return nil
}

// Ready reports whether the contract binding is loaded.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contractABI != nil
}

// AdminAddress returns the platform signing address.
func (c *Client) AdminAddress() string {
	return c.adminAddr.Hex()
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
	}
}

// SubmitBatchMint mints totals to many recipients in a single transaction.
// Recipients must be checksummed-valid addresses and amounts positive
// decimals; amounts are truncated to the token's smallest unit at this
// boundary and nowhere earlier.
//
// The returned hash means broadcast acceptance only, not on-chain success;
// the reconciler learns the real outcome from the receipt later.
func (c *Client) SubmitBatchMint(ctx context.Context, recipients []string, amounts []decimal.Decimal) (string, error) {
	if len(recipients) != len(amounts) {
		return "", errors.NewSubmissionError("batchMint",
			fmt.Errorf("recipients/amounts length mismatch: %d vs %d", len(recipients), len(amounts)))
	}
	if len(recipients) == 0 {
		return "", errors.NewSubmissionError("batchMint", fmt.Errorf("empty batch"))
	}

	addrs := make([]common.Address, len(recipients))
	weiAmounts := make([]*big.Int, len(amounts))
	for i, recipient := range recipients {
		if !common.IsHexAddress(recipient) {
			return "", errors.NewInvalidAddressError(recipient)
		}
		if amounts[i].Sign() <= 0 {
			return "", errors.NewSubmissionError("batchMint",
				fmt.Errorf("non-positive amount %s for %s", amounts[i], recipient))
		}
		addrs[i] = common.HexToAddress(recipient)
		weiAmounts[i] = ToWei(amounts[i])
	}

	tokenABI, err := c.binding()
	if err != nil {
		return "", err
	}

	data, err := tokenABI.Pack("batchMint", addrs, weiAmounts)
	if err != nil {
		return "", errors.NewSubmissionError("batchMint", err)
	}

	gasLimit := c.cfg.GasBase + c.cfg.GasPerRecipient*uint64(len(recipients))
	return c.submit(ctx, "batchMint", data, gasLimit)
}

// TransferOut sends already-minted tokens from the platform account to a
// single recipient. Used by the withdrawal flow; shares the fee selection
// logic of SubmitBatchMint.
func (c *Client) TransferOut(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	checksummed, err := ChecksumAddress(recipient)
	if err != nil {
		return "", err
	}
	if amount.Sign() <= 0 {
		return "", errors.NewSubmissionError("transfer", fmt.Errorf("non-positive amount %s", amount))
	}

	tokenABI, err := c.binding()
	if err != nil {
		return "", err
	}

	data, err := tokenABI.Pack("transfer", common.HexToAddress(checksummed), ToWei(amount))
	if err != nil {
		return "", errors.NewSubmissionError("transfer", err)
	}

	gasLimit := c.cfg.GasBase + c.cfg.GasPerRecipient
	return c.submit(ctx, "transfer", data, gasLimit)
}

// submit signs and broadcasts a contract call. Fire-and-forget: it returns
// the lowercase hash immediately after broadcast without waiting for a
// receipt.
func (c *Client) submit(ctx context.Context, op string, data []byte, gasLimit uint64) (string, error) {
	c.mu.RLock()
	backend := c.backend
	contractAddr := c.contractAddr
	c.mu.RUnlock()

	nonce, err := c.pendingNonce(ctx, backend)
	if err != nil {
		return "", errors.NewSubmissionError(op+" nonce fetch", err)
	}

	header, err := c.latestHeader(ctx, backend)
	if err != nil {
		return "", errors.NewSubmissionError(op+" fee fetch", err)
	}

	tip := big.NewInt(c.cfg.PriorityFeeWei)

	var tx *ethtypes.Transaction
	if header.BaseFee != nil {
		// Fee-market chain: dynamic-fee transaction with a fixed tip over
		// the current base fee.
		tx = ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: new(big.Int).Add(header.BaseFee, tip),
			Gas:       gasLimit,
			To:        &contractAddr,
			Data:      data,
		})
	} else {
		// No base fee exposed: legacy flat gas price.
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: big.NewInt(c.cfg.FallbackGasPriceWei),
			Gas:      gasLimit,
			To:       &contractAddr,
			Data:     data,
		})
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", errors.NewSubmissionError(op+" signing", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.limiter.Wait(callCtx); err != nil {
		return "", errors.NewSubmissionError(op+" broadcast", err)
	}
	if err := backend.SendTransaction(callCtx, signed); err != nil {
		return "", errors.NewSubmissionError(op+" broadcast", err)
	}

	hash := strings.ToLower(signed.Hash().Hex())
	c.logger.WithFields(map[string]interface{}{
		"op":     op,
		"txHash": hash,
		"nonce":  nonce,
		"gas":    gasLimit,
	}).Info("Transaction broadcast")

	return hash, nil
}

// BalanceOf reads the contract's balance view for an address. A query
// failure is returned as an error, never conflated with a zero balance.
func (c *Client) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	checksummed, err := ChecksumAddress(address)
	if err != nil {
		return decimal.Zero, err
	}

	tokenABI, err := c.binding()
	if err != nil {
		return decimal.Zero, err
	}

	data, err := tokenABI.Pack("balanceOf", common.HexToAddress(checksummed))
	if err != nil {
		return decimal.Zero, errors.NewBalanceQueryError(checksummed, err)
	}

	c.mu.RLock()
	backend := c.backend
	contractAddr := c.contractAddr
	c.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.limiter.Wait(callCtx); err != nil {
		return decimal.Zero, errors.NewBalanceQueryError(checksummed, err)
	}

	out, err := backend.CallContract(callCtx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return decimal.Zero, errors.NewBalanceQueryError(checksummed, err)
	}

	results, err := tokenABI.Unpack("balanceOf", out)
	if err != nil || len(results) == 0 {
		return decimal.Zero, errors.NewBalanceQueryError(checksummed, err)
	}
	raw, ok := results[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.NewBalanceQueryError(checksummed,
			fmt.Errorf("unexpected balanceOf return type %T", results[0]))
	}

	return FromWei(raw), nil
}

// Receipt fetches the receipt for a broadcast transaction. A transaction
// that is not yet mined returns (nil, nil).
func (c *Client) Receipt(ctx context.Context, txHash string) (*ethtypes.Receipt, error) {
	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.limiter.Wait(callCtx); err != nil {
		return nil, errors.NewConnectivityError(c.cfg.RPCURL, err)
	}

	receipt, err := backend.TransactionReceipt(callCtx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, errors.NewConnectivityError(c.cfg.RPCURL, err)
	}
	return receipt, nil
}

func (c *Client) binding() (*abi.ABI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.contractABI == nil {
		return nil, errors.NewContractUnavailableError()
	}
	return c.contractABI, nil
}

func (c *Client) pendingNonce(ctx context.Context, backend Backend) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.limiter.Wait(callCtx); err != nil {
		return 0, err
	}
	return backend.PendingNonceAt(callCtx, c.adminAddr)
}

func (c *Client) latestHeader(ctx context.Context, backend Backend) (*ethtypes.Header, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()
	if err := c.limiter.Wait(callCtx); err != nil {
		return nil, err
	}
	return backend.HeaderByNumber(callCtx, nil)
}
