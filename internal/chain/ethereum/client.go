package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM client.
type Config struct {
	Name        string
	RPCURL      string
	Notes       string
	MaxAttempts int
	RetryBase   time.Duration
	PollEvery   time.Duration
}

// Client implements the chain.Connector interface for EVM chains. Transient
// RPC failures are retried with exponential backoff before being surfaced
// as RPC_FAILURE errors.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	maxAttempts int
	retryBase   time.Duration
	pollEvery   time.Duration
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	pollEvery := cfg.PollEvery
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		eth:         ethclient.NewClient(rpcClient),
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		pollEvery:   pollEvery,
	}, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// withRetry runs fn up to maxAttempts times with exponential backoff. It
// never retries past a cancelled context.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	backoff := c.retryBase
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return xerrors.Wrap(xerrors.CodeRPCFailure, lastErr, fmt.Sprintf("%s 调用失败", op),
		xerrors.WithMetadata("chain", c.name))
}

// ChainID returns the chain identifier of the connected node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.withRetry(ctx, "eth_chainId", func() error {
		var err error
		id, err = c.eth.ChainID(ctx)
		return err
	})
	return id, err
}

// PendingNonceAt returns the account nonce including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, "eth_getTransactionCount(pending)", func() error {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// NonceAt returns the account nonce at the given block.
func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, "eth_getTransactionCount(latest)", func() error {
		var err error
		nonce, err = c.eth.NonceAt(ctx, account, blockNumber)
		return err
	})
	return nonce, err
}

// HeaderByNumber returns the requested block header.
func (c *Client) HeaderByNumber(ctx context.Context, blockNumber *big.Int) (*coretypes.Header, error) {
	var header *coretypes.Header
	err := c.withRetry(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, blockNumber)
		return err
	})
	return header, err
}

// BlockNumber returns the most recent block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.withRetry(ctx, "eth_blockNumber", func() error {
		var err error
		number, err = c.eth.BlockNumber(ctx)
		return err
	})
	return number, err
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, "eth_call", func() error {
		var err error
		out, err = c.eth.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// SendTransaction broadcasts a signed transaction. Broadcasts are not
// retried: a nonce has already been committed to the payload and a blind
// resend can race its own first attempt.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "广播交易失败",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	return nil
}

// WaitForReceipt polls for the transaction receipt until it appears or the
// timeout elapses.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*coretypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待交易回执超时",
					xerrors.WithMetadata("tx_hash", txHash.Hex()))
			}
			// 节点瞬时错误不终止轮询，留给超时兜底。
		}
		select {
		case <-waitCtx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(), "等待交易回执超时",
				xerrors.WithMetadata("tx_hash", txHash.Hex()))
		case <-ticker.C:
		}
	}
}
