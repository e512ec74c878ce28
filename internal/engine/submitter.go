package engine

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Broadcaster 是 TransactionSubmitter 需要的最小链访问能力。
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Result 是一笔已确认交易的结果。
type Result struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
}

// BroadcastHook 在交易成功广播之后、回执确认之前被调用。调用方可以
// 借此在等待回执期间记录在途交易的哈希。
type BroadcastHook func(kind CallKind, tx *types.Transaction)

// TransactionSubmitter 负责把一个 Call 变成已确认的链上交易：分配
// nonce、取费用报价、组装动态费用交易、签名、广播、等待回执并按状态
// 分类结果。它是全部写链路径的唯一出口。
type TransactionSubmitter struct {
	chain   Broadcaster
	nonces  *NonceAllocator
	fees    *FeeStrategy
	signer  Signer
	chainID *big.Int
	limits  Limits
	hook    BroadcastHook
	log     *slog.Logger
}

// SubmitterOption 定义可选配置。
type SubmitterOption func(*TransactionSubmitter)

// WithBroadcastHook 注册广播回调。
func WithBroadcastHook(hook BroadcastHook) SubmitterOption {
	return func(s *TransactionSubmitter) {
		s.hook = hook
	}
}

// WithLimits 覆盖默认的 gas 上限与回执超时。
func WithLimits(limits Limits) SubmitterOption {
	return func(s *TransactionSubmitter) {
		s.limits = limits
	}
}

// NewTransactionSubmitter 构造提交器。
func NewTransactionSubmitter(chain Broadcaster, nonces *NonceAllocator, fees *FeeStrategy, signer Signer, chainID *big.Int, opts ...SubmitterOption) *TransactionSubmitter {
	s := &TransactionSubmitter{
		chain:   chain,
		nonces:  nonces,
		fees:    fees,
		signer:  signer,
		chainID: chainID,
		limits:  DefaultLimits(),
		log:     logger.Named("submitter"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 提交一笔调用并等待其确认。
//
// 三种结局必须严格区分：回执状态为 1 返回成功结果；状态为 0 返回
// TX_REVERTED（nonce 已消耗，gas 已扣）；超时未见回执返回
// TX_UNCONFIRMED —— 此时交易可能仍会上链，nonce 已被占用，调用方
// 绝不能原样重发，只能拿哈希继续轮询。
func (s *TransactionSubmitter) Submit(ctx context.Context, call Call, hooks ...BroadcastHook) (*Result, error) {
	nonce, err := s.nonces.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	quote, err := s.fees.Quote(ctx)
	if err != nil {
		return nil, err
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: quote.MaxPriorityFeePerGas,
		GasFeeCap: quote.MaxFeePerGas,
		Gas:       s.limits.GasLimit(call.Kind),
		To:        &call.To,
		Value:     value,
		Data:      call.Data,
	})
	signed, err := s.signer.SignTx(tx, s.chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "签名交易失败")
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "广播交易失败",
			xerrors.WithMetadata("nonce", strconv.FormatUint(nonce, 10)),
			xerrors.WithMetadata("kind", string(call.Kind)))
	}

	hash := signed.Hash()
	s.log.Info("交易已广播",
		slog.String("hash", hash.Hex()),
		slog.String("kind", string(call.Kind)),
		slog.Uint64("nonce", nonce),
		slog.String("max_fee", quote.MaxFeePerGas.String()),
		slog.String("tip", quote.MaxPriorityFeePerGas.String()),
	)
	if s.hook != nil {
		s.hook(call.Kind, signed)
	}
	for _, hook := range hooks {
		if hook != nil {
			hook(call.Kind, signed)
		}
	}

	receipt, err := s.chain.WaitForReceipt(ctx, hash, s.limits.Timeout(call.Kind))
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeTimeout {
			return nil, xerrors.Wrap(CodeTxUnconfirmed, err, "交易在超时时间内未确认",
				xerrors.WithMetadata("tx_hash", hash.Hex()),
				xerrors.WithMetadata("nonce", strconv.FormatUint(nonce, 10)))
		}
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "等待交易回执失败",
			xerrors.WithMetadata("hash", hash.Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, xerrors.New(CodeTxReverted, "交易执行回滚",
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("gas_used", strconv.FormatUint(receipt.GasUsed, 10)))
	}

	result := &Result{
		TxHash:  hash,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	s.log.Info("交易已确认",
		slog.String("hash", hash.Hex()),
		slog.Uint64("gas_used", result.GasUsed),
		slog.Uint64("block", result.BlockNumber),
	)
	return result, nil
}
