package order

import (
	"context"
	"log/slog"
	"time"

	"github.com/atomic-235/dex/internal/engine"
	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RecoveryHandler 定义了在订单执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿。
	// 返回的 SwapRecord 将作为补偿结果写入订单；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, ord *Order, cause error) (*SwapRecord, error)
}

// ReceiptSource 是回执追踪所需的最小链访问能力。
type ReceiptSource interface {
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// ReceiptFollower 处理超时未确认的兑换交易。交易超时不等于失败：
// nonce 已被消耗，交易随时可能上链，重发会造成重复兑换。追踪器拿
// 失败错误里携带的交易哈希延长等待，若随后确认成功则把结果补写回
// 订单，避免把一笔实际成交的兑换标记为失败。
type ReceiptFollower struct {
	chain   ReceiptSource
	timeout time.Duration
	log     *slog.Logger
}

// NewReceiptFollower 构造追踪器。timeout 是延长等待的时长，传零使用
// 默认值 5 分钟。
func NewReceiptFollower(chain ReceiptSource, timeout time.Duration) *ReceiptFollower {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ReceiptFollower{
		chain:   chain,
		timeout: timeout,
		log:     logger.Named("receipt-follower"),
	}
}

// Recover 实现 RecoveryHandler。只处理超时未确认的交易，其他失败
// 原因一律交回失败流程。
func (f *ReceiptFollower) Recover(ctx context.Context, ord *Order, cause error) (*SwapRecord, error) {
	if xerrors.CodeOf(cause) != engine.CodeTxUnconfirmed {
		return nil, nil
	}
	xerr, ok := xerrors.From(cause)
	if !ok {
		return nil, nil
	}
	hashHex := xerr.Metadata()["tx_hash"]
	if hashHex == "" {
		return nil, nil
	}
	hash := common.HexToHash(hashHex)

	f.log.Info("延长等待未确认交易",
		slog.String("order_id", ord.ID),
		slog.String("tx_hash", hashHex),
	)
	receipt, err := f.chain.WaitForReceipt(ctx, hash, f.timeout)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeTimeout {
			// 仍未确认，交回失败流程；交易哈希已记录在订单错误里。
			f.log.Warn("延长等待后交易仍未确认",
				slog.String("order_id", ord.ID),
				slog.String("tx_hash", hashHex),
			)
			return nil, nil
		}
		return nil, xerrors.Wrap(CodeOrderFollowup, err, "追踪交易回执失败")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, xerrors.New(engine.CodeTxReverted, "交易延迟确认后执行回滚",
			xerrors.WithMetadata("tx_hash", hashHex))
	}

	record := &SwapRecord{
		TxHash:  hash.Hex(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		record.BlockNumber = receipt.BlockNumber.Uint64()
	}
	f.log.Info("未确认交易已延迟确认",
		slog.String("order_id", ord.ID),
		slog.String("tx_hash", hashHex),
		slog.Uint64("block", record.BlockNumber),
	)
	return record, nil
}

var _ RecoveryHandler = (*ReceiptFollower)(nil)
