package engine

import (
	"context"
	"math/big"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderSource 是 FeeStrategy 需要的最小链访问能力。
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// FeeQuote 是一次 EIP-1559 费用报价。三个字段均为 wei。
type FeeQuote struct {
	BaseFee              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// FeeStrategy 根据最新区块的基础费计算动态费用交易的上限参数：
// 费用上限取基础费的两倍，给下一个区块的基础费上涨留出余量；小费取
// 固定下限与基础费十分之一的较大者。所有交易都走这一条路径，不做
// 传统 gasPrice 交易。
type FeeStrategy struct {
	source      HeaderSource
	minPriority *big.Int
}

// NewFeeStrategy 构造费用策略。minPriorityWei 是小费下限，传零则使用
// 默认值 50 wei。
func NewFeeStrategy(source HeaderSource, minPriorityWei int64) *FeeStrategy {
	if minPriorityWei <= 0 {
		minPriorityWei = 50
	}
	return &FeeStrategy{
		source:      source,
		minPriority: big.NewInt(minPriorityWei),
	}
}

// Quote 读取最新区块头并计算费用参数。链不支持 EIP-1559（区块头无
// 基础费字段）视为配置错误。
func (f *FeeStrategy) Quote(ctx context.Context) (*FeeQuote, error) {
	header, err := f.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeFeeFailure, err, "读取最新区块头失败")
	}
	if header.BaseFee == nil {
		return nil, xerrors.New(CodeFeeFailure, "链不支持 EIP-1559 动态费用")
	}
	return f.quoteFromBase(header.BaseFee), nil
}

func (f *FeeStrategy) quoteFromBase(baseFee *big.Int) *FeeQuote {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	tip := new(big.Int).Div(baseFee, big.NewInt(10))
	if tip.Cmp(f.minPriority) < 0 {
		tip = new(big.Int).Set(f.minPriority)
	}
	// 极端情况下（基础费低于小费下限的一半）保证 maxFee >= tip，
	// 否则节点会直接拒绝交易。
	if maxFee.Cmp(tip) < 0 {
		maxFee = new(big.Int).Set(tip)
	}
	return &FeeQuote{
		BaseFee:              new(big.Int).Set(baseFee),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}
}
