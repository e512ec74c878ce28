package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CallKind 区分交易的用途，决定 gas 上限与回执等待时长。
type CallKind string

const (
	// CallApprove 是 ERC-20 授权交易。
	CallApprove CallKind = "approve"
	// CallSwap 是兑换交易。
	CallSwap CallKind = "swap"
)

// Call 是一笔待提交的合约调用。Data 为已编码的调用数据，Value 为附带
// 的原生币数量（ERC-20 兑换场景恒为零，保留字段以备扩展）。
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Kind  CallKind
}

// Limits 是按调用类型划分的提交参数。gas 上限取固定经验值而不是逐笔
// 估算：估算本身要多一次 RPC，且在授权与兑换这两类形态固定的调用上
// 收益有限，失败时多付的 gas 会按实际用量退回。
type Limits struct {
	ApproveGasLimit uint64
	SwapGasLimit    uint64
	ApproveTimeout  time.Duration
	SwapTimeout     time.Duration
}

// DefaultLimits 返回默认提交参数。
func DefaultLimits() Limits {
	return Limits{
		ApproveGasLimit: 80_000,
		SwapGasLimit:    350_000,
		ApproveTimeout:  30 * time.Second,
		SwapTimeout:     60 * time.Second,
	}
}

// GasLimit 返回调用类型对应的 gas 上限。
func (l Limits) GasLimit(kind CallKind) uint64 {
	if kind == CallApprove {
		return l.ApproveGasLimit
	}
	return l.SwapGasLimit
}

// Timeout 返回调用类型对应的回执等待时长。
func (l Limits) Timeout(kind CallKind) time.Duration {
	if kind == CallApprove {
		return l.ApproveTimeout
	}
	return l.SwapTimeout
}
