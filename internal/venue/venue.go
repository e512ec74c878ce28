// Package venue 实现各交易场所的询价与兑换调用编码。每个适配器只关心
// 自己的路由合约 ABI，交易提交、授权、nonce 等共性逻辑由 engine 包承担。
package venue

import (
	"context"
	"math/big"

	"github.com/atomic-235/dex/internal/engine"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter 是单个交易场所的统一接口。实现必须可并发调用：路由会对多个
// 场所同时询价。
type Adapter interface {
	// Name 返回场所的稳定标识，用于日志、订单记录与报价归属。
	Name() string

	// Router 返回场所的路由合约地址，即兑换前需要授权的 spender。
	Router() common.Address

	// Quote 返回用 amountIn 个 tokenIn 能换到的 tokenOut 数量。没有
	// 可用流动性时返回错误。
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)

	// BuildSwapCall 编码一笔兑换调用。minAmountOut 是链上强制执行的
	// 最少到账数量，deadline 是区块时间戳上限。
	BuildSwapCall(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, recipient common.Address, deadline *big.Int) (engine.Call, error)
}
